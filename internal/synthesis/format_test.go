package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{35800.4, "$35,800"},
		{45229.5, "$45,230"},
		{999, "$999"},
		{0, "$0"},
		{1234567.49, "$1,234,567"},
		{-1200, "-$1,200"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCurrency(tt.value))
		})
	}
}

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"$35,800", 35800},
		{" $1,234,567 ", 1234567},
		{"52000.25", 52000.25},
		{"-$1,200", -1200},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCurrency(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "$", "abc", "$12x"} {
		_, err := ParseCurrency(bad)
		assert.Error(t, err, bad)
	}
}
