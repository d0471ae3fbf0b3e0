package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"synthpanel/internal/services"
)

type fixedCounter int

func (c fixedCounter) TargetCount() int { return int(c) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		targets    int
		wantStatus int
	}{
		{"ready", 3, http.StatusOK},
		{"no targets", 0, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(services.NewHealthService("test", t.TempDir(), fixedCounter(tt.targets), nil), nil)

			rec := httptest.NewRecorder()
			h.ReadinessCheck(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			rec = httptest.NewRecorder()
			h.LivenessCheck(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), `"alive"`)
		})
	}
}
