package synthesis

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatCurrency renders v as a whole-dollar amount with thousands
// separators, e.g. 35800.4 -> "$35,800". Negative amounts keep their sign
// ahead of the dollar sign.
func FormatCurrency(v float64) string {
	p := message.NewPrinter(language.AmericanEnglish)
	rounded := int64(math.Round(v))
	if rounded < 0 {
		return p.Sprintf("-$%d", -rounded)
	}
	return p.Sprintf("$%d", rounded)
}

// ParseCurrency accepts both formatted amounts ("$35,800") and plain numbers
func ParseCurrency(s string) (float64, error) {
	clean := strings.TrimSpace(s)
	negative := strings.HasPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, "-")
	clean = strings.TrimPrefix(clean, "$")
	clean = strings.ReplaceAll(clean, ",", "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return 0, fmt.Errorf("parse currency %q: empty amount", s)
	}

	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("parse currency %q: %w", s, err)
	}
	if negative {
		v = -v
	}
	return v, nil
}
