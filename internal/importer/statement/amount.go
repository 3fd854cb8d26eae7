package statement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// currencyPrefixes are markers some exports put in front of the number.
var currencyPrefixes = []string{"INR", "RS.", "RS"}

// parseAmount reads a statement amount regardless of the grouping convention.
// Indian exports write "1,23,456.78", European-style tools write "1.234,56" and
// plain exports write "1234.56". When both separators appear, the last one is
// the decimal point. A single separator followed by exactly three digits is
// treated as a grouping separator.
func parseAmount(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "₹")

	upper := strings.ToUpper(clean)
	for _, prefix := range currencyPrefixes {
		if strings.HasPrefix(upper, prefix) {
			clean = clean[len(prefix):]
			break
		}
	}
	clean = strings.ReplaceAll(clean, " ", "")

	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	dot := strings.LastIndex(clean, ".")
	comma := strings.LastIndex(clean, ",")

	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		}
	case comma >= 0:
		if strings.Count(clean, ",") == 1 && len(clean)-comma-1 != 3 {
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case dot >= 0:
		if strings.Count(clean, ".") > 1 || len(clean)-dot-1 == 3 {
			clean = strings.ReplaceAll(clean, ".", "")
		}
	}

	amount, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}

	return amount, nil
}
