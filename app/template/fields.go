package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var currencyTokens = map[string]string{
	"₡":   "CRC",
	"crc": "CRC",
	"$":   "USD",
	"usd": "USD",
	"us$": "USD",
	"€":   "EUR",
	"eur": "EUR",
}

// ParseAmount normalizes a raw captured amount ("₡ 12.500,00", "USD 1,234.56")
// into a float and a currency code. Defaults to CRC when no currency token
// is present.
func ParseAmount(raw string) (float64, string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	currency := "CRC"

	for token, code := range currencyTokens {
		if strings.Contains(cleaned, token) {
			currency = code
			cleaned = strings.ReplaceAll(cleaned, token, "")
		}
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, " ", "")

	cleaned = normalizeSeparators(cleaned)
	if cleaned == "" {
		return 0, "", fmt.Errorf("empty amount")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, "", err
	}
	if value < 0 {
		value = -value
	}

	return value, currency, nil
}

// normalizeSeparators handles both 1,234.56 and 1.234,56 styles: whichever
// separator appears last is treated as the decimal point.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// A lone comma followed by exactly two digits is a decimal mark,
		// anything else is a thousands separator.
		if len(s)-lastComma-1 == 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	return s
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006",
	"01/02/2006",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// ParseDate tries the common bank email date formats in order.
func ParseDate(raw string) (time.Time, error) {
	cleaned := strings.TrimSpace(raw)

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, cleaned); err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", raw)
}
