package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// symbolPattern finds a currency symbol, or a literal \uXXXX escape standing
// in for one, directly before a number.
var symbolPattern = regexp.MustCompile(`([€£$¥₹]|\\u[0-9a-fA-F]{4})\s*-?[0-9]`)

var numberPattern = regexp.MustCompile(`-?[0-9][0-9,]*(?:\.[0-9]+)?`)

// dateFormats to try when the service returns a date only as text.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006", // DD/MM/YYYY
	"2/1/2006",   // D/M/YYYY
	"02-01-2006",
	"02.01.2006",
	"Jan 02 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"January 2 2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02/01/06", // DD/MM/YY
	"2/1/06",
	time.RFC3339,
}

// CurrencySymbol returns the symbol immediately preceding the first number in
// text, or "" when there is none.
func CurrencySymbol(text string) string {
	m := symbolPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// FormatAmount renders the canonical amount text: symbol then number.
func FormatAmount(symbol string, amount float64) string {
	return symbol + strconv.FormatFloat(amount, 'f', -1, 64)
}

// normalizeAmount reads a monetary field. The number comes from the typed
// value when present; the symbol always comes from the field's source text.
func normalizeAmount(f *DocumentField) string {
	if f == nil {
		return ""
	}

	var amount float64
	switch {
	case f.ValueCurrency != nil:
		amount = f.ValueCurrency.Amount
	case f.ValueNumber != nil:
		amount = *f.ValueNumber
	default:
		n, ok := parseNumber(f.Content)
		if !ok {
			return ""
		}
		amount = n
	}
	return FormatAmount(CurrencySymbol(f.Content), amount)
}

func parseNumber(text string) (float64, bool) {
	s := numberPattern.FindString(text)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// normalizeDate returns the field as YYYY-MM-DD, or "" if it cannot be read.
func normalizeDate(f *DocumentField) string {
	if f == nil {
		return ""
	}
	if f.ValueDate != "" {
		if t, err := time.Parse("2006-01-02", f.ValueDate); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return formatDate(parseFlexibleDate(f.Content))
}

// parseFlexibleDate tries multiple date formats and returns the parsed time.
func parseFlexibleDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// formatDate formats a time as YYYY-MM-DD, or returns empty string for zero time.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func normalizeText(f *DocumentField) string {
	if f == nil {
		return ""
	}
	if v := strings.TrimSpace(f.ValueString); v != "" {
		return v
	}
	return strings.TrimSpace(f.Content)
}
