package scrapers

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	whitespacePattern  = regexp.MustCompile(`\s+`)
	spaceCommaPattern  = regexp.MustCompile(`\s+,`)
	repeatCommaPattern = regexp.MustCompile(`,(\s*,)+`)
)

// NormalizeAddress collapses whitespace and repairs doubled commas left behind
// by empty address parts ("100 Main St, , Austin" -> "100 Main St, Austin").
func NormalizeAddress(address string) string {
	s := whitespacePattern.ReplaceAllString(strings.TrimSpace(address), " ")
	s = spaceCommaPattern.ReplaceAllString(s, ",")
	s = repeatCommaPattern.ReplaceAllString(s, ",")
	s = strings.Trim(s, ", ")
	return s
}

// dateLayouts are tried in order for string dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate interprets v as a timestamp. Numbers are epoch seconds, or epoch
// milliseconds when large enough (ArcGIS date fields). Strings may be numeric
// or use any of the common layouts.
func ParseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case float64:
		return fromEpoch(t)
	case int64:
		return fromEpoch(float64(t))
	case int:
		return fromEpoch(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// ParseDateOr is ParseDate with a fallback for unparseable input. It never fails.
func ParseDateOr(v any, fallback time.Time) time.Time {
	if t, ok := ParseDate(v); ok {
		return t
	}
	return fallback
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// stringField reads a record attribute as text. Missing fields yield "".
func stringField(attrs map[string]any, field string) string {
	if field == "" {
		return ""
	}
	switch v := attrs[field].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// numberField reads a record attribute as a number, accepting numeric strings
// with currency formatting ("$1,250,000").
func numberField(attrs map[string]any, field string) float64 {
	if field == "" {
		return 0
	}
	switch v := attrs[field].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(v)
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
