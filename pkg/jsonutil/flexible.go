// Package jsonutil reads loosely typed values out of model-generated JSON.
package jsonutil

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// LLMs return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return strconv.FormatFloat(numVal, 'f', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// FlexibleFloatValue reads a number that may arrive as a JSON number, a numeric
// string or a percentage string ("85%" -> 0.85). ok is false when no number is present.
func FlexibleFloatValue(raw json.RawMessage) (value float64, ok bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	if err := json.Unmarshal(raw, &value); err == nil {
		return value, true
	}

	s := strings.TrimSpace(FlexibleStringValue(raw))
	if pct, found := strings.CutSuffix(s, "%"); found {
		f, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, false
		}
		return f / 100, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FlexibleStringList reads a list of strings. A single string becomes a
// one-element list; non-string elements are converted with FlexibleStringValue.
// Empty entries are dropped.
func FlexibleStringList(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := strings.TrimSpace(FlexibleStringValue(raw)); s != "" {
			return []string{s}
		}
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(FlexibleStringValue(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
