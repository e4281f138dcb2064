package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a model reply carries no parseable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

// thinkTagPattern matches reasoning blocks some models emit before the answer.
var thinkTagPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// codeFencePattern matches a markdown code fence, optionally tagged json.
var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON returns the first JSON object or array in a model reply.
// Reasoning blocks, markdown fences and surrounding prose are skipped.
func ExtractJSON(response string) (string, error) {
	text := thinkTagPattern.ReplaceAllString(response, "")

	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		if body := strings.TrimSpace(m[1]); json.Valid([]byte(body)) {
			return body, nil
		}
	}

	for offset := 0; offset < len(text); {
		rel := strings.IndexAny(text[offset:], "{[")
		if rel < 0 {
			break
		}
		start := offset + rel
		if end := closingIndex(text, start); end > start {
			if candidate := text[start : end+1]; json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		offset = start + 1
	}

	return "", ErrNoJSON
}

// closingIndex returns the index of the bracket that closes the one at start,
// or -1 when the brackets never balance. Brackets inside strings are ignored.
func closingIndex(s string, start int) int {
	var want []byte
	inString, escaped := false, false

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			want = append(want, '}')
		case c == '[':
			want = append(want, ']')
		case c == '}' || c == ']':
			if len(want) == 0 || want[len(want)-1] != c {
				return -1
			}
			want = want[:len(want)-1]
			if len(want) == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSONResponse extracts JSON from a model reply and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	raw, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
