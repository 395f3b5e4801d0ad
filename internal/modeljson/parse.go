// Package modeljson recovers JSON objects from generative model output that
// was asked to be pure JSON but may carry code fences or surrounding prose.
package modeljson

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/iago/gasometria-back/internal/domain"
)

const snippetBytes = 200

// Parse returns the first JSON object it can recover from raw.
func Parse(raw string) (map[string]any, error) {
	text := StripCodeFence(raw)
	if text == "" {
		return nil, &domain.MalformedResponseError{Snippet: ""}
	}

	if object, ok := decodeObject(text); ok {
		return object, nil
	}
	if span, found := FirstBalancedObject(text); found {
		if object, ok := decodeObject(span); ok {
			return object, nil
		}
	}
	return nil, &domain.MalformedResponseError{Snippet: snippet(text)}
}

// StripCodeFence removes a leading ``` marker with an optional language tag
// and a trailing ``` marker.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
			tag := strings.TrimSpace(trimmed[:newline])
			if tag == "" || isLanguageTag(tag) {
				trimmed = trimmed[newline+1:]
			}
		} else {
			trimmed = strings.TrimPrefix(trimmed, "json")
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// FirstBalancedObject finds the first {...} span whose braces balance,
// ignoring braces that appear inside JSON string literals.
func FirstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}

		// Unbalanced from here (truncated output); try the next opening brace.
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return "", false
		}
		start += next + 1
	}
	return "", false
}

// Strings flattens a decoded object into display strings. Numbers keep their
// shortest form, null becomes empty and nested values are re-encoded.
func Strings(object map[string]any) map[string]string {
	flat := make(map[string]string, len(object))
	for key, value := range object {
		flat[key] = stringify(value)
	}
	return flat
}

func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

func decodeObject(text string) (map[string]any, bool) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()

	var object map[string]any
	if err := decoder.Decode(&object); err != nil || object == nil {
		return nil, false
	}
	// Anything but whitespace after the object means the direct parse failed.
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return object, true
}

func isLanguageTag(tag string) bool {
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

func snippet(text string) string {
	if len(text) <= snippetBytes {
		return text
	}
	cut := snippetBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
