package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// LLM REPLY EXTRACTION UTILITIES
// =============================================================================
//
// Backends answer in free text that is supposed to contain JSON. These helpers
// pull the JSON out of prose, code fences and tagged blocks, then read values
// from the decoded map without panicking on unexpected types:
//   - string:       "0.8", "PASS"
//   - float64:      JSON numbers decoded into interface{}
//   - json.Number:  numbers decoded with UseNumber
//   - []interface{}: lists of strings
//   - nil:          missing keys

// ExtractString extracts a string representation from a decoded JSON value.
func ExtractString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ExtractFloat64 extracts a float from a decoded JSON value. Numeric strings
// (optionally with a trailing %) are parsed; percentages above 1 are scaled.
// Returns (value, true) on success, (0, false) if the type is incompatible.
func ExtractFloat64(arg interface{}) (float64, bool) {
	switch v := arg.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		percent := strings.HasSuffix(s, "%")
		s = strings.TrimSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		if percent {
			f /= 100
		}
		return f, true
	default:
		return 0, false
	}
}

// ExtractStringList extracts a list of strings. A single string becomes a
// one-element list; empty entries are dropped.
func ExtractStringList(arg interface{}) []string {
	var out []string
	switch v := arg.(type) {
	case []interface{}:
		for _, item := range v {
			if s := strings.TrimSpace(ExtractString(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FirstOf returns the first present key's value from m.
func FirstOf(m map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// ExtractJSONObject returns the first balanced {...} in text that decodes as a
// JSON object.
func ExtractJSONObject(text string) (map[string]interface{}, bool) {
	for _, candidate := range balancedSpans(text, '{', '}') {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &m); err == nil {
			return m, true
		}
	}
	return nil, false
}

// ExtractJSONArray returns the first balanced [...] in text that decodes as a
// JSON array of objects.
func ExtractJSONArray(text string) ([]map[string]interface{}, bool) {
	for _, candidate := range balancedSpans(text, '[', ']') {
		var arr []map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &arr); err == nil {
			return arr, true
		}
	}
	return nil, false
}

// ExtractTagged returns the body of the first <tag>...</tag> block.
func ExtractTagged(text, tag string) (string, bool) {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// ExtractFenced returns the body of the first ``` fenced block, optionally
// restricted to a language tag such as "json".
func ExtractFenced(text, lang string) (string, bool) {
	marker := "```" + lang
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(marker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// balancedSpans lists substrings starting at each opening bracket and ending
// at its balancing close, skipping brackets inside JSON strings.
func balancedSpans(text string, open, close byte) []string {
	var spans []string
	for start := 0; start < len(text); start++ {
		if text[start] != open {
			continue
		}
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
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					spans = append(spans, text[start:i+1])
					i = len(text)
				}
			}
		}
	}
	return spans
}
