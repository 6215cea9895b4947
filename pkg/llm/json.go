package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when no JSON value can be recovered from model text.
var ErrNoJSON = errors.New("llm: no JSON object in response")

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// Candidates lists the JSON candidates found in text, in recovery order:
// fenced block, brace-balanced object, whole text.
func Candidates(text string) []string {
	var out []string
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if s := strings.TrimSpace(m[1]); s != "" {
			out = append(out, s)
		}
	}
	if s, ok := balanced(text); ok {
		out = append(out, s)
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// DecodeJSON recovers the first decodable JSON object from text into v.
// Control characters inside strings are escaped first; malformed JSON is
// repaired on syntax errors.
func DecodeJSON(text string, v any) error {
	var lastErr error = ErrNoJSON
	for _, candidate := range Candidates(text) {
		err := unmarshalJSON([]byte(NormaliseControl(candidate)), v)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// balanced returns the first brace-balanced {...} span of text.
func balanced(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
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
	return "", false
}

// NormaliseControl escapes raw newlines, tabs and other control characters
// that appear inside JSON strings.
func NormaliseControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			case r == '\n':
				b.WriteString(`\n`)
				continue
			case r == '\r':
				b.WriteString(`\r`)
				continue
			case r == '\t':
				b.WriteString(`\t`)
				continue
			case r < 0x20:
				continue
			}
		} else if r == '"' {
			inString = true
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExtractStringField pulls a string field out of text that is not valid JSON.
func ExtractStringField(text, field string) (string, bool) {
	pattern := regexp.MustCompile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	var out string
	if err := json.Unmarshal([]byte(`"`+NormaliseControl(`"`+m[1])[1:]+`"`), &out); err != nil {
		return m[1], true
	}
	return out, true
}
