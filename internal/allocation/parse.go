package allocation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrExtractionFailed is the single failure signal of the resolver.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrMalformedResponse is returned when the response is not a flat sequence.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrExtractionFailed)

	// ErrArityMismatch is returned when the sequence length differs from the rule count.
	ErrArityMismatch = fmt.Errorf("%w: wrong number of results", ErrExtractionFailed)
)

// ParseResults reads a response holding exactly want values.
//
// Accepted forms are a JSON array of strings or numbers, and a tuple literal
// of quoted strings or numbers such as ("120.00", 24). Either may be wrapped
// in a Markdown code fence. Nothing else is accepted and nothing is padded or
// truncated.
func ParseResults(raw string, want int) ([]string, error) {
	body := stripFence(raw)

	var (
		values []string
		err    error
	)
	switch {
	case strings.HasPrefix(body, "["):
		values, err = parseJSONArray(body)
	case strings.HasPrefix(body, "("):
		values, err = parseTuple(body)
	default:
		err = fmt.Errorf("%w: expected a sequence, got %q", ErrMalformedResponse, truncate(body, 80))
	}
	if err != nil {
		return nil, err
	}

	if len(values) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrArityMismatch, len(values), want)
	}
	return values, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an info string such as "json" or "python".
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseJSONArray(body string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var items []interface{}
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after array", ErrMalformedResponse)
	}

	values := make([]string, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			values = append(values, strings.TrimSpace(v))
		case json.Number:
			values = append(values, v.String())
		default:
			return nil, fmt.Errorf("%w: element %d is %T", ErrMalformedResponse, i, item)
		}
	}
	return values, nil
}

// parseTuple scans a parenthesised, comma separated list of quoted strings
// and numbers. A single trailing comma is allowed. One element with no comma
// is a parenthesised value, not a tuple.
func parseTuple(body string) ([]string, error) {
	if !strings.HasSuffix(body, ")") {
		return nil, fmt.Errorf("%w: unterminated tuple", ErrMalformedResponse)
	}
	s := []rune(strings.TrimSpace(body[1 : len(body)-1]))

	var values []string
	i, commas := 0, 0
	skipSpace := func() {
		for i < len(s) && unicode.IsSpace(s[i]) {
			i++
		}
	}

	for {
		skipSpace()
		if i >= len(s) {
			break
		}

		var value string
		switch {
		case s[i] == '"' || s[i] == '\'':
			quote := s[i]
			i++
			var buf bytes.Buffer
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					buf.WriteRune(s[i+1])
					i += 2
					continue
				}
				i++
				if c == quote {
					closed = true
					break
				}
				buf.WriteRune(c)
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string", ErrMalformedResponse)
			}
			value = strings.TrimSpace(buf.String())
		case s[i] == '-' || s[i] == '+' || s[i] == '.' || unicode.IsDigit(s[i]):
			start := i
			for i < len(s) && (unicode.IsDigit(s[i]) || strings.ContainsRune("+-.eE", s[i])) {
				i++
			}
			value = string(s[start:i])
			if _, err := json.Number(value).Float64(); err != nil {
				return nil, fmt.Errorf("%w: invalid number %q", ErrMalformedResponse, value)
			}
		default:
			return nil, fmt.Errorf("%w: unexpected %q in tuple", ErrMalformedResponse, string(s[i]))
		}
		values = append(values, value)

		skipSpace()
		if i >= len(s) {
			break
		}
		if s[i] != ',' {
			return nil, fmt.Errorf("%w: expected ',' got %q", ErrMalformedResponse, string(s[i]))
		}
		i++
		commas++
	}
	if len(values) == 1 && commas == 0 {
		return nil, fmt.Errorf("%w: parenthesised value is not a tuple", ErrMalformedResponse)
	}
	return values, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
