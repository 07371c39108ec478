package orchestrator

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	callPattern = regexp.MustCompile(`([A-Za-z_][\w.\-]*)\s*\(`)
	keyPattern  = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// PatternCall is a tool call parsed from `name(key=value, ...)`.
type PatternCall struct {
	Tool string
	// Args keeps the raw values in the order they were written.
	Args *orderedmap.OrderedMap[string, string]
}

// ParsePatternCall finds the first `name(key=value, ...)` call in text.
// The call may be surrounded by other text. Values may be quoted with single
// or double quotes.
func ParsePatternCall(text string) (*PatternCall, bool) {
	for _, loc := range callPattern.FindAllStringSubmatchIndex(text, -1) {
		end := closingParen(text, loc[1])
		if end < 0 {
			continue
		}
		if call, ok := parseCall(text[loc[2]:loc[3]], text[loc[1]:end]); ok {
			return call, true
		}
	}
	return nil, false
}

func parseCall(tool, body string) (*PatternCall, bool) {
	call := &PatternCall{
		Tool: tool,
		Args: orderedmap.New[string, string](),
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return call, true
	}

	for _, part := range splitArgs(body) {
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || !keyPattern.MatchString(key) {
			return nil, false
		}
		call.Args.Set(key, strings.TrimSpace(value))
	}
	return call, true
}

// closingParen returns the index of the first ')' at or after start that is
// outside of quotes, or -1.
func closingParen(s string, start int) int {
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ')':
			return i
		}
	}
	return -1
}

// JSON returns the arguments as a JSON object. Values that are valid JSON
// scalars keep their type, anything else becomes a string.
func (c *PatternCall) JSON() (string, error) {
	js := "{}"
	var err error
	for pair := c.Args.Oldest(); pair != nil; pair = pair.Next() {
		value := pair.Value
		switch {
		case isQuoted(value, '\''):
			js, err = sjson.Set(js, pair.Key, value[1:len(value)-1])
		case gjson.Valid(value) && !strings.HasPrefix(value, "{") && !strings.HasPrefix(value, "["):
			js, err = sjson.SetRaw(js, pair.Key, value)
		default:
			js, err = sjson.Set(js, pair.Key, value)
		}
		if err != nil {
			return "", errors.Wrapf(err, "invalid argument %q", pair.Key)
		}
	}
	return js, nil
}

func isQuoted(s string, q byte) bool {
	return len(s) >= 2 && s[0] == q && s[len(s)-1] == q
}

// splitArgs splits on commas outside of quotes.
func splitArgs(s string) []string {
	var parts []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ',':
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
