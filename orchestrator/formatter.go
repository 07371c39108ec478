package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/effective-security/toolpilot/pkg/llmutils"
	"github.com/tidwall/gjson"
)

// Formatter renders the raw output of a tool as the observation for the model.
type Formatter struct {
	Name string
	// Match reports whether the formatter applies to the output.
	Match func(tool, output string) bool
	// Format renders the output.
	Format func(tool, output string) string
}

// Formatters is an ordered list of formatters, the first match wins.
type Formatters []Formatter

// DefaultFormatters returns the formatters used when none are configured.
func DefaultFormatters() Formatters {
	return Formatters{ResultFieldFormatter}
}

// Format applies the first matching formatter, or returns output unchanged.
func (f Formatters) Format(tool, output string) string {
	for _, fm := range f {
		if fm.Match(tool, output) {
			return fm.Format(tool, output)
		}
	}
	return output
}

// ResultFieldFormatter extracts the top level "result" field of a JSON object.
var ResultFieldFormatter = Formatter{
	Name: "result_field",
	Match: func(_, output string) bool {
		return isJSONObject(output) && gjson.Get(output, "result").Exists()
	},
	Format: func(_, output string) string {
		res := gjson.Get(output, "result")
		if res.Type == gjson.String {
			return res.String()
		}
		return res.Raw
	},
}

// YAMLFormatter renders JSON objects and arrays as YAML, which models read
// with fewer tokens.
var YAMLFormatter = Formatter{
	Name: "yaml",
	Match: func(_, output string) bool {
		trimmed := strings.TrimSpace(output)
		return gjson.Valid(trimmed) && (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["))
	},
	Format: func(_, output string) string {
		var v any
		if err := json.Unmarshal([]byte(output), &v); err != nil {
			return output
		}
		return strings.TrimSpace(llmutils.ToYAML(v))
	},
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && gjson.Valid(s)
}
