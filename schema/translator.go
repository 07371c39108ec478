package schema

import (
	"reflect"
	"sort"
	"strings"

	"github.com/effective-security/toolpilot/pkg/llms"
	"github.com/effective-security/toolpilot/toolcache"
)

// GitHubHint is appended to descriptions of GitHub related tools.
const GitHubHint = " (prefer for GitHub related questions)"

// QueryInput is offered for tools that publish no input schema.
type QueryInput struct {
	Query string `json:"query" jsonschema:"description=Query for the tool"`
}

// FreeformInput is offered for tools whose schema is not an object with properties.
type FreeformInput struct {
	Input string `json:"input" jsonschema:"description=Input for the tool"`
}

// ConvertSchema returns the function parameters for a native input schema:
//   - an empty schema becomes an object with a single required string "query"
//   - an object schema with a properties map is returned unchanged
//   - anything else becomes an object with a single required string "input"
func ConvertSchema(native map[string]any) any {
	if len(native) == 0 {
		return New(reflect.TypeOf(QueryInput{})).Parameters
	}
	if typ, _ := native["type"].(string); typ == "object" {
		if _, ok := native["properties"].(map[string]any); ok {
			return native
		}
	}
	return New(reflect.TypeOf(FreeformInput{})).Parameters
}

// EnhanceDescription prefixes the description with the upper-cased server
// name and appends GitHubHint for GitHub related tools.
func EnhanceDescription(serverName, toolName, description string) string {
	if description == "" {
		description = toolName
	}
	desc := "[" + strings.ToUpper(serverName) + "] " + description
	if strings.Contains(strings.ToLower(serverName), "github") ||
		strings.Contains(strings.ToLower(toolName), "git") {
		desc += GitHubHint
	}
	return desc
}

// FunctionTool translates one cached tool.
func FunctionTool(t toolcache.Tool) llms.Tool {
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        t.Key,
			Description: EnhanceDescription(t.Server, t.Name, t.Description),
			Parameters:  ConvertSchema(t.InputSchema),
		},
	}
}

// Catalog translates cached tools into the function-calling catalog,
// sorted by qualified key.
func Catalog(items []toolcache.Tool) []llms.Tool {
	sorted := append([]toolcache.Tool(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	tools := make([]llms.Tool, 0, len(sorted))
	for _, t := range sorted {
		tools = append(tools, FunctionTool(t))
	}
	return tools
}
