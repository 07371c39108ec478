// Package mcptest provides a scripted stdio MCP server for tests.
//
// A test binary re-executes itself as the server:
//
//	func TestHelperProcess(t *testing.T) {
//		if os.Getenv(mcptest.EnvWantHelper) != "1" {
//			return
//		}
//		mcptest.ServeStdio(mcptest.DefaultServer())
//		os.Exit(0)
//	}
//
// and launches it with mcptest.Launch("calc").
package mcptest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/transport/stdio"
)

const (
	// EnvWantHelper marks the child process as a helper server.
	EnvWantHelper = "GO_WANT_HELPER_PROCESS"
	// EnvMode selects the server behavior, see the Mode constants.
	EnvMode = "MCPTEST_MODE"
	// EnvServerName is reported in serverInfo.
	EnvServerName = "MCPTEST_SERVER"
)

// Server behaviors selected through EnvMode.
const (
	ModeNormal = "normal"
	// ModeHang never answers.
	ModeHang = "hang"
	// ModeRPCError answers every request except initialize with an error.
	ModeRPCError = "rpc_error"
	// ModeExit exits right after initialize.
	ModeExit = "exit"
	// ModeNoise writes a non-JSON banner line before every response.
	ModeNoise = "noise"
)

// Tool is a tool served by the fake server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`

	// Handler computes the text result; an error is returned as isError.
	Handler func(args map[string]any) (string, error) `json:"-"`
}

// Server is the scripted server state.
type Server struct {
	Name  string
	Mode  string
	Tools []Tool
	// PageSize splits tools/list into pages when positive.
	PageSize int
}

// DefaultServer returns the calc server used across tests: add, echo and fail.
func DefaultServer() *Server {
	return &Server{
		Name:     envOr(EnvServerName, "calc"),
		Mode:     envOr(EnvMode, ModeNormal),
		PageSize: 2,
		Tools: []Tool{
			{
				Name:        "add",
				Description: "Add two numbers",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"a": map[string]any{"type": "number"},
						"b": map[string]any{"type": "number"},
					},
					"required": []any{"a", "b"},
				},
				Handler: func(args map[string]any) (string, error) {
					a, _ := args["a"].(float64)
					b, _ := args["b"].(float64)
					return fmt.Sprintf("%g", a+b), nil
				},
			},
			{
				Name:        "echo",
				Description: "Echo the arguments as JSON",
				Handler: func(args map[string]any) (string, error) {
					js, _ := json.Marshal(args)
					return string(js), nil
				},
			},
			{
				Name:        "fail",
				Description: "Always fails",
				InputSchema: map[string]any{"type": "string"},
				Handler: func(map[string]any) (string, error) {
					return "", errors.New("boom")
				},
			},
		},
	}
}

// Launch returns a stdio.Launch that re-executes the current test binary as
// a helper server with the given mode.
func Launch(name, mode string) stdio.Launch {
	env := append(os.Environ(),
		EnvWantHelper+"=1",
		EnvMode+"="+mode,
		EnvServerName+"="+name,
	)
	return stdio.Launch{
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperProcess$", "--"},
		Env:     env,
	}
}

type request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ServeStdio serves s over the process stdin and stdout until stdin closes.
func ServeStdio(s *Server) {
	Serve(s, os.Stdin, os.Stdout)
}

// Serve serves s over r and w until r is exhausted.
func Serve(s *Server, r io.Reader, w io.Writer) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8<<20)
	for sc.Scan() {
		var req request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			// notification
			continue
		}
		if s.Mode == ModeHang {
			continue
		}
		if s.Mode == ModeNoise {
			fmt.Fprintln(w, "server banner: ready")
		}

		if s.Mode == ModeRPCError && req.Method != "initialize" {
			writeJSON(w, map[string]any{
				"jsonrpc": "2.0",
				"id":      *req.ID,
				"error":   map[string]any{"code": -32000, "message": "server is broken"},
			})
			continue
		}

		result, rpcErr := s.handle(req)
		if rpcErr != nil {
			writeJSON(w, map[string]any{"jsonrpc": "2.0", "id": *req.ID, "error": rpcErr})
		} else {
			writeJSON(w, map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": result})
		}

		if s.Mode == ModeExit && req.Method == "initialize" {
			// give the client time to read the response
			time.Sleep(20 * time.Millisecond)
			os.Exit(3)
		}
	}
}

func (s *Server) handle(req request) (any, map[string]any) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.Name, "version": "0.1.0"},
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		var p struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(req.Params, &p)
		return s.page(p.Cursor), nil
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.Unmarshal(req.Params, &p)
		for _, t := range s.Tools {
			if t.Name != p.Name {
				continue
			}
			text, err := t.Handler(p.Arguments)
			if err != nil {
				return map[string]any{
					"content": []any{map[string]any{"type": "text", "text": err.Error()}},
					"isError": true,
				}, nil
			}
			return map[string]any{
				"content": []any{map[string]any{"type": "text", "text": text}},
			}, nil
		}
		return nil, map[string]any{"code": -32602, "message": "unknown tool: " + p.Name}
	default:
		return nil, map[string]any{"code": -32601, "message": "method not found: " + req.Method}
	}
}

func (s *Server) page(cursor string) map[string]any {
	start := 0
	if cursor != "" {
		_, _ = fmt.Sscanf(strings.TrimPrefix(cursor, "page-"), "%d", &start)
	}
	end := len(s.Tools)
	if s.PageSize > 0 && start+s.PageSize < end {
		end = start + s.PageSize
	}
	if start > end {
		start = end
	}
	res := map[string]any{"tools": s.Tools[start:end]}
	if end < len(s.Tools) {
		res["nextCursor"] = fmt.Sprintf("page-%d", end)
	}
	return res
}

func writeJSON(w io.Writer, v any) {
	js, _ := json.Marshal(v)
	_, _ = w.Write(append(js, '\n'))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
