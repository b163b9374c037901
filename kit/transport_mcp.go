package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// RegisterMCPTool registers an Endpoint as an MCP tool on the given server.
// The endpoint sees a context whose Caller transport is TransportMCP.
// Decode and endpoint errors become tool errors (IsError results with the
// message as text), not protocol errors; the response is returned as JSON
// text content.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		ctx = WithTransport(ctx, TransportMCP)
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}

		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// DecodeArgs returns a decode func that unmarshals the tool arguments into
// a new T, which the endpoint receives as *T. Missing arguments decode to
// the zero T. Each name in required must be present and not null or "".
func DecodeArgs[T any](required ...string) func(*mcp.CallToolRequest) (*MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
		var raw json.RawMessage
		if req.Params != nil {
			raw = req.Params.Arguments
		}
		v := new(T)
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, v); err != nil {
				return nil, err
			}
		}
		if len(required) > 0 {
			var fields map[string]json.RawMessage
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &fields)
			}
			for _, name := range required {
				switch string(bytes.TrimSpace(fields[name])) {
				case "", "null", `""`:
					return nil, fmt.Errorf("%s is required", name)
				}
			}
		}
		return &MCPDecodeResult{Request: v}, nil
	}
}
