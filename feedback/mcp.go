package feedback

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedshot/kit"
	"github.com/hazyhaar/feedshot/screenshot"
)

// RegisterMCP registers the triage tools on an MCP server.
func (w *Widget) RegisterMCP(srv *mcp.Server) {
	w.registerListTool(srv)
	w.registerGetTool(srv)
	w.registerStatsTool(srv)
	w.registerSetStatusTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func enumOf[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

// register wraps endpoint with call logging before handing it to the server.
func (w *Widget) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Chain(w.logged(tool.Name))(endpoint), decode)
}

func (w *Widget) logged(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			d := time.Since(start)
			if w.cfg.Audit != nil {
				w.cfg.Audit.LogAsync(w.cfg.Audit.NewEntry(ctx, "feedback", tool, req, nil, err, d))
			}
			l := w.logFor(ctx).With("tool", tool, "duration", d)
			if err != nil {
				l.Warn("feedback: tool failed", "error", err)
			} else {
				l.Debug("feedback: tool called")
			}
			return resp, err
		}
	}
}

// --- list ---

func (w *Widget) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedback_list",
		Description: "List feedback reports, newest first, filtered by status, type, priority or a search term.",
		InputSchema: inputSchema(map[string]any{
			"status":     map[string]any{"type": "string", "enum": enumOf(Statuses)},
			"reportType": map[string]any{"type": "string", "enum": enumOf(ReportTypes)},
			"priority":   map[string]any{"type": "string", "enum": enumOf(Priorities)},
			"search":     map[string]any{"type": "string", "description": "Matches title and description"},
			"page":       map[string]any{"type": "integer", "minimum": 1},
			"limit":      map[string]any{"type": "integer", "minimum": 1, "maximum": MaxPageSize},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return w.ListReports(ctx, *req.(*ListFilter))
	}

	w.register(srv, tool, endpoint, kit.DecodeArgs[ListFilter]())
}

// --- get ---

type getReq struct {
	ID string `json:"id"`
}

// shotInfo describes a screenshot without its pixels.
type shotInfo struct {
	ID          string          `json:"id"`
	Mode        screenshot.Mode `json:"captureMode"`
	MIME        string          `json:"mime"`
	Bytes       int             `json:"bytes"`
	Timestamp   time.Time       `json:"timestamp"`
	Annotations string          `json:"annotations,omitempty"`
	Download    string          `json:"download"`
}

// reportDetail replaces the screenshot payloads with metadata; data URLs
// are too large for a tool result.
type reportDetail struct {
	*Report
	Screenshots []shotInfo `json:"screenshots,omitempty"`
}

func (w *Widget) registerGetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedback_get",
		Description: "Get one feedback report with its comments, audit trail and screenshot metadata.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Report ID"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rep, err := w.GetReport(ctx, req.(*getReq).ID)
		if err != nil {
			return nil, err
		}
		d := reportDetail{Report: rep}
		for _, s := range rep.Screenshots {
			d.Screenshots = append(d.Screenshots, shotInfo{
				ID:          s.ID,
				Mode:        s.Mode,
				MIME:        s.Image.MIME,
				Bytes:       s.Image.Len(),
				Timestamp:   s.Timestamp,
				Annotations: s.AnnotationNote,
				Download:    s.DownloadName(),
			})
		}
		return d, nil
	}

	w.register(srv, tool, endpoint, kit.DecodeArgs[getReq]("id"))
}

// --- stats ---

func (w *Widget) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedback_stats",
		Description: "Count feedback reports by status, type and priority.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return w.Stats(ctx)
	}

	w.register(srv, tool, endpoint, kit.DecodeArgs[struct{}]())
}

// --- set status ---

type setStatusReq struct {
	ID              string `json:"id"`
	Status          Status `json:"status"`
	ResolutionNotes string `json:"resolutionNotes"`
	Actor           string `json:"actor"`
}

func (w *Widget) registerSetStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedback_set_status",
		Description: "Move a feedback report to a new triage status. The change is recorded in its audit trail.",
		InputSchema: inputSchema(map[string]any{
			"id":              map[string]any{"type": "string", "description": "Report ID"},
			"status":          map[string]any{"type": "string", "enum": enumOf(Statuses)},
			"resolutionNotes": map[string]any{"type": "string"},
			"actor":           map[string]any{"type": "string", "description": "Name recorded on the status change"},
		}, []string{"id", "status"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*setStatusReq)
		p := ReportPatch{Status: &r.Status, ActorName: r.Actor}
		if r.ResolutionNotes != "" {
			p.ResolutionNotes = &r.ResolutionNotes
		}
		return w.UpdateReport(ctx, r.ID, p)
	}

	w.register(srv, tool, endpoint, kit.DecodeArgs[setStatusReq]("id", "status"))
}
