package kit

import (
	"context"
	"log/slog"
)

// Transports recorded on a Caller.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

// Caller is who is behind a request: the signed-in user (if any), how the
// request arrived and which trace it belongs to. Reporters submitting
// feedback anonymously have an empty UserID.
type Caller struct {
	UserID     string
	Handle     string
	Role       string
	Transport  string // TransportHTTP when unset
	TraceID    string
	RemoteAddr string
}

type callerKey struct{}

// WithCaller returns ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller in ctx. Transport defaults to
// TransportHTTP; every other field may be empty.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	return c
}

// LogAttrs returns the non-empty fields as slog attributes, for tagging
// per-request loggers.
func (c Caller) LogAttrs() []any {
	attrs := []any{slog.String("transport", c.Transport)}
	for _, kv := range [...][2]string{
		{"trace_id", c.TraceID},
		{"user_id", c.UserID},
		{"role", c.Role},
		{"remote_addr", c.RemoteAddr},
	} {
		if kv[1] != "" {
			attrs = append(attrs, slog.String(kv[0], kv[1]))
		}
	}
	return attrs
}

func update(ctx context.Context, fn func(*Caller)) context.Context {
	c, _ := ctx.Value(callerKey{}).(Caller)
	fn(&c)
	return WithCaller(ctx, c)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return update(ctx, func(c *Caller) { c.UserID = id })
}
func GetUserID(ctx context.Context) string { return CallerFrom(ctx).UserID }

func WithHandle(ctx context.Context, h string) context.Context {
	return update(ctx, func(c *Caller) { c.Handle = h })
}
func GetHandle(ctx context.Context) string { return CallerFrom(ctx).Handle }

func WithRole(ctx context.Context, role string) context.Context {
	return update(ctx, func(c *Caller) { c.Role = role })
}
func GetRole(ctx context.Context) string { return CallerFrom(ctx).Role }

func WithTransport(ctx context.Context, t string) context.Context {
	return update(ctx, func(c *Caller) { c.Transport = t })
}

// GetTransport defaults to TransportHTTP.
func GetTransport(ctx context.Context) string { return CallerFrom(ctx).Transport }

func WithTraceID(ctx context.Context, id string) context.Context {
	return update(ctx, func(c *Caller) { c.TraceID = id })
}
func GetTraceID(ctx context.Context) string { return CallerFrom(ctx).TraceID }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return update(ctx, func(c *Caller) { c.RemoteAddr = addr })
}
func GetRemoteAddr(ctx context.Context) string { return CallerFrom(ctx).RemoteAddr }
