package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/feedshot/idgen"
	"github.com/hazyhaar/feedshot/kit"
)

// TraceHeader carries the request trace ID in both directions.
const TraceHeader = "X-Trace-ID"

var newTraceID = idgen.Prefixed("trc_", idgen.Default)

// TraceID tags each request with a trace ID, reusing a well-formed incoming
// X-Trace-ID, and attaches a request-scoped logger. The ID and client IP
// go on the kit.Caller, the ID also to the response header and every log
// line from GetLogger.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 64 || !printable(traceID) {
			traceID = newTraceID()
		}

		caller := kit.CallerFrom(r.Context())
		caller.TraceID, caller.RemoteAddr = traceID, ExtractIP(r)
		ctx := kit.WithCaller(r.Context(), caller)
		w.Header().Set(TraceHeader, traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request", "remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}
