package feedback

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/feedshot/kit"
)

const maxSmallBody = 64 << 10

// Handler returns the feedback routes. Mount it under a prefix with
// http.StripPrefix or chi's Mount:
//
//	r.Mount("/feedback", w.Handler())
//
// Submission, comments and upvotes are public. Listing, reading, updating,
// deleting, stats, exports and the HTML view go through Config.Admin.
func (w *Widget) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/reports", w.handleCreate)
	r.Post("/reports/{id}/comments", w.handleComment)
	r.Post("/reports/{id}/upvote", w.handleUpvote)
	r.Get("/widget.js", w.handleWidgetJS)
	r.Get("/widget.css", w.handleWidgetCSS)

	r.Group(func(r chi.Router) {
		if w.cfg.Admin != nil {
			r.Use(w.cfg.Admin)
		}
		r.Get("/reports", w.handleList)
		r.Get("/reports.html", w.handleListHTML)
		r.Get("/reports/{id}", w.handleGet)
		r.Patch("/reports/{id}", w.handleUpdate)
		r.Delete("/reports/{id}", w.handleDelete)
		r.Get("/reports/{id}/screenshots.pdf", w.handlePDF)
		r.Get("/reports/{id}/screenshots/{sid}", w.handleScreenshot)
		r.Get("/stats", w.handleStats)
	})
	return r
}

// RegisterMux mounts Handler on a standard ServeMux under basePath.
func (w *Widget) RegisterMux(mux *http.ServeMux, basePath string) {
	bp := strings.TrimRight(basePath, "/")
	mux.Handle(bp+"/", http.StripPrefix(bp, w.Handler()))
}

func (w *Widget) handleCreate(wr http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(wr, r.Body, w.cfg.MaxReportBytes)

	var in ReportInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			jsonErr(wr, "report too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonErr(wr, "invalid request body", http.StatusBadRequest)
		return
	}
	if in.ReporterID == "" {
		in.ReporterID = w.userID(r)
	}
	if in.ReporterName == "" {
		in.ReporterName = kit.GetHandle(r.Context())
	}
	if in.ReporterRole == "" {
		in.ReporterRole = kit.GetRole(r.Context())
	}
	if in.BrowserInfo == "" {
		in.BrowserInfo = r.UserAgent()
	}

	rep, err := w.CreateReport(r.Context(), in)
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusCreated, rep)
}

func (w *Widget) handleList(wr http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{
		Status:     Status(q.Get("status")),
		ReportType: ReportType(q.Get("reportType")),
		Priority:   Priority(q.Get("priority")),
		Search:     q.Get("search"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))

	page, err := w.ListReports(r.Context(), f)
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, page)
}

func (w *Widget) handleGet(wr http.ResponseWriter, r *http.Request) {
	rep, err := w.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, rep)
}

func (w *Widget) handleUpdate(wr http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(wr, r.Body, maxSmallBody)
	var p ReportPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		jsonErr(wr, "invalid request body", http.StatusBadRequest)
		return
	}
	if p.ActorID == "" {
		p.ActorID = w.userID(r)
	}
	if p.ActorName == "" {
		p.ActorName = kit.GetHandle(r.Context())
	}
	rep, err := w.UpdateReport(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, rep)
}

func (w *Widget) handleDelete(wr http.ResponseWriter, r *http.Request) {
	rep, err := w.DeleteReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{"success": true, "deleted": rep})
}

func (w *Widget) handleComment(wr http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(wr, r.Body, maxSmallBody)
	var in CommentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		jsonErr(wr, "invalid request body", http.StatusBadRequest)
		return
	}
	if in.AuthorID == "" {
		in.AuthorID = w.userID(r)
	}
	if in.AuthorName == "" {
		in.AuthorName = kit.GetHandle(r.Context())
	}
	if in.AuthorRole == "" {
		in.AuthorRole = kit.GetRole(r.Context())
	}
	c, err := w.AddComment(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusCreated, c)
}

func (w *Widget) handleUpvote(wr http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(wr, r.Body, maxSmallBody)
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(wr, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = w.userID(r)
	}
	upvoted, err := w.ToggleUpvote(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]bool{"upvoted": upvoted})
}

func (w *Widget) handleStats(wr http.ResponseWriter, r *http.Request) {
	st, err := w.Stats(r.Context())
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, st)
}

func (w *Widget) handleScreenshot(wr http.ResponseWriter, r *http.Request) {
	shots, err := w.Screenshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	sid := chi.URLParam(r, "sid")
	for _, s := range shots {
		if s.ID != sid {
			continue
		}
		wr.Header().Set("Content-Type", s.Image.MIME)
		wr.Header().Set("Content-Disposition", `attachment; filename="`+s.DownloadName()+`"`)
		wr.Header().Set("Content-Length", strconv.Itoa(s.Image.Len()))
		wr.Write(s.Image.Data)
		return
	}
	jsonErr(wr, "screenshot not found", http.StatusNotFound)
}

func (w *Widget) handlePDF(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := w.ScreenshotsPDF(r.Context(), id)
	if err != nil {
		w.writeErr(wr, err)
		return
	}
	wr.Header().Set("Content-Type", "application/pdf")
	wr.Header().Set("Content-Disposition", `attachment; filename="`+id+`-screenshots.pdf"`)
	wr.Write(data)
}

// userID identifies the caller through Config.UserIDFn, falling back to the
// user ID an auth middleware put in the context.
func (w *Widget) userID(r *http.Request) string {
	if w.cfg.UserIDFn != nil {
		return w.cfg.UserIDFn(r)
	}
	return kit.GetUserID(r.Context())
}

// writeErr maps store errors onto HTTP statuses.
func (w *Widget) writeErr(wr http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalid):
		writeJSON(wr, http.StatusBadRequest, map[string]string{
			"error":   "invalid request body",
			"details": strings.TrimPrefix(err.Error(), ErrInvalid.Error()+": "),
		})
	case errors.Is(err, ErrNotFound):
		jsonErr(wr, "report not found", http.StatusNotFound)
	case errors.Is(err, ErrNoScreenshots):
		jsonErr(wr, "report has no screenshots", http.StatusNotFound)
	default:
		w.log.Error("feedback: request failed", "error", err)
		jsonErr(wr, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
