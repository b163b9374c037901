package feedback

import (
	"html/template"
	"net/http"
	"time"
)

// reportView is the template-friendly projection of a Report.
type reportView struct {
	ID          string
	Title       string
	Type        ReportType
	Priority    Priority
	Status      Status
	Reporter    string
	CreatedAt   string
	PageURL     string
	SafeURL     bool
	Screenshots int
	Upvotes     int
	Comments    int
}

var listHTMLTmpl = template.Must(template.New("list").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Feedback · {{.AppName}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:960px;margin:2rem auto;padding:0 1rem;color:#222;background:#fafafa}
h1{font-size:1.4rem;border-bottom:2px solid #e0e0e0;padding-bottom:.5rem}
.report{background:#fff;border:1px solid #e0e0e0;border-radius:6px;padding:1rem;margin-bottom:1rem}
.tag{display:inline-block;font-size:.75rem;padding:.1rem .4rem;border-radius:4px;background:#eef;margin-right:.3rem}
.p-critical{background:#fee2e2}.p-high{background:#ffedd5}
.meta{font-size:.8rem;color:#666;margin-top:.5rem}
.empty{color:#999;font-style:italic}
</style></head><body>
<h1>Feedback · {{.AppName}} ({{.Total}})</h1>
{{- if eq .Total 0}}
<p class="empty">No reports yet.</p>
{{- end}}
{{- range .Reports}}
<div class="report"><strong>{{.Title}}</strong>
<div><span class="tag">{{.Type}}</span><span class="tag p-{{.Priority}}">{{.Priority}}</span><span class="tag">{{.Status}}</span></div>
<div class="meta">{{.Reporter}} · {{.CreatedAt}} · {{.Upvotes}} upvotes · {{.Comments}} comments
{{- if .Screenshots}} · <a href="reports/{{.ID}}/screenshots.pdf">{{.Screenshots}} screenshots (PDF)</a>{{end}}
{{- if and .PageURL .SafeURL}} · <a href="{{.PageURL}}">{{.PageURL}}</a>
{{- else if .PageURL}} · {{.PageURL}}
{{- end}}</div></div>
{{- end}}
</body></html>`))

func (w *Widget) handleListHTML(wr http.ResponseWriter, r *http.Request) {
	page, err := w.ListReports(r.Context(), ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  MaxPageSize,
	})
	if err != nil {
		w.log.Error("feedback: html list", "error", err)
		http.Error(wr, "internal error", http.StatusInternalServerError)
		return
	}

	views := make([]reportView, len(page.Reports))
	for i, rep := range page.Reports {
		who := rep.ReporterName
		if who == "" {
			who = "anonymous"
		}
		views[i] = reportView{
			ID:          rep.ID,
			Title:       rep.Title,
			Type:        rep.ReportType,
			Priority:    rep.Priority,
			Status:      rep.Status,
			Reporter:    who,
			CreatedAt:   rep.CreatedAt.Format(time.DateTime),
			PageURL:     rep.PageURL,
			SafeURL:     rep.PageURL != "" && isSafeURL(rep.PageURL),
			Screenshots: rep.ScreenshotCount,
			Upvotes:     rep.UpvoteCount,
			Comments:    rep.CommentCount,
		}
	}

	wr.Header().Set("Content-Type", "text/html; charset=utf-8")
	listHTMLTmpl.Execute(wr, struct {
		AppName string
		Total   int
		Reports []reportView
	}{
		AppName: w.cfg.AppName,
		Total:   page.Pagination.Total,
		Reports: views,
	})
}
