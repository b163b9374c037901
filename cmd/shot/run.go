package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/feedshot/annotate"
	"github.com/hazyhaar/feedshot/browser"
	"github.com/hazyhaar/feedshot/capture"
	"github.com/hazyhaar/feedshot/dbopen"
	"github.com/hazyhaar/feedshot/feedback"
	"github.com/hazyhaar/feedshot/geom"
	"github.com/hazyhaar/feedshot/observability"
	"github.com/hazyhaar/feedshot/safe"
	"github.com/hazyhaar/feedshot/screenshot"
	"github.com/hazyhaar/feedshot/selector"
)

// errNoScreenshot means the capture ended without emitting, either because
// it was cancelled or because it failed.
var errNoScreenshot = errors.New("no screenshot captured")

// record is the JSON written next to the image.
type record struct {
	ID          string          `json:"id"`
	Mode        screenshot.Mode `json:"captureMode"`
	Label       string          `json:"label"`
	URL         string          `json:"url"`
	Timestamp   time.Time       `json:"timestamp"`
	Annotations string          `json:"annotations,omitempty"`
	Image       string          `json:"image"`
	Thumbnail   string          `json:"thumbnail"`
	Bytes       int             `json:"bytes"`
	ReportID    string          `json:"reportId,omitempty"`
}

func run(ctx context.Context, job *Job, log *slog.Logger) error {
	if err := safe.ValidateTarget(job.URL, job.Browser.AllowPrivate); err != nil {
		return fmt.Errorf("target %s: %w", job.URL, err)
	}

	var metrics *observability.MetricsManager
	if job.MetricsDB != "" {
		db, err := dbopen.Open(job.MetricsDB, dbopen.WithMkdirAll(), dbopen.WithInit(observability.Init))
		if err != nil {
			return err
		}
		defer db.Close()
		metrics = observability.NewMetricsManager(db, 100, 5*time.Second)
		defer metrics.Close()
	}

	level, _ := browser.ParseLevel(job.Browser.Level)
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        job.Browser.Remote,
		Bin:              job.Browser.Bin,
		ResourceBlocking: job.Browser.Block,
		Level:            level,
		ScreenWidth:      job.Viewport.Width,
		ScreenHeight:     job.Viewport.Height,
		PixelRatio:       job.Viewport.PixelRatio,
		Logger:           log,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, mgr, job.URL, browser.TabConfig{
		Width:      job.Viewport.Width,
		Height:     job.Viewport.Height,
		PixelRatio: job.Viewport.PixelRatio,
		NavTimeout: job.Browser.NavTimeout,
	})
	if err != nil {
		return err
	}
	defer tab.Close()

	shot, err := captureOne(ctx, tab, job, metrics, log)
	if err != nil {
		return err
	}

	rec, err := writeOutputs(job, shot)
	if err != nil {
		return err
	}
	if job.Submit != nil {
		rep, err := submit(ctx, job, shot)
		if err != nil {
			return err
		}
		rec.ReportID = rep.ID
		log.Info("shot: report submitted", "report_id", rep.ID, "endpoint", job.Submit.Endpoint)
	}
	if err := writeRecord(job, rec); err != nil {
		return err
	}
	log.Info("shot: done", "id", shot.ID, "mode", shot.Mode, "image", rec.Image, "bytes", rec.Bytes)
	return nil
}

// captureOne runs the orchestrator once in the job's mode and returns the
// emitted screenshot.
func captureOne(ctx context.Context, tab *browser.Tab, job *Job, metrics *observability.MetricsManager, log *slog.Logger) (screenshot.Screenshot, error) {
	var (
		got     *screenshot.Screenshot
		failure error
		overlay *browser.Overlay
	)
	if job.Overlay {
		ov, err := tab.OpenOverlay(ctx)
		if err != nil {
			return screenshot.Screenshot{}, err
		}
		defer ov.Close()
		overlay = ov
	}

	handlers := capture.Handlers{
		OnCapture: func(s screenshot.Screenshot) { got = &s },
		OnFailure: func(err error) { failure = err },
	}
	if overlay != nil {
		handlers.OnSelection = overlay.Show
	}
	o := capture.New(tab, capture.Config{
		Settle:     job.Settle,
		Quality:    job.Quality,
		PixelRatio: job.Viewport.PixelRatio,
		Metrics:    metrics,
		Handlers:   handlers,
		Logger:     log,
	})

	var err error
	switch job.Mode {
	case screenshot.Full:
		err = o.CaptureFull(ctx)
	case screenshot.Snippet:
		var src selector.Source
		if overlay != nil {
			log.Info("shot: drag a region in the browser window, Escape cancels")
			src = overlay.Source()
		} else {
			src = snippetScript(job.Region)
		}
		err = o.CaptureSnippet(ctx, src)
	case screenshot.Draw:
		if err = o.StartDraw(ctx); err != nil {
			break
		}
		a := o.Annotation()
		if a == nil {
			break
		}
		if err = applyGestures(a.Canvas(), job.Draw); err != nil {
			a.Cancel()
			break
		}
		log.Info("shot: annotated", "marks", a.Canvas().HistoryLen()-1)
		err = a.Save(ctx)
	}
	if err != nil {
		return screenshot.Screenshot{}, err
	}
	if failure != nil {
		return screenshot.Screenshot{}, failure
	}
	if got == nil {
		return screenshot.Screenshot{}, errNoScreenshot
	}
	return *got, nil
}

// snippetScript turns a region into the pointer drag that selects it.
func snippetScript(r *RegionJob) selector.Script {
	a := geom.Pt(r.Left, r.Top)
	b := geom.Pt(r.Left+r.Width, r.Top+r.Height)
	return selector.Script(selector.Drag(a, b))
}

// applyGestures replays the draw script on the canvas. Coordinates are image
// pixels; they are mapped back to the displayed canvas so stroke widths
// scale the same way they would under a real pointer.
func applyGestures(c *annotate.Canvas, gestures []Gesture) error {
	if !c.Ready() {
		return errors.New("canvas not loaded")
	}
	box := c.Mapper().Box(geom.Pt(0, 0))
	scale := c.Mapper().Scale()
	display := func(p geom.Point) geom.Point { return p.Mul(1 / scale) }

	for i, g := range gestures {
		switch {
		case g.Clear:
			c.Clear()
			continue
		case g.Undo:
			c.Undo()
			continue
		}
		if err := g.validate(); err != nil {
			return fmt.Errorf("draw[%d]: %w", i, err)
		}
		c.SetTool(g.Tool)
		if g.Color != "" {
			col, _ := annotate.ParseColor(g.Color)
			if err := c.SetColor(col); err != nil {
				return fmt.Errorf("draw[%d]: %w", i, err)
			}
		}
		if g.Width > 0 {
			c.SetWidth(g.Width)
		}
		pts := g.path()
		c.PointerDown(display(pts[0]), box)
		for _, p := range pts[1:] {
			c.PointerMove(display(p), box)
		}
		c.PointerUp(display(pts[len(pts)-1]), box)
	}
	return nil
}

func writeOutputs(job *Job, shot screenshot.Screenshot) (*record, error) {
	name := job.Output.Name
	if name == "" {
		name = screenshot.DownloadName(shot.Timestamp, shot.Image.Ext())
	}
	imgPath, err := safe.OutputPath(job.Output.Dir, name)
	if err != nil {
		return nil, fmt.Errorf("output %q: %w", name, err)
	}
	thumbPath, err := safe.OutputPath(job.Output.Dir, trimExt(name)+".thumb"+shot.Thumbnail.Ext())
	if err != nil {
		return nil, fmt.Errorf("thumbnail output: %w", err)
	}
	if err := os.MkdirAll(job.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	if err := os.WriteFile(imgPath, shot.Image.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}
	if err := os.WriteFile(thumbPath, shot.Thumbnail.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write thumbnail: %w", err)
	}
	return &record{
		ID:          shot.ID,
		Mode:        shot.Mode,
		Label:       shot.Mode.Label(),
		URL:         job.URL,
		Timestamp:   shot.Timestamp,
		Annotations: shot.AnnotationNote,
		Image:       imgPath,
		Thumbnail:   thumbPath,
		Bytes:       shot.Image.Len(),
	}, nil
}

func writeRecord(job *Job, rec *record) error {
	path, err := safe.OutputPath(job.Output.Dir, trimExt(filepath.Base(rec.Image))+".json")
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func submit(ctx context.Context, job *Job, shot screenshot.Screenshot) (*feedback.Report, error) {
	c, err := feedback.NewClient(job.Submit.Endpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, err
	}
	c.Token = job.Submit.Token
	title := job.Submit.Title
	if title == "" {
		title = fmt.Sprintf("%s screenshot of %s", shot.Mode.Label(), job.URL)
	}
	desc := job.Submit.Description
	if desc == "" {
		desc = fmt.Sprintf("%s screenshot of %s captured at %dx%d.", shot.Mode.Label(), job.URL, job.Viewport.Width, job.Viewport.Height)
	}
	return c.Submit(ctx, feedback.ReportInput{
		ReportType:       feedback.ReportType(job.Submit.Type),
		Priority:         feedback.Priority(job.Submit.Priority),
		Title:            title,
		Description:      desc,
		PageURL:          job.URL,
		BrowserInfo:      "feedshot shot",
		ScreenResolution: fmt.Sprintf("%dx%d", job.Viewport.Width, job.Viewport.Height),
		Screenshots:      []screenshot.Screenshot{shot},
	})
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
