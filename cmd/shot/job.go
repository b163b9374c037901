package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/feedshot/annotate"
	"github.com/hazyhaar/feedshot/browser"
	"github.com/hazyhaar/feedshot/geom"
	"github.com/hazyhaar/feedshot/screenshot"
)

// Job describes one capture run.
//
//	url: https://example.com/checkout
//	mode: draw
//	viewport: {width: 1440, height: 900}
//	draw:
//	  - {tool: rectangle, color: "#3b82f6", from: [100, 120], to: [420, 260]}
//	  - {tool: pen, points: [[30, 30], [60, 45], [90, 30]]}
//	  - {undo: true}
//	output: {dir: out}
type Job struct {
	URL      string          `yaml:"url"`
	Mode     screenshot.Mode `yaml:"mode"`
	Viewport ViewportJob     `yaml:"viewport"`
	Browser  BrowserJob      `yaml:"browser"`
	Settle   time.Duration   `yaml:"settle"`
	Quality  float64         `yaml:"quality"`

	// Region is the snippet selection in viewport CSS pixels. Ignored when
	// Overlay is set.
	Region *RegionJob `yaml:"region"`

	// Overlay lets a person select the snippet region in a headful browser.
	Overlay bool `yaml:"overlay"`

	// Draw is the gesture script applied in draw mode, in image pixels.
	Draw []Gesture `yaml:"draw"`

	Output    OutputJob  `yaml:"output"`
	Submit    *SubmitJob `yaml:"submit"`
	MetricsDB string     `yaml:"metrics_db"`
}

type ViewportJob struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	PixelRatio float64 `yaml:"pixel_ratio"`
}

type BrowserJob struct {
	Level        string        `yaml:"level"` // headless, headful, plain
	Remote       string        `yaml:"remote"`
	Bin          string        `yaml:"bin"`
	Block        []string      `yaml:"block"`
	AllowPrivate bool          `yaml:"allow_private"`
	NavTimeout   time.Duration `yaml:"nav_timeout"`
}

type RegionJob struct {
	Left   float64 `yaml:"left"`
	Top    float64 `yaml:"top"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Gesture is one annotation step: a mark, an undo or a clear.
type Gesture struct {
	Tool   annotate.Tool `yaml:"tool"`
	Color  string        `yaml:"color"`
	Width  float64       `yaml:"width"`
	From   *[2]float64   `yaml:"from"`
	To     *[2]float64   `yaml:"to"`
	Points [][2]float64  `yaml:"points"`
	Undo   bool          `yaml:"undo"`
	Clear  bool          `yaml:"clear"`
}

type OutputJob struct {
	Dir  string `yaml:"dir"`
	Name string `yaml:"name"` // default: the screenshot download name
}

type SubmitJob struct {
	Endpoint    string `yaml:"endpoint"` // feedback mount, e.g. http://localhost:8080/feedback
	Token       string `yaml:"token"`    // default: $FEEDSHOT_TOKEN
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Priority    string `yaml:"priority"`
}

// loadJob reads a YAML job file. An empty path yields an empty job.
func loadJob(path string) (*Job, error) {
	j := &Job{}
	if path == "" {
		return j, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	if err := yaml.Unmarshal(data, j); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", path, err)
	}
	return j, nil
}

func (j *Job) applyDefaults() {
	if j.Mode == "" {
		j.Mode = screenshot.Full
	}
	if j.Viewport.Width <= 0 {
		j.Viewport.Width = 1280
	}
	if j.Viewport.Height <= 0 {
		j.Viewport.Height = 800
	}
	if j.Output.Dir == "" {
		j.Output.Dir = "."
	}
	if j.Submit != nil && j.Submit.Token == "" {
		j.Submit.Token = os.Getenv("FEEDSHOT_TOKEN")
	}
}

func (j *Job) validate() error {
	var errs []error
	if j.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if !j.Mode.Valid() {
		errs = append(errs, fmt.Errorf("unknown mode %q", j.Mode))
	}
	if _, err := browser.ParseLevel(j.Browser.Level); err != nil {
		errs = append(errs, err)
	}
	if j.Mode == screenshot.Snippet && !j.Overlay {
		if j.Region == nil {
			errs = append(errs, errors.New("snippet mode needs a region or overlay: true"))
		} else if j.Region.Width <= 0 || j.Region.Height <= 0 {
			errs = append(errs, errors.New("region width and height must be positive"))
		}
	}
	if j.Overlay && j.Mode != screenshot.Snippet {
		errs = append(errs, errors.New("overlay only applies to snippet mode"))
	}
	for i, g := range j.Draw {
		if err := g.validate(); err != nil {
			errs = append(errs, fmt.Errorf("draw[%d]: %w", i, err))
		}
	}
	if j.Submit != nil && j.Submit.Endpoint == "" {
		errs = append(errs, errors.New("submit.endpoint is required"))
	}
	return errors.Join(errs...)
}

func (g Gesture) validate() error {
	if g.Undo || g.Clear {
		return nil
	}
	if _, err := annotate.ParseTool(string(g.Tool)); err != nil {
		return err
	}
	if g.Color != "" {
		col, err := annotate.ParseColor(g.Color)
		if err != nil {
			return err
		}
		if !annotate.InPalette(col) {
			return fmt.Errorf("%w: %s", annotate.ErrColor, g.Color)
		}
	}
	if g.Tool == annotate.Pen {
		if len(g.Points) == 0 {
			return errors.New("pen needs points")
		}
		return nil
	}
	if g.From == nil || g.To == nil {
		return fmt.Errorf("%s needs from and to", g.Tool)
	}
	return nil
}

// path returns the pointer positions of the gesture in image pixels.
func (g Gesture) path() []geom.Point {
	if g.Tool == annotate.Pen {
		pts := make([]geom.Point, len(g.Points))
		for i, p := range g.Points {
			pts[i] = geom.Pt(p[0], p[1])
		}
		return pts
	}
	return []geom.Point{geom.Pt(g.From[0], g.From[1]), geom.Pt(g.To[0], g.To[1])}
}
