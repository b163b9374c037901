// Package screenshot defines the captured image record handed to the
// feedback form and the insertion-ordered collection that holds them.
package screenshot

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the capture path that produced a screenshot.
type Mode string

const (
	Full    Mode = "full"
	Snippet Mode = "snippet"
	Draw    Mode = "draw"
)

// Valid reports whether m is one of the three capture modes.
func (m Mode) Valid() bool {
	return m == Full || m == Snippet || m == Draw
}

// Label is the gallery caption for the mode.
func (m Mode) Label() string {
	switch m {
	case Full:
		return "Full Frame"
	case Snippet:
		return "Snippet"
	case Draw:
		return "Annotated"
	}
	return string(m)
}

// AnnotationNote marks screenshots produced by the annotation canvas.
const AnnotationNote = "User annotations applied"

var (
	ErrNoID      = errors.New("screenshot: id is required")
	ErrNoImage   = errors.New("screenshot: image is required")
	ErrBadMode   = errors.New("screenshot: unknown capture mode")
	ErrDuplicate = errors.New("screenshot: duplicate id")
)

// Screenshot is a finalized capture. JSON field names follow the widget's
// wire form.
type Screenshot struct {
	ID             string    `json:"id"`
	Image          Blob      `json:"dataUrl"`
	Thumbnail      Blob      `json:"thumbnail"`
	Mode           Mode      `json:"captureMode"`
	Timestamp      time.Time `json:"timestamp"`
	AnnotationNote string    `json:"annotations,omitempty"`
}

// New builds a Screenshot. A missing thumbnail, or one larger than the
// image, is replaced by the image itself. Draw-mode screenshots carry
// AnnotationNote.
func New(id string, mode Mode, img, thumb Blob, at time.Time) (Screenshot, error) {
	if id == "" {
		return Screenshot{}, ErrNoID
	}
	if !mode.Valid() {
		return Screenshot{}, fmt.Errorf("%w: %q", ErrBadMode, mode)
	}
	if img.Empty() {
		return Screenshot{}, ErrNoImage
	}
	if thumb.Empty() || thumb.Len() > img.Len() {
		thumb = img
	}
	s := Screenshot{
		ID:        id,
		Image:     img,
		Thumbnail: thumb,
		Mode:      mode,
		Timestamp: at,
	}
	if mode == Draw {
		s.AnnotationNote = AnnotationNote
	}
	return s, nil
}

// DownloadName is the suggested file name for saving the image.
func (s Screenshot) DownloadName() string {
	return DownloadName(s.Timestamp, s.Image.Ext())
}

// DownloadName formats "screenshot_<ISO-8601 UTC with ':' and '.' as '-'><ext>".
func DownloadName(at time.Time, ext string) string {
	iso := at.UTC().Format("2006-01-02T15:04:05.000Z")
	iso = strings.NewReplacer(":", "-", ".", "-").Replace(iso)
	return "screenshot_" + iso + ext
}
