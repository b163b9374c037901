package feedback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoScreenshots is returned when exporting a report without screenshots.
var ErrNoScreenshots = errors.New("feedback: report has no screenshots")

func init() {
	// Keep pdfcpu from creating a config directory in $HOME.
	api.DisableConfigDir()
}

// ScreenshotsPDF renders a report's screenshots as a PDF, one image per
// page in submission order.
func (w *Widget) ScreenshotsPDF(ctx context.Context, reportID string) ([]byte, error) {
	if _, err := w.loadReport(ctx, w.db, reportID); err != nil {
		return nil, err
	}
	shots, err := w.Screenshots(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if len(shots) == 0 {
		return nil, ErrNoScreenshots
	}

	imgs := make([]io.Reader, len(shots))
	for i, s := range shots {
		imgs[i] = bytes.NewReader(s.Image.Data)
	}

	var buf bytes.Buffer
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, &buf, imgs, imp, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("feedback: build pdf: %w", err)
	}
	w.log.Debug("feedback: pdf exported", "id", reportID, "pages", len(shots), "bytes", buf.Len())
	return buf.Bytes(), nil
}
