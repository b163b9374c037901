package screenshot

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
)

// Supported MIME types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// ErrDataURL is returned for malformed or non-image data URLs.
var ErrDataURL = errors.New("screenshot: malformed image data URL")

// Blob is an encoded raster image together with its MIME type. It marshals
// to JSON as a data URL so records can be displayed directly by a browser.
type Blob struct {
	MIME string
	Data []byte
}

// EncodeJPEG encodes img as JPEG. quality is clamped to [1,100].
func EncodeJPEG(img image.Image, quality int) (Blob, error) {
	quality = min(max(quality, 1), 100)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Blob{}, fmt.Errorf("screenshot: encode jpeg: %w", err)
	}
	return Blob{MIME: MIMEJPEG, Data: buf.Bytes()}, nil
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) (Blob, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return Blob{}, fmt.Errorf("screenshot: encode png: %w", err)
	}
	return Blob{MIME: MIMEPNG, Data: buf.Bytes()}, nil
}

// Decode decodes the blob into an image.
func (b Blob) Decode() (image.Image, error) {
	if len(b.Data) == 0 {
		return nil, errors.New("screenshot: decode: empty image")
	}
	img, _, err := image.Decode(bytes.NewReader(b.Data))
	if err != nil {
		return nil, fmt.Errorf("screenshot: decode %s: %w", b.MIME, err)
	}
	return img, nil
}

// Len returns the encoded size in bytes.
func (b Blob) Len() int { return len(b.Data) }

// Empty reports whether the blob carries no data.
func (b Blob) Empty() bool { return len(b.Data) == 0 }

// Ext returns the file extension matching the MIME type.
func (b Blob) Ext() string {
	if b.MIME == MIMEJPEG {
		return ".jpg"
	}
	return ".png"
}

// DataURL renders the blob as "data:<mime>;base64,<payload>".
func (b Blob) DataURL() string {
	if b.Empty() {
		return ""
	}
	return "data:" + b.MIME + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}

// ParseDataURL parses a base64 image data URL.
func ParseDataURL(s string) (Blob, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Blob{}, ErrDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Blob{}, ErrDataURL
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok || !strings.HasPrefix(mime, "image/") {
		return Blob{}, ErrDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: %v", ErrDataURL, err)
	}
	return Blob{MIME: mime, Data: data}, nil
}

// MarshalJSON encodes the blob as a data URL string.
func (b Blob) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.DataURL())
}

// UnmarshalJSON accepts a data URL string or an empty string.
func (b *Blob) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*b = Blob{}
		return nil
	}
	parsed, err := ParseDataURL(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
