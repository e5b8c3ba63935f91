// Package analysis provides the image-analysis collaborators used to refine
// an answer-based severity: a mock stub, a remote HTTP client and an LRU
// cache in front of either.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/Skufu/veincheck/internal/triage"
)

// ErrInvalidImage is returned for uploads that are empty, too large or not
// a supported image format.
var ErrInvalidImage = errors.New("invalid image")

// Analyzer inspects a photo in the context of the patient's answers.
type Analyzer interface {
	Analyze(ctx context.Context, img Image, actx Context) (*triage.AnalysisResult, error)
}

// Context is what the analyzer knows about the patient besides the photo.
type Context struct {
	Patient triage.PatientRecord `json:"patient"`
	Answers triage.AnswerSet     `json:"symptoms"`
}

type Image struct {
	Data     []byte
	Filename string
	Format   string
	Width    int
	Height   int
}

var supportedFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"webp": true,
}

// DecodeImage checks that data is a PNG, JPEG or WebP image no larger than
// maxBytes. Only the header is decoded.
func DecodeImage(data []byte, filename string, maxBytes int64) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Image{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), maxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if !supportedFormats[format] {
		return Image{}, fmt.Errorf("%w: unsupported format %s", ErrInvalidImage, format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return Image{}, fmt.Errorf("%w: zero dimensions", ErrInvalidImage)
	}

	return Image{
		Data:     data,
		Filename: filename,
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}
