// internal/img/preview.go
package img

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// PreviewOutput describes a generated preview file.
type PreviewOutput struct {
	Path         string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// GeneratePreview decodes data, fits it into a box x box square and writes a
// PNG to dstPath. Sources smaller than the box are not upscaled.
func GeneratePreview(data []byte, dstPath string, box int) (*PreviewOutput, error) {
	if box <= 0 {
		return nil, fmt.Errorf("preview size must be greater than zero (got %d)", box)
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	srcBounds := src.Bounds()

	thumb := imaging.Fit(src, box, box, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	if err := imaging.Save(thumb, dstPath); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	b := thumb.Bounds()
	return &PreviewOutput{
		Path:         dstPath,
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceWidth:  srcBounds.Dx(),
		SourceHeight: srcBounds.Dy(),
	}, nil
}

// PreviewPath builds the preview file name for an image id and source name.
func PreviewPath(baseDir, id, name string) string {
	base := filepath.Base(name)
	if base == "" || base == "." {
		base = "source"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(baseDir, id+"_preview_"+base+".png")
}
