// internal/reconcile/sink.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink persists a resolved download under its final file name and returns
// where it was stored.
type Sink interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// linkFile publishes the staged temp file under its final name.
var linkFile = os.Link

// DirSink writes downloads into a local directory. Existing files are never
// overwritten; a " (n)" suffix is added instead.
type DirSink struct {
	Dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure output directory: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

func (s *DirSink) Save(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	temp, err := os.CreateTemp(s.Dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	// The temp name is only a staging link; the final name is hard-linked.
	defer os.Remove(temp.Name())

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 0; n < 1000; n++ {
		candidate := base
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		dst := filepath.Join(s.Dir, candidate)
		err := linkFile(temp.Name(), dst)
		if err != nil && !errors.Is(err, os.ErrExist) {
			err = writeExclusive(dst, data)
		}
		if err == nil {
			return dst, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("save %s: %w", dst, err)
		}
	}
	return "", fmt.Errorf("no free file name for %s in %s", base, s.Dir)
}

// writeExclusive creates dst only if it does not exist yet. A partial file is
// removed on failure.
func writeExclusive(dst string, data []byte) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
