// internal/request/source.go
package request

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultURLName names URL images whose path has no usable trailing segment.
const DefaultURLName = "image-from-url"

// Kind tags which variant of Source is populated.
type Kind string

const (
	KindFile Kind = "file"
	KindURL  Kind = "url"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
}

// Source is an image to convert: either uploaded bytes or a remote URL.
// Values are only built through NewFileSource, LoadFile or NewURLSource,
// so exactly one variant is ever populated.
type Source struct {
	kind Kind
	name string
	data []byte
	uri  string
}

// NewFileSource wraps in-memory file bytes. The slice is retained, not copied.
func NewFileSource(name string, data []byte) (Source, error) {
	if len(data) == 0 {
		return Source{}, ValidationError{Field: "file", Message: "file content is empty"}
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "image"
	}
	if !isImage(name, data) {
		return Source{}, ValidationError{Field: "file", Message: fmt.Sprintf("%s is not an image", name)}
	}
	return Source{kind: KindFile, name: name, data: data}, nil
}

// LoadFile reads a local file into a file Source.
func LoadFile(p string) (Source, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Source{}, fmt.Errorf("read %s: %w", p, err)
	}
	return NewFileSource(filepath.Base(p), data)
}

// NewURLSource validates raw as an absolute http(s) URL.
func NewURLSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, ValidationError{Field: "url", Message: "URL cannot be empty"}
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return Source{}, ValidationError{Field: "url", Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Source{}, ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return Source{}, ValidationError{Field: "url", Message: "URL has no host"}
	}
	return Source{kind: KindURL, name: NameFromURL(u), uri: raw}, nil
}

// NameFromURL returns the trailing path segment of u, or DefaultURLName.
func NameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return DefaultURLName
	}
	return base
}

func (s Source) Kind() Kind    { return s.kind }
func (s Source) Name() string  { return s.name }
func (s Source) Bytes() []byte { return s.data }
func (s Source) URL() string   { return s.uri }
func (s Source) IsZero() bool  { return s.kind == "" }

// String is a short log-friendly description.
func (s Source) String() string {
	switch s.kind {
	case KindFile:
		return "file:" + s.name
	case KindURL:
		return "url:" + s.uri
	default:
		return "invalid"
	}
}

func isImage(name string, data []byte) bool {
	if strings.HasPrefix(http.DetectContentType(data), "image/") {
		return true
	}
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
