// internal/request/plan.go
package request

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	TargetFormat = "webp"
	TargetMIME   = "image/webp"

	UploadPath = "/process/upload"
	URLPath    = "/process/url"

	// ImageField carries the uploaded bytes in multipart bodies.
	ImageField = "image"
)

// Field is a single ordered form or query parameter.
type Field struct {
	Name  string
	Value string
}

// FilePart is the binary part of a multipart upload.
type FilePart struct {
	FieldName string
	FileName  string
	Data      []byte
}

// Plan is a fully resolved request against the processing service, built
// without any I/O. Build turns it into an *http.Request.
type Plan struct {
	Method string
	Path   string
	Query  []Field
	Fields []Field
	File   *FilePart
}

// Descriptor holds what is needed to issue a download later: the source
// (file bytes by reference) and the settings snapshot.
type Descriptor struct {
	Source   Source
	Settings Settings
}

// ProbePlan builds the metadata request for src.
func ProbePlan(src Source, s Settings) Plan {
	params := append(settingFields(s), Field{"metadata", "true"})
	switch src.Kind() {
	case KindFile:
		return Plan{
			Method: http.MethodPost,
			Path:   UploadPath,
			Query:  []Field{{"metadata", "true"}},
			Fields: params,
			File:   filePart(src),
		}
	case KindURL:
		return Plan{
			Method: http.MethodGet,
			Path:   URLPath,
			Query:  append([]Field{{"url", src.URL()}}, params...),
		}
	default:
		panic(fmt.Sprintf("request: unknown source kind %q", src.Kind()))
	}
}

// BuildDescriptor mirrors the probe parameters for a later download.
func BuildDescriptor(src Source, s Settings) Descriptor {
	return Descriptor{Source: src, Settings: s}
}

// Plan builds the download request. With forceFormat set, an additional
// format=webp parameter is appended even though one is already pinned.
func (d Descriptor) Plan(forceFormat bool) Plan {
	params := append(settingFields(d.Settings),
		Field{"format", TargetFormat},
		Field{"download", "true"},
	)
	if forceFormat {
		params = append(params, Field{"format", TargetFormat})
	}

	switch d.Source.Kind() {
	case KindFile:
		return Plan{
			Method: http.MethodPost,
			Path:   UploadPath,
			Query:  []Field{{"format", TargetFormat}, {"download", "true"}},
			Fields: params,
			File:   filePart(d.Source),
		}
	case KindURL:
		return Plan{
			Method: http.MethodGet,
			Path:   URLPath,
			Query:  append([]Field{{"url", d.Source.URL()}}, params...),
		}
	default:
		panic(fmt.Sprintf("request: unknown source kind %q", d.Source.Kind()))
	}
}

// Values returns the named parameters of the plan, query and form combined,
// in the order they are sent.
func (p Plan) Values(name string) []string {
	var out []string
	for _, f := range p.Query {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	for _, f := range p.Fields {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// Build renders the plan against baseURL. Multipart bodies are rebuilt on
// every call from the retained bytes.
func (p Plan) Build(ctx context.Context, baseURL string) (*http.Request, error) {
	target := strings.TrimRight(baseURL, "/") + p.Path
	if len(p.Query) > 0 {
		target += "?" + encodeQuery(p.Query)
	}

	if p.File == nil {
		req, err := http.NewRequestWithContext(ctx, p.Method, target, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		return req, nil
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(p.File.FieldName, p.File.FileName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(p.File.Data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	for _, f := range p.Fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, target, bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func settingFields(s Settings) []Field {
	return []Field{
		{"max_width", strconv.Itoa(s.MaxWidth)},
		{"max_height", strconv.Itoa(s.MaxHeight)},
		{"quality", strconv.Itoa(s.Quality)},
		{"preserve_ratio", "true"},
	}
}

func filePart(src Source) *FilePart {
	return &FilePart{FieldName: ImageField, FileName: src.Name(), Data: src.Bytes()}
}

// encodeQuery keeps insertion order, unlike url.Values.Encode.
func encodeQuery(fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, url.QueryEscape(f.Name)+"="+url.QueryEscape(f.Value))
	}
	return strings.Join(parts, "&")
}
