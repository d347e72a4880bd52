package request

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"reflect"
	"strings"
	"testing"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		field   string
		wantErr bool
	}{
		{"defaults", DefaultSettings(), "", false},
		{"zero bounds", Settings{MaxWidth: 0, MaxHeight: 0, Quality: 1}, "", false},
		{"max quality", Settings{Quality: 100}, "", false},
		{"negative width", Settings{MaxWidth: -1, Quality: 80}, "max_width", true},
		{"negative height", Settings{MaxHeight: -5, Quality: 80}, "max_height", true},
		{"quality zero", Settings{Quality: 0}, "quality", true},
		{"quality above range", Settings{Quality: 101}, "quality", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestNewURLSource(t *testing.T) {
	tests := []struct {
		raw      string
		wantName string
		wantErr  bool
	}{
		{"https://example.com/images/photo.jpg", "photo.jpg", false},
		{"https://example.com/images/photo.jpg?w=100#top", "photo.jpg", false},
		{"https://example.com/", DefaultURLName, false},
		{"https://example.com", DefaultURLName, false},
		{"", "", true},
		{"not a url", "", true},
		{"ftp://example.com/a.png", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			src, err := NewURLSource(tt.raw)
			if tt.wantErr {
				var verr ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewURLSource returned error: %v", err)
			}
			if src.Kind() != KindURL {
				t.Fatalf("kind = %s, want url", src.Kind())
			}
			if src.Name() != tt.wantName {
				t.Fatalf("name = %q, want %q", src.Name(), tt.wantName)
			}
			if src.Bytes() != nil {
				t.Fatal("url source must not carry bytes")
			}
		})
	}
}

func TestNewFileSource(t *testing.T) {
	src, err := NewFileSource("/tmp/dir/photo.png", pngHeader)
	if err != nil {
		t.Fatalf("NewFileSource returned error: %v", err)
	}
	if src.Kind() != KindFile || src.Name() != "photo.png" || src.URL() != "" {
		t.Fatalf("unexpected source: %v", src)
	}
	if &src.Bytes()[0] != &pngHeader[0] {
		t.Fatal("file bytes were copied instead of retained")
	}

	if _, err := NewFileSource("notes.txt", []byte("hello world")); err == nil {
		t.Fatal("expected error for non-image file")
	}
	if _, err := NewFileSource("photo.png", nil); err == nil {
		t.Fatal("expected error for empty file")
	}
	// extension alone is enough when sniffing is inconclusive
	if _, err := NewFileSource("raw.tiff", []byte("II*\x00 not really")); err != nil {
		t.Fatalf("expected tiff extension to be accepted: %v", err)
	}
}

func TestProbeAndDescriptorShareParameters(t *testing.T) {
	src, err := NewFileSource("photo.png", pngHeader)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	s := Settings{MaxWidth: 800, MaxHeight: 600, Quality: 75}

	probe := ProbePlan(src, s)
	download := BuildDescriptor(src, s).Plan(false)

	for _, name := range []string{"max_width", "max_height", "quality", "preserve_ratio"} {
		if got, want := download.Values(name), probe.Values(name); !reflect.DeepEqual(got, want) {
			t.Fatalf("%s differs: probe=%v download=%v", name, want, got)
		}
	}
	if got := probe.Values("metadata"); len(got) == 0 {
		t.Fatal("probe is missing metadata flag")
	}
	if got := download.Values("metadata"); len(got) != 0 {
		t.Fatalf("download must not request metadata, got %v", got)
	}
	if got := download.Values("download"); len(got) == 0 || got[0] != "true" {
		t.Fatalf("download flag missing: %v", got)
	}
	if got := probe.Values("format"); len(got) != 0 {
		t.Fatalf("probe must not pin format, got %v", got)
	}
	if probe.File.Data == nil || &download.File.Data[0] != &probe.File.Data[0] {
		t.Fatal("descriptor must reuse the original bytes")
	}
}

func TestForcedPlanAppendsFormat(t *testing.T) {
	src, _ := NewURLSource("https://example.com/a/cat.jpg")
	d := BuildDescriptor(src, DefaultSettings())

	pinned := d.Plan(false).Values("format")
	forced := d.Plan(true).Values("format")
	if len(pinned) != 1 || len(forced) != 2 {
		t.Fatalf("format values pinned=%v forced=%v", pinned, forced)
	}
	for _, v := range forced {
		if v != TargetFormat {
			t.Fatalf("unexpected format value %q", v)
		}
	}
}

func TestBuildURLRequest(t *testing.T) {
	src, _ := NewURLSource("https://example.com/a/cat.jpg?x=1")
	req, err := ProbePlan(src, Settings{MaxWidth: 10, MaxHeight: 20, Quality: 30}).Build(context.Background(), "http://svc:8080/")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Method != "GET" || req.URL.Path != URLPath {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	q := req.URL.Query()
	want := url.Values{
		"url":            {"https://example.com/a/cat.jpg?x=1"},
		"max_width":      {"10"},
		"max_height":     {"20"},
		"quality":        {"30"},
		"preserve_ratio": {"true"},
		"metadata":       {"true"},
	}
	if !reflect.DeepEqual(q, want) {
		t.Fatalf("query = %v, want %v", q, want)
	}
}

func TestBuildUploadRequestRebuildsBody(t *testing.T) {
	src, _ := NewFileSource("photo.png", pngHeader)
	plan := BuildDescriptor(src, Settings{MaxWidth: 1, MaxHeight: 2, Quality: 3}).Plan(true)

	for i := 0; i < 2; i++ {
		req, err := plan.Build(context.Background(), "http://svc")
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if req.URL.RawQuery != "format=webp&download=true" {
			t.Fatalf("raw query = %q", req.URL.RawQuery)
		}

		_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("parse content type: %v", err)
		}
		form, err := multipart.NewReader(req.Body, params["boundary"]).ReadForm(1 << 20)
		if err != nil {
			t.Fatalf("read form: %v", err)
		}
		if got := form.Value["format"]; len(got) != 2 {
			t.Fatalf("forced body should carry two format fields, got %v", got)
		}
		files := form.File[ImageField]
		if len(files) != 1 || files[0].Filename != "photo.png" {
			t.Fatalf("unexpected file parts: %v", files)
		}
		f, _ := files[0].Open()
		data, _ := io.ReadAll(f)
		f.Close()
		if !strings.HasPrefix(string(data), string(pngHeader[:4])) {
			t.Fatalf("file part corrupted: %x", data)
		}
	}
}
