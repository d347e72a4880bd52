package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tendant/simple-webp/internal/request"
	"github.com/tendant/simple-webp/pkg/schema"
)

const metadataJSON = `{"original_width":2000,"original_height":1000,"original_format":"jpeg","original_size":500000,"new_width":1200,"new_height":600,"new_format":"webp","new_size":120000,"size_reduction_percent":76}`

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL: url,
		Timeout: timeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestProbeUpload(t *testing.T) {
	var got struct {
		method, query, name   string
		width, quality, ratio string
		metadata              string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.query = r.URL.RawQuery
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		_, header, err := r.FormFile("image")
		if err == nil {
			got.name = header.Filename
		}
		got.width = r.FormValue("max_width")
		got.quality = r.FormValue("quality")
		got.ratio = r.FormValue("preserve_ratio")
		got.metadata = r.PostFormValue("metadata")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, metadataJSON)
	}))
	defer srv.Close()

	src, err := request.NewFileSource("photo.png", pngHeader)
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}

	meta, err := newTestClient(t, srv.URL, time.Second).Probe(context.Background(), src, request.Settings{MaxWidth: 1200, MaxHeight: 1200, Quality: 80})
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}

	if got.method != http.MethodPost || got.query != "metadata=true" {
		t.Fatalf("unexpected request %s ?%s", got.method, got.query)
	}
	if got.name != "photo.png" || got.width != "1200" || got.quality != "80" || got.ratio != "true" || got.metadata != "true" {
		t.Fatalf("unexpected form values: %+v", got)
	}
	if meta.NewWidth != 1200 || meta.NewFormat != "webp" || meta.OriginalSize != 500000 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.SizeReduction.String() != "76" {
		t.Fatalf("size reduction should be verbatim, got %q", meta.SizeReduction)
	}
}

func TestProbeURLKeepsServerRounding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != request.URLPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("url") != "https://example.com/cat.jpg" {
			t.Errorf("url param = %q", r.URL.Query().Get("url"))
		}
		io.WriteString(w, `{"new_format":"webp","new_size":10,"original_size":30,"size_reduction_percent":66.67}`)
	}))
	defer srv.Close()

	src, _ := request.NewURLSource("https://example.com/cat.jpg")
	meta, err := newTestClient(t, srv.URL, time.Second).Probe(context.Background(), src, request.DefaultSettings())
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if meta.SizeReduction.String() != "66.67" {
		t.Fatalf("size reduction = %q, want 66.67", meta.SizeReduction)
	}
}

func TestProbeInvalidSettingsSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	src, _ := request.NewURLSource("https://example.com/cat.jpg")
	client := newTestClient(t, srv.URL, time.Second)

	for _, s := range []request.Settings{
		{MaxWidth: 100, MaxHeight: 100, Quality: 0},
		{MaxWidth: 100, MaxHeight: 100, Quality: 101},
		{MaxWidth: -1, MaxHeight: 100, Quality: 50},
		{MaxWidth: 100, MaxHeight: -1, Quality: 50},
	} {
		_, err := client.Probe(context.Background(), src, s)
		var verr request.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("settings %+v: expected ValidationError, got %v", s, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestProbeServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Failed to fetch image", http.StatusBadRequest)
	}))
	defer srv.Close()

	src, _ := request.NewURLSource("https://example.com/cat.jpg")
	_, err := newTestClient(t, srv.URL, time.Second).Probe(context.Background(), src, request.DefaultSettings())

	var serr *ServiceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serr.Status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", serr.Status)
	}
	if Classify(err) != schema.FailureTypePermanent {
		t.Fatalf("classify = %s", Classify(err))
	}
}

func TestProbeDecodeError(t *testing.T) {
	bodies := []string{"", "not json", "[1,2,3]", "{}", `{"new_width":"wide"}`}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer srv.Close()

			src, _ := request.NewURLSource("https://example.com/cat.jpg")
			_, err := newTestClient(t, srv.URL, time.Second).Probe(context.Background(), src, request.DefaultSettings())
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src, _ := request.NewURLSource("https://example.com/cat.jpg")
	_, err := newTestClient(t, srv.URL, 50*time.Millisecond).Fetch(context.Background(), request.BuildDescriptor(src, request.DefaultSettings()).Plan(false))

	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if Classify(err) != schema.FailureTypeRetryable {
		t.Fatalf("timeouts should be retryable, got %s", Classify(err))
	}
}

func TestFetchReturnsDeclaredContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xFF, 0xD8, 0xFF})
	}))
	defer srv.Close()

	src, _ := request.NewURLSource("https://example.com/cat.jpg")
	payload, err := newTestClient(t, srv.URL, time.Second).Fetch(context.Background(), request.BuildDescriptor(src, request.DefaultSettings()).Plan(false))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if payload.ContentType != "image/jpeg" || len(payload.Data) != 3 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"status":"OK"}`)
	}))
	defer srv.Close()

	if err := newTestClient(t, srv.URL, time.Second).Health(context.Background()); err != nil {
		t.Fatalf("Health returned error: %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want schema.FailureType
	}{
		{"nil", nil, ""},
		{"validation", request.ValidationError{Field: "url", Message: "bad"}, schema.FailureTypeValidation},
		{"server error", &ServiceError{Status: 502}, schema.FailureTypeRetryable},
		{"rate limited", &ServiceError{Status: 429}, schema.FailureTypeRetryable},
		{"not found", &ServiceError{Status: 404}, schema.FailureTypePermanent},
		{"decode", &DecodeError{What: "metadata"}, schema.FailureTypePermanent},
		{"unknown", errors.New("connection refused"), schema.FailureTypeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error without base URL")
	}
}
