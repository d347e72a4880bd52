// internal/service/client.go
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-webp/internal/request"
	"github.com/tendant/simple-webp/pkg/schema"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxBodySize = 64 * 1024 * 1024
	errorBodyLimit     = 512
)

// Client talks to the external image processing service.
type Client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	maxBody int64
	logger  *slog.Logger
}

// Options customises a Client. Zero values pick defaults.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxBodySize int64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Payload is a raw response body with its declared content type.
type Payload struct {
	Data        []byte
	ContentType string
	Status      int
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("service base URL is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		}
	}

	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		timeout: opts.Timeout,
		maxBody: opts.MaxBodySize,
		logger:  opts.Logger,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// Probe asks the service for the metadata of converting src with s.
// Invalid settings are rejected before any request is made.
func (c *Client) Probe(ctx context.Context, src request.Source, s request.Settings) (*schema.Metadata, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if src.IsZero() {
		return nil, request.ValidationError{Field: "source", Message: "image has neither file nor URL"}
	}

	payload, err := c.Fetch(ctx, request.ProbePlan(src, s))
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", src.Name(), err)
	}

	meta, err := decodeMetadata(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", src.Name(), err)
	}
	c.logger.Debug("probe complete", "name", src.Name(), "kind", src.Kind(), "new_size", meta.NewSize, "size_reduction_percent", meta.SizeReduction.String())
	return meta, nil
}

// Fetch executes plan and returns the raw body. Non-2xx statuses become
// *ServiceError and deadline hits become *TimeoutError.
func (c *Client) Fetch(ctx context.Context, plan request.Plan) (*Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := plan.Build(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, plan, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		c.logger.Warn("service request failed", "method", plan.Method, "path", plan.Path, "status", resp.StatusCode)
		return nil, &ServiceError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if resp.ContentLength > c.maxBody {
		return nil, fmt.Errorf("response too large: %d bytes (max: %d)", resp.ContentLength, c.maxBody)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, c.transportError(ctx, plan, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("response too large: more than %d bytes", c.maxBody)
	}

	c.logger.Debug("service request complete",
		"method", plan.Method,
		"path", plan.Path,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())

	return &Payload{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Status:      resp.StatusCode,
	}, nil
}

// Health checks the service's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	payload, err := c.Fetch(ctx, request.Plan{Method: http.MethodGet, Path: "/health"})
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload.Data, &body); err != nil {
		return fmt.Errorf("health: %w", &DecodeError{What: "health response", Cause: err})
	}
	if !strings.EqualFold(body.Status, "ok") {
		return fmt.Errorf("health: service reported status %q", body.Status)
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, plan request.Plan, err error) error {
	op := plan.Method + " " + plan.Path
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Cause: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Op: op, Cause: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeMetadata(data []byte) (*schema.Metadata, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &DecodeError{What: "metadata", Cause: errors.New("empty body")}
	}
	if data[0] != '{' {
		return nil, &DecodeError{What: "metadata", Cause: errors.New("body is not a JSON object")}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var meta schema.Metadata
	if err := dec.Decode(&meta); err != nil {
		return nil, &DecodeError{What: "metadata", Cause: err}
	}
	if meta.NewFormat == "" && meta.NewSize == 0 && meta.OriginalSize == 0 {
		return nil, &DecodeError{What: "metadata", Cause: errors.New("no metadata fields present")}
	}
	if meta.SizeReduction == "" {
		meta.SizeReduction = "0"
	}
	return &meta, nil
}
