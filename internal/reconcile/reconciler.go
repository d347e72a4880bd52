// internal/reconcile/reconciler.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/tendant/simple-webp/internal/batch"
	"github.com/tendant/simple-webp/internal/img"
	"github.com/tendant/simple-webp/internal/process"
	"github.com/tendant/simple-webp/internal/request"
	"github.com/tendant/simple-webp/internal/service"
	"github.com/tendant/simple-webp/pkg/schema"
)

// Fetcher issues a planned request against the processing service.
type Fetcher interface {
	Fetch(ctx context.Context, plan request.Plan) (*service.Payload, error)
}

// Publisher receives one event per finished download.
type Publisher interface {
	PublishDownload(schema.DownloadDone) error
}

// State is where a download ended up.
type State string

const (
	StateResolved State = "resolved"
	StateFailed   State = "failed"
)

// FormatMismatchWarning annotates a resolution whose bytes could not be
// confirmed as WebP. It is not an error: the bytes are still saved.
type FormatMismatchWarning struct {
	Declared string
	Reason   string
}

func (w FormatMismatchWarning) String() string {
	if w.Declared == "" {
		return "format not guaranteed: " + w.Reason
	}
	return fmt.Sprintf("format not guaranteed (declared %s): %s", w.Declared, w.Reason)
}

// Resolution is the payload chosen for one download.
type Resolution struct {
	Data        []byte
	ContentType string
	Attempts    int
	Guaranteed  bool
	Warning     *FormatMismatchWarning
	State       State
	Width       int
	Height      int
}

// Outcome is the result of downloading one processed image.
type Outcome struct {
	ImageID    string
	FileName   string
	Location   string
	State      State
	Resolution *Resolution
	Err        error
	Task       process.Task
}

func (o Outcome) OK() bool { return o.Err == nil }

type Options struct {
	// VerifySignature also requires the RIFF/WEBP header before a payload
	// counts as WebP.
	VerifySignature bool
	Publisher       Publisher
	Classify        func(error) schema.FailureType
	Logger          *slog.Logger
}

type Reconciler struct {
	fetcher         Fetcher
	sink            Sink
	verifySignature bool
	publisher       Publisher
	classify        func(error) schema.FailureType
	logger          *slog.Logger
}

func New(fetcher Fetcher, sink Sink, opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Classify == nil {
		opts.Classify = service.Classify
	}
	return &Reconciler{
		fetcher:         fetcher,
		sink:            sink,
		verifySignature: opts.VerifySignature,
		publisher:       opts.Publisher,
		classify:        opts.Classify,
		logger:          opts.Logger,
	}
}

// Resolve fetches the download for d. A payload that is not WebP triggers one
// retry with the format forced; if that still does not yield WebP, the best
// available bytes are returned with a warning. Only a failed primary request
// is an error. An empty body counts as a failed request.
func (r *Reconciler) Resolve(ctx context.Context, d request.Descriptor) (*Resolution, error) {
	primary, err := r.fetch(ctx, d.Plan(false))
	if err != nil {
		return nil, fmt.Errorf("fetch download: %w", err)
	}

	declared, reason, ok := r.check(primary)
	if ok {
		return r.resolved(primary, 1, nil), nil
	}

	logger := r.logger.With("source", d.Source.String())
	logger.Debug("download not webp, forcing format", "content_type", declared, "reason", reason)

	coerced, err := r.fetch(ctx, d.Plan(true))
	if err != nil {
		warning := &FormatMismatchWarning{Declared: declared, Reason: "forced format request failed: " + err.Error()}
		logger.Warn("using unconverted download", "content_type", declared, "err", err)
		return r.resolved(primary, 2, warning), nil
	}

	declared, reason, ok = r.check(coerced)
	if ok {
		return r.resolved(coerced, 2, nil), nil
	}
	warning := &FormatMismatchWarning{Declared: declared, Reason: reason}
	logger.Warn("service ignored forced format", "content_type", declared, "reason", reason)
	return r.resolved(coerced, 2, warning), nil
}

func (r *Reconciler) fetch(ctx context.Context, plan request.Plan) (*service.Payload, error) {
	p, err := r.fetcher.Fetch(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(p.Data) == 0 {
		return nil, &service.DecodeError{What: "download", Cause: errors.New("empty body")}
	}
	return p, nil
}

// check reports the normalized media type of p and whether it is WebP.
func (r *Reconciler) check(p *service.Payload) (string, string, bool) {
	declared := mediaType(p.ContentType)
	if declared != request.TargetMIME {
		if declared == "" {
			return "", "missing content type", false
		}
		return declared, "declared " + declared, false
	}
	if r.verifySignature && !img.HasWebPSignature(p.Data) {
		return declared, "payload lacks webp signature", false
	}
	return declared, "", true
}

func (r *Reconciler) resolved(p *service.Payload, attempts int, warning *FormatMismatchWarning) *Resolution {
	res := &Resolution{
		Data:        p.Data,
		ContentType: mediaType(p.ContentType),
		Attempts:    attempts,
		Guaranteed:  warning == nil,
		Warning:     warning,
		State:       StateResolved,
	}
	if info, err := img.Inspect(p.Data); err == nil {
		res.Width, res.Height = info.Width, info.Height
	}
	return res
}

// Download resolves image and saves it under its finalized name.
func (r *Reconciler) Download(ctx context.Context, image batch.ProcessedImage) Outcome {
	task := process.NewTask(process.TaskDownload, image.ID)
	out := Outcome{ImageID: image.ID, FileName: FinalizeFileName(image.SourceName)}
	logger := r.logger.With("image_id", image.ID, "file_name", out.FileName)

	process.MarkRunning(&task)
	res, err := r.Resolve(ctx, image.Descriptor)
	if err == nil {
		out.Resolution = res
		out.Location, err = r.sink.Save(ctx, out.FileName, res.ContentType, res.Data)
		if err != nil {
			err = fmt.Errorf("save download: %w", err)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			process.MarkCanceled(&task)
		} else {
			process.MarkFailed(&task, err)
		}
		out.Err = err
		out.State = StateFailed
		logger.Error("download failed", "err", err)
	} else {
		process.MarkSucceeded(&task)
		out.State = StateResolved
		meta := image.Metadata
		if res.Width > 0 && meta.NewWidth > 0 && (res.Width != meta.NewWidth || res.Height != meta.NewHeight) {
			logger.Warn("downloaded dimensions differ from probe",
				"width", res.Width, "height", res.Height,
				"probe_width", meta.NewWidth, "probe_height", meta.NewHeight)
		}
		logger.Info("download saved",
			"location", out.Location,
			"content_type", res.ContentType,
			"width", res.Width,
			"height", res.Height,
			"attempts", res.Attempts,
			"format_guaranteed", res.Guaranteed,
			"duration_ms", task.Duration().Milliseconds())
	}
	out.Task = task

	r.publish(out, logger)
	return out
}

// DownloadAll downloads images one after another in list order. A failed
// download is recorded and the rest still run.
func (r *Reconciler) DownloadAll(ctx context.Context, images []batch.ProcessedImage) []Outcome {
	outcomes := make([]Outcome, 0, len(images))
	for _, image := range images {
		outcomes = append(outcomes, r.Download(ctx, image))
	}
	return outcomes
}

func (r *Reconciler) publish(out Outcome, logger *slog.Logger) {
	if r.publisher == nil {
		return
	}

	evt := schema.DownloadDone{
		ImageID:          out.ImageID,
		FileName:         out.FileName,
		Location:         out.Location,
		Stage:            schema.StageCompleted,
		ProcessingTimeMs: out.Task.Duration().Milliseconds(),
		HappenedAt:       time.Now().Unix(),
	}
	if res := out.Resolution; res != nil {
		evt.Attempts = res.Attempts
		evt.ContentType = res.ContentType
		evt.FormatGuaranteed = res.Guaranteed
		evt.SizeBytes = int64(len(res.Data))
		evt.Width = res.Width
		evt.Height = res.Height
		if res.Warning != nil {
			evt.Warning = res.Warning.String()
		}
	}
	if out.Err != nil {
		evt.Stage = schema.StageFailed
		evt.Error = out.Err.Error()
		evt.FailureType = r.classify(out.Err)
	}

	if err := r.publisher.PublishDownload(evt); err != nil {
		logger.Error("publish download result failed", "err", err)
	}
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
