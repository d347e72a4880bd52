// internal/batch/processor.go
package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-webp/internal/process"
	"github.com/tendant/simple-webp/internal/request"
	"github.com/tendant/simple-webp/pkg/schema"
)

// Prober retrieves conversion metadata for one image.
type Prober interface {
	Probe(ctx context.Context, src request.Source, s request.Settings) (*schema.Metadata, error)
}

// Publisher receives a summary once a batch has settled.
type Publisher interface {
	PublishBatchDone(done schema.BatchDone) error
}

// Classifier maps probe errors to failure types for published events.
type Classifier func(error) schema.FailureType

// Options configures a Processor.
type Options struct {
	// Concurrency bounds simultaneous probes; zero probes every image at once.
	Concurrency int
	Publisher   Publisher
	Classify    Classifier
	Logger      *slog.Logger
}

// Processor fans probes out over a batch and joins on all of them.
type Processor struct {
	prober      Prober
	concurrency int
	publisher   Publisher
	classify    Classifier
	logger      *slog.Logger
}

func NewProcessor(prober Prober, opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Classify == nil {
		opts.Classify = func(err error) schema.FailureType {
			if err == nil {
				return ""
			}
			return schema.FailureTypeRetryable
		}
	}
	return &Processor{
		prober:      prober,
		concurrency: opts.Concurrency,
		publisher:   opts.Publisher,
		classify:    opts.Classify,
		logger:      opts.Logger,
	}
}

// Submit validates settings, then probes every pending item of store as a new
// submission. Results are applied only while the submission is current; the
// returned bool is false when a newer submission superseded this one.
func (p *Processor) Submit(ctx context.Context, store *Store, settings request.Settings) ([]Result, bool, error) {
	if err := settings.Validate(); err != nil {
		return nil, false, err
	}

	ctx, sub := store.Begin(ctx, settings)
	logger := p.logger.With("batch_id", sub.ID, "generation", sub.Generation)
	if len(sub.Items) == 0 {
		store.Finish(sub)
		return nil, true, nil
	}
	logger.Info("batch submitted", "images", len(sub.Items), "max_width", settings.MaxWidth, "max_height", settings.MaxHeight, "quality", settings.Quality)

	start := time.Now()
	results := p.run(ctx, sub, func(i int, r Result) {
		if !store.Apply(sub, i, r) {
			logger.Debug("discarding stale result", "image_id", r.Item.ID)
		}
	})
	current := store.Finish(sub)

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	logger.Info("batch settled", "processed", len(results)-failed, "failed", failed, "current", current, "processing_time_ms", time.Since(start).Milliseconds())

	if current {
		p.publish(sub, results, start, logger)
	}
	return results, current, nil
}

// Process probes items concurrently and returns one Result per item in input
// order. A failing image never aborts its siblings.
func (p *Processor) Process(ctx context.Context, items []Item, settings request.Settings) []Result {
	if err := settings.Validate(); err != nil {
		results := make([]Result, len(items))
		for i, item := range items {
			task := process.NewTask(process.TaskProbe, item.ID)
			process.MarkFailed(&task, err)
			results[i] = Result{Item: item, Err: err, Task: task}
		}
		return results
	}
	sub := Submission{Items: items, Settings: settings}
	return p.run(ctx, sub, nil)
}

func (p *Processor) run(ctx context.Context, sub Submission, apply func(int, Result)) []Result {
	results := make([]Result, len(sub.Items))

	var g errgroup.Group
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for i, item := range sub.Items {
		g.Go(func() error {
			r := p.probeOne(ctx, item, sub.Settings)
			results[i] = r
			if apply != nil {
				apply(i, r)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Processor) probeOne(ctx context.Context, item Item, settings request.Settings) Result {
	task := process.NewTask(process.TaskProbe, item.ID)
	logger := p.logger.With("image_id", item.ID, "name", item.Source.Name())

	if err := ctx.Err(); err != nil {
		process.MarkCanceled(&task)
		return Result{Item: item, Err: err, Task: task}
	}

	process.MarkRunning(&task)
	meta, err := p.prober.Probe(ctx, item.Source, settings)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			process.MarkCanceled(&task)
		} else {
			process.MarkFailed(&task, err)
		}
		logger.Error("probe failed", "source", item.Source.String(), "err", err)
		return Result{Item: item, Err: err, Task: task}
	}

	process.MarkSucceeded(&task)
	logger.Info("probe succeeded",
		"new_width", meta.NewWidth,
		"new_height", meta.NewHeight,
		"new_size", meta.NewSize,
		"size_reduction_percent", meta.SizeReduction.String(),
		"duration_ms", task.Duration().Milliseconds())

	return Result{
		Item: item,
		Image: &ProcessedImage{
			ID:         item.ID,
			SourceName: item.Source.Name(),
			Metadata:   *meta,
			Descriptor: request.BuildDescriptor(item.Source, settings),
		},
		Task: task,
	}
}

func (p *Processor) publish(sub Submission, results []Result, start time.Time, logger *slog.Logger) {
	if p.publisher == nil {
		return
	}

	done := schema.BatchDone{
		BatchID:          sub.ID,
		Generation:       sub.Generation,
		MaxWidth:         sub.Settings.MaxWidth,
		MaxHeight:        sub.Settings.MaxHeight,
		Quality:          sub.Settings.Quality,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		HappenedAt:       time.Now().Unix(),
	}
	for _, r := range results {
		ir := schema.ImageResult{
			ID:     r.Item.ID,
			Name:   r.Item.Source.Name(),
			Source: string(r.Item.Source.Kind()),
			Status: string(r.Task.Status),
		}
		if r.OK() {
			meta := r.Image.Metadata
			ir.Metadata = &meta
			done.TotalProcessed++
		} else {
			ir.Error = r.Err.Error()
			ir.FailureType = p.classify(r.Err)
			done.TotalFailed++
		}
		done.Results = append(done.Results, ir)
	}

	if err := p.publisher.PublishBatchDone(done); err != nil {
		logger.Error("publish batch result failed", "err", err)
	}
}
