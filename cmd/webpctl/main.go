// cmd/webpctl submits a batch of images to the WebP processing service,
// prints what each conversion would produce and optionally downloads the
// converted files.
//
// Usage:
//
//	webpctl photo.jpg https://example.com/banner.png
//	webpctl -quality 70 -max-width 800 -download -out ./webp *.png
//	webpctl -config webpctl.yaml -json images/*.jpg
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-webp/internal/batch"
	"github.com/tendant/simple-webp/internal/bus"
	"github.com/tendant/simple-webp/internal/img"
	"github.com/tendant/simple-webp/internal/reconcile"
	"github.com/tendant/simple-webp/internal/request"
	"github.com/tendant/simple-webp/internal/service"
)

type runOptions struct {
	Download bool
	JSON     bool
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "YAML config file")
	serviceURL := flag.String("url", "", "processing service base URL (overrides SERVICE_URL)")
	maxWidth := flag.Int("max-width", 0, "maximum output width in pixels")
	maxHeight := flag.Int("max-height", 0, "maximum output height in pixels")
	quality := flag.Int("quality", 0, "WebP quality, 1-100")
	outDir := flag.String("out", "", "directory for downloaded files (overrides OUTPUT_DIR)")
	download := flag.Bool("download", false, "download every processed image as WebP")
	asJSON := flag.Bool("json", false, "print results as JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file|url>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.ServiceURL = *serviceURL
		case "max-width":
			cfg.Settings.MaxWidth = *maxWidth
		case "max-height":
			cfg.Settings.MaxHeight = *maxHeight
		case "quality":
			cfg.Settings.Quality = *quality
		case "out":
			cfg.OutputDir = *outDir
		}
	})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed, err := run(ctx, cfg, flag.Args(), runOptions{Download: *download, JSON: *asJSON}, os.Stdout, logger)
	if err != nil {
		fatal(logger, "webpctl failed", err)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// run processes args as one batch and returns how many images failed.
func run(ctx context.Context, cfg Config, args []string, opts runOptions, out io.Writer, logger *slog.Logger) (int, error) {
	logger.Info("webpctl starting",
		"service_url", cfg.ServiceURL,
		"max_width", cfg.Settings.MaxWidth,
		"max_height", cfg.Settings.MaxHeight,
		"quality", cfg.Settings.Quality,
		"max_images", cfg.MaxImages,
		"sink", cfg.Sink)

	client, err := service.NewClient(service.Options{
		BaseURL: cfg.ServiceURL,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return 0, fmt.Errorf("create service client: %w", err)
	}

	if err := client.Health(ctx); err != nil {
		logger.Warn("processing service health check failed", "service_url", cfg.ServiceURL, "err", err)
	}

	sources, rejected := loadSources(args, logger)

	store := batch.NewStore(cfg.MaxImages)
	_, dropped := store.Add(sources...)
	if dropped > 0 {
		logger.Warn("batch is full, images dropped", "dropped", dropped, "capacity", store.Capacity())
	}
	if len(store.Items()) == 0 {
		return rejected + dropped, fmt.Errorf("no images to process")
	}

	var (
		batchPub    batch.Publisher
		downloadPub reconcile.Publisher
		nc          *bus.Client
	)
	if cfg.NATSURL != "" {
		nc, err = bus.Connect(cfg.NATSURL)
		if err != nil {
			logger.Error("connect to NATS, events disabled", "nats_url", cfg.NATSURL, "err", err)
		} else {
			defer nc.Close()
			events := bus.NewEvents(nc, cfg.BatchSubject)
			batchPub, downloadPub = events, events
			logger.Info("connected to NATS", "nats_url", cfg.NATSURL, "subject", cfg.BatchSubject)
		}
	}

	processor := batch.NewProcessor(client, batch.Options{
		Concurrency: cfg.ProbeConcurrency,
		Publisher:   batchPub,
		Classify:    service.Classify,
		Logger:      logger,
	})
	results, _, err := processor.Submit(ctx, store, cfg.Settings)
	if err != nil {
		return 0, fmt.Errorf("submit batch: %w", err)
	}

	failed := rejected + dropped
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}

	if cfg.PreviewDir != "" {
		writePreviews(cfg, results, logger)
	}

	if err := printResults(out, results, opts.JSON); err != nil {
		return failed, fmt.Errorf("print results: %w", err)
	}

	if opts.Download {
		images := store.Processed()
		if len(images) > 0 {
			sink, err := newSink(ctx, cfg, logger)
			if err != nil {
				return failed, err
			}
			rec := reconcile.New(client, sink, reconcile.Options{
				VerifySignature: cfg.VerifySignature,
				Publisher:       downloadPub,
				Classify:        service.Classify,
				Logger:          logger,
			})
			outcomes := rec.DownloadAll(ctx, images)
			for _, o := range outcomes {
				if !o.OK() {
					failed++
				}
			}
			if err := printDownloads(out, outcomes, opts.JSON); err != nil {
				return failed, fmt.Errorf("print downloads: %w", err)
			}
		}
	}

	if nc != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := nc.Flush(flushCtx); err != nil {
			logger.Warn("flush NATS events", "err", err)
		}
	}
	return failed, nil
}

// loadSources turns arguments into sources. Arguments that look like URLs
// are fetched by the service; everything else is read from disk.
func loadSources(args []string, logger *slog.Logger) ([]request.Source, int) {
	var sources []request.Source
	rejected := 0
	for _, arg := range args {
		var (
			src request.Source
			err error
		)
		if isURL(arg) {
			src, err = request.NewURLSource(arg)
		} else {
			src, err = request.LoadFile(arg)
		}
		if err != nil {
			rejected++
			logger.Error("skipping input", "input", arg, "err", err)
			continue
		}
		sources = append(sources, src)
	}
	return sources, rejected
}

func isURL(arg string) bool {
	lower := strings.ToLower(arg)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func newSink(ctx context.Context, cfg Config, logger *slog.Logger) (reconcile.Sink, error) {
	switch cfg.Sink {
	case sinkMinIO:
		sink, err := reconcile.NewMinIOSink(ctx, cfg.MinIO, logger)
		if err != nil {
			return nil, fmt.Errorf("create minio sink: %w", err)
		}
		return sink, nil
	default:
		sink, err := reconcile.NewDirSink(cfg.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("create output sink: %w", err)
		}
		logger.Info("ensured output directory", "output_dir", cfg.OutputDir)
		return sink, nil
	}
}

func writePreviews(cfg Config, results []batch.Result, logger *slog.Logger) {
	for _, r := range results {
		if !r.OK() || r.Item.Source.Kind() != request.KindFile {
			continue
		}
		dst := img.PreviewPath(cfg.PreviewDir, r.Item.ID, r.Item.Source.Name())
		preview, err := img.GeneratePreview(r.Item.Source.Bytes(), dst, cfg.PreviewSize)
		if err != nil {
			logger.Warn("generate preview", "image_id", r.Item.ID, "name", r.Item.Source.Name(), "err", err)
			continue
		}
		logger.Debug("preview written", "image_id", r.Item.ID, "path", preview.Path, "width", preview.Width, "height", preview.Height)
	}
}

type resultRow struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Original      string `json:"original,omitempty"`
	Converted     string `json:"converted,omitempty"`
	OriginalSize  int64  `json:"original_size,omitempty"`
	NewSize       int64  `json:"new_size,omitempty"`
	SizeReduction string `json:"size_reduction_percent,omitempty"`
	Error         string `json:"error,omitempty"`
}

func printResults(w io.Writer, results []batch.Result, asJSON bool) error {
	rows := make([]resultRow, 0, len(results))
	for _, r := range results {
		row := resultRow{Name: r.Item.Source.Name(), Status: string(r.Task.Status)}
		if r.OK() {
			m := r.Image.Metadata
			row.Original = fmt.Sprintf("%dx%d %s", m.OriginalWidth, m.OriginalHeight, m.OriginalFormat)
			row.Converted = fmt.Sprintf("%dx%d %s", m.NewWidth, m.NewHeight, m.NewFormat)
			row.OriginalSize = m.OriginalSize
			row.NewSize = m.NewSize
			row.SizeReduction = m.SizeReduction.String()
		} else if r.Err != nil {
			row.Error = r.Err.Error()
		}
		rows = append(rows, row)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"results": rows})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tORIGINAL\tWEBP\tSIZE\tSAVED")
	for _, row := range rows {
		if row.Error != "" {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t%s\n", row.Name, row.Status, row.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s -> %s\t%s%%\n",
			row.Name, row.Status, row.Original, row.Converted,
			formatFileSize(row.OriginalSize), formatFileSize(row.NewSize), row.SizeReduction)
	}
	return tw.Flush()
}

type downloadRow struct {
	ImageID   string `json:"image_id"`
	FileName  string `json:"file_name"`
	Location  string `json:"location,omitempty"`
	Size      int    `json:"size,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Guarantee bool   `json:"format_guaranteed"`
	Warning   string `json:"warning,omitempty"`
	Error     string `json:"error,omitempty"`
}

func printDownloads(w io.Writer, outcomes []reconcile.Outcome, asJSON bool) error {
	rows := make([]downloadRow, 0, len(outcomes))
	for _, o := range outcomes {
		row := downloadRow{ImageID: o.ImageID, FileName: o.FileName, Location: o.Location}
		if res := o.Resolution; res != nil {
			row.Size = len(res.Data)
			row.Width, row.Height = res.Width, res.Height
			row.Attempts = res.Attempts
			row.Guarantee = res.Guaranteed
			if res.Warning != nil {
				row.Warning = res.Warning.String()
			}
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		rows = append(rows, row)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"downloads": rows})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nFILE\tLOCATION\tDIMENSIONS\tSIZE\tNOTE")
	for _, row := range rows {
		note := row.Warning
		if row.Error != "" {
			note = row.Error
		}
		if note == "" {
			note = "ok"
		}
		dims := "-"
		if row.Width > 0 {
			dims = fmt.Sprintf("%dx%d", row.Width, row.Height)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row.FileName, row.Location, dims, formatFileSize(int64(row.Size)), note)
	}
	return tw.Flush()
}

// formatFileSize renders n bytes in binary units, "0 Bytes" for zero.
func formatFileSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	return humanize.IBytes(uint64(n))
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
