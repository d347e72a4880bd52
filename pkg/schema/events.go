// pkg/schema/events.go
package schema

import "encoding/json"

// Metadata is the processing service's description of a would-be conversion.
// SizeReduction is kept as the service's own number text so it is never re-rounded.
type Metadata struct {
	OriginalWidth  int         `json:"original_width"`
	OriginalHeight int         `json:"original_height"`
	OriginalFormat string      `json:"original_format"`
	OriginalSize   int64       `json:"original_size"`
	NewWidth       int         `json:"new_width"`
	NewHeight      int         `json:"new_height"`
	NewFormat      string      `json:"new_format"`
	NewSize        int64       `json:"new_size"`
	SizeReduction  json.Number `json:"size_reduction_percent"`
}

type ProcessingStage string

const (
	StageValidation ProcessingStage = "validation"
	StageProbe      ProcessingStage = "probe"
	StageDownload   ProcessingStage = "download"
	StageCompleted  ProcessingStage = "completed"
	StageFailed     ProcessingStage = "failed"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

type ImageResult struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Source      string      `json:"source"`
	Status      string      `json:"status"`
	Metadata    *Metadata   `json:"metadata,omitempty"`
	Error       string      `json:"error,omitempty"`
	FailureType FailureType `json:"failure_type,omitempty"`
}

type BatchDone struct {
	BatchID          string        `json:"batch_id"`
	Generation       uint64        `json:"generation"`
	MaxWidth         int           `json:"max_width"`
	MaxHeight        int           `json:"max_height"`
	Quality          int           `json:"quality"`
	TotalProcessed   int           `json:"total_processed"`
	TotalFailed      int           `json:"total_failed"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Results          []ImageResult `json:"results,omitempty"`
	HappenedAt       int64         `json:"happened_at"`
}

type DownloadDone struct {
	ImageID          string          `json:"image_id"`
	FileName         string          `json:"file_name"`
	Location         string          `json:"location,omitempty"`
	Stage            ProcessingStage `json:"stage"`
	Attempts         int             `json:"attempts"`
	ContentType      string          `json:"content_type,omitempty"`
	FormatGuaranteed bool            `json:"format_guaranteed"`
	Warning          string          `json:"warning,omitempty"`
	SizeBytes        int64           `json:"size_bytes,omitempty"`
	Width            int             `json:"width,omitempty"`
	Height           int             `json:"height,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Error            string          `json:"error,omitempty"`
	FailureType      FailureType     `json:"failure_type,omitempty"`
	HappenedAt       int64           `json:"happened_at"`
}
