// internal/request/settings.go
package request

import "fmt"

const (
	MinQuality = 1
	MaxQuality = 100
)

// Settings are the resize and quality constraints applied to every image of a batch.
// It is a value type; a batch copies it on submission.
type Settings struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
	Quality   int `yaml:"quality"`
}

func DefaultSettings() Settings {
	return Settings{MaxWidth: 1200, MaxHeight: 1200, Quality: 80}
}

// Validate rejects settings the processing service must never see.
func (s Settings) Validate() error {
	if s.MaxWidth < 0 {
		return ValidationError{Field: "max_width", Message: fmt.Sprintf("max width must be non-negative (got %d)", s.MaxWidth)}
	}
	if s.MaxHeight < 0 {
		return ValidationError{Field: "max_height", Message: fmt.Sprintf("max height must be non-negative (got %d)", s.MaxHeight)}
	}
	if s.Quality < MinQuality || s.Quality > MaxQuality {
		return ValidationError{Field: "quality", Message: fmt.Sprintf("quality must be within [%d,%d] (got %d)", MinQuality, MaxQuality, s.Quality)}
	}
	return nil
}

// ValidationError reports malformed user input caught before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
