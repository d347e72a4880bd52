// internal/batch/store.go
package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-webp/internal/process"
	"github.com/tendant/simple-webp/internal/request"
	"github.com/tendant/simple-webp/pkg/schema"
)

// DefaultCapacity is the most images a batch accepts.
const DefaultCapacity = 20

// Item is a pending image awaiting processing.
type Item struct {
	ID     string
	Source request.Source
}

// ProcessedImage is a successfully probed image. It is never mutated after creation.
type ProcessedImage struct {
	ID         string
	SourceName string
	Metadata   schema.Metadata
	Descriptor request.Descriptor
}

// Result is the settled outcome of probing one item.
type Result struct {
	Item  Item
	Image *ProcessedImage
	Err   error
	Task  process.Task
}

func (r Result) OK() bool { return r.Err == nil && r.Image != nil }

// Submission identifies one batch run. Results from an older generation are
// never applied to the store.
type Submission struct {
	ID         string
	Generation uint64
	Items      []Item
	Settings   request.Settings
}

// Store owns the pending images and the results of the current submission.
type Store struct {
	mu         sync.Mutex
	capacity   int
	items      []Item
	results    []Result
	generation uint64
	cancel     context.CancelFunc
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity}
}

// Add appends sources up to capacity. Sources past the limit are dropped and
// counted in the second return value.
func (s *Store) Add(sources ...request.Source) ([]Item, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.capacity - len(s.items)
	if room < 0 {
		room = 0
	}
	accept := sources
	dropped := 0
	if len(sources) > room {
		accept = sources[:room]
		dropped = len(sources) - room
	}

	added := make([]Item, 0, len(accept))
	for _, src := range accept {
		item := Item{ID: uuid.NewString(), Source: src}
		s.items = append(s.items, item)
		added = append(added, item)
	}
	return added, dropped
}

func (s *Store) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - len(s.items)
}

func (s *Store) Capacity() int { return s.capacity }

// Remove drops a pending image by id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

func (s *Store) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}

// Processed returns the successfully probed images of the current results.
func (s *Store) Processed() []ProcessedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProcessedImage
	for _, r := range s.results {
		if r.OK() {
			out = append(out, *r.Image)
		}
	}
	return out
}

// Clear empties the store and abandons any in-flight submission.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandonLocked()
	s.items = nil
	s.results = nil
}

// Begin starts a new submission over a snapshot of the pending items. The
// previous submission's context is canceled.
func (s *Store) Begin(ctx context.Context, settings request.Settings) (context.Context, Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonLocked()
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sub := Submission{
		ID:         uuid.NewString(),
		Generation: s.generation,
		Items:      append([]Item(nil), s.items...),
		Settings:   settings,
	}
	s.results = make([]Result, len(sub.Items))
	for i, item := range sub.Items {
		s.results[i] = Result{Item: item, Task: process.NewTask(process.TaskProbe, item.ID)}
	}
	return ctx, sub
}

// Apply stores one settled result if sub is still the current submission.
func (s *Store) Apply(sub Submission, index int, r Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.Generation != s.generation || index < 0 || index >= len(s.results) {
		return false
	}
	s.results[index] = r
	return true
}

// Finish releases the submission's context if it is still current.
func (s *Store) Finish(sub Submission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.Generation != s.generation {
		return false
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return true
}

// Current reports whether sub is the latest submission.
func (s *Store) Current(sub Submission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sub.Generation == s.generation
}

func (s *Store) abandonLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}
