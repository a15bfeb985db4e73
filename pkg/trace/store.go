package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DefaultPath is the trace file written when no override is configured.
const DefaultPath = "peek.trace.json"

// PathEnv overrides the trace file path for both the default store and any
// program instrumented against it.
const PathEnv = "PEEK_TRACE_FILE"

// Store is the ordered record sequence mirrored to a persisted file.
//
// All mutation is mutex-guarded: instrumented code may append from any
// goroutine, and asynchronous settlements append from the settling
// goroutine. Two separate processes sharing one output path still race
// undetectably; single-process access is the supported model.
type Store struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// NewStore returns an empty store mirroring to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

var (
	defaultStore *Store
	defaultOnce  sync.Once
)

// Default returns the process-wide store used by instrumented code. Its
// path comes from PEEK_TRACE_FILE when set, else DefaultPath.
func Default() *Store {
	defaultOnce.Do(func() {
		path := os.Getenv(PathEnv)
		if path == "" {
			path = DefaultPath
		}
		defaultStore = NewStore(path)
	})
	return defaultStore
}

// SetPath changes the store's mirror file. It does not move an existing
// file; the next flush writes to the new path.
func (s *Store) SetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = path
}

// Path returns the store's mirror file path.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Append adds a record to the sequence and overwrites the persisted file
// with the complete re-serialized sequence.
//
// A write failure is not defensively handled: it propagates synchronously
// to the appending call as an error. Callers embedded in instrumented code
// (the monitor) escalate it, by design.
func (s *Store) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.flushLocked()
}

// ReadAll returns a copy of the in-memory sequence.
func (s *Store) ReadAll() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records in the sequence.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Clear resets the sequence and deletes the persisted file. A missing file
// is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove trace file: %w", err)
	}
	return nil
}

// Flush rewrites the persisted file from the in-memory sequence. Appends
// already flush; Flush exists as an explicit shutdown hook for callers that
// bypass Append (none in this module, external harnesses may).
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	data, err := marshalCanonical(s.records)
	if err != nil {
		return fmt.Errorf("failed to serialize trace: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write trace file: %w", err)
	}
	return nil
}

// Load reads the persisted file into a record sequence. A missing file
// yields an empty sequence, not an error.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse trace file: %w", err)
	}
	return records, nil
}
