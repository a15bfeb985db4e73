package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

// Accessor is the external-facing surface over a persisted trace file,
// consumed by tests and tooling. It reads the file directly, so it works
// against traces produced by a separate instrumented process.
type Accessor struct {
	Path string
}

// NewAccessor returns an accessor over the given trace file. An empty path
// selects the default store's path.
func NewAccessor(path string) *Accessor {
	if path == "" {
		path = Default().Path()
	}
	return &Accessor{Path: path}
}

// GetAll returns every persisted record, in order. A missing file yields an
// empty sequence.
func (a *Accessor) GetAll() ([]Record, error) {
	return Load(a.Path)
}

// Clear deletes the persisted file. A subsequent GetAll returns an empty
// sequence.
func (a *Accessor) Clear() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove trace file: %w", err)
	}
	return nil
}

// Snapshot returns the persisted records with file paths reduced to their
// base name, for portable comparison across machines.
func (a *Accessor) Snapshot() ([]Record, error) {
	records, err := a.GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(records))
	for i, r := range records {
		r.FilePath = filepath.Base(r.FilePath)
		out[i] = r
	}
	return out, nil
}

// SnapshotJSON returns the snapshot in the canonical persisted form,
// suitable for golden-file comparison.
func (a *Accessor) SnapshotJSON() ([]byte, error) {
	records, err := a.Snapshot()
	if err != nil {
		return nil, err
	}
	return marshalCanonical(records)
}

var (
	kindColor  = color.New(color.FgCyan).SprintFunc()
	errorColor = color.New(color.FgRed, color.Bold).SprintFunc()
	labelColor = color.New(color.FgYellow).SprintFunc()
)

// Print writes one human-readable line per persisted record: base file
// name, line number, kind, and kind-specific detail.
func (a *Accessor) Print(w io.Writer) error {
	records, err := a.GetAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "(no records)")
		return nil
	}
	for _, r := range records {
		fmt.Fprintln(w, FormatRecord(r))
	}
	return nil
}

// FormatRecord renders a single record as one display line.
func FormatRecord(r Record) string {
	kind := kindColor(string(r.Kind))
	if r.Kind == KindError {
		kind = errorColor(string(r.Kind))
	}
	return fmt.Sprintf("%s:%d\t[%s]\t%s", filepath.Base(r.FilePath), r.Line, kind, formatDetail(r))
}

func formatDetail(r Record) string {
	outcome := r.OutcomeStrings()
	switch r.Kind {
	case KindLog:
		return "(" + strings.Join(outcome, " ") + ")"
	case KindError:
		if len(outcome) == 2 {
			return fmt.Sprintf("%s (%s)", outcome[0], outcome[1])
		}
		return strings.Join(outcome, " ")
	default:
		detail := r.OutcomePrefix + strings.Join(outcome, " ")
		if r.Label != "" {
			return labelColor(r.Label) + " = " + detail
		}
		return detail
	}
}
