// Package monitor is the runtime entry point instrumented code calls.
//
// Watch executes the deferred computation a rewritten construct hands it,
// classifies the outcome (value, error, or pending asynchronous result),
// serializes it, appends a record to the trace store, and returns or
// re-raises the original outcome. The protected program's behavior is
// preserved exactly: panics re-raise unchanged, futures are observed
// passively, and values pass through untouched.
package monitor

import (
	"fmt"

	"github.com/peek-go/peek/pkg/future"
	"github.com/peek-go/peek/pkg/serialize"
	"github.com/peek-go/peek/pkg/trace"
)

// Record describes one instrumented site together with its deferred
// computation. The transform synthesizes these literally in rewritten
// source.
type Record struct {
	Kind  trace.Kind
	Path  string
	Line  int
	Label string

	// Suppressed records are fully computed but never persisted.
	// Suppression never prevents a panic from re-raising.
	Suppressed bool

	// Thunk captures the construct's evaluation for deferred (possibly
	// duplicate) execution. Nil for log records.
	Thunk func() any
}

// Monitor classifies outcomes and appends records to an explicitly owned
// store. Instrumented code uses the package-level Watch and Log, which run
// against the process-wide default store.
type Monitor struct {
	store *trace.Store
}

// New returns a monitor appending to the given store.
func New(store *trace.Store) *Monitor {
	return &Monitor{store: store}
}

var defaultMonitor = New(nil)

// Watch runs rec's deferred computation against the default store. This is
// the entry point the instrumentation transform wires into rewritten code.
func Watch(rec Record) any {
	return defaultMonitor.Watch(rec)
}

// Log reports a logging call against the default store. This is the entry
// point the transform wires for console-like calls.
func Log(rec Record, sink func([]any), args ...any) {
	defaultMonitor.Log(rec, sink, args...)
}

// Watch invokes rec.Thunk and classifies the result.
//
//   - A synchronous panic is recovered, persisted as an error-kind record,
//     and re-raised unchanged. Errors are never swallowed.
//   - A panic-kind record whose thunk returns an error-shaped value
//     persists an error-kind record and returns the value, so the real
//     panic statement that follows in rewritten code raises it.
//   - A value implementing future.Thenable is returned immediately,
//     unsuspended; exactly one record is persisted at settlement, tagged
//     "Resolved " or "Rejected ". Observation is passive, so a rejection
//     still reaches the program's real awaiters.
//   - Any other value is serialized, persisted, and returned unchanged.
//
// Watch never blocks on asynchronous outcomes; a non-terminating thunk
// hangs its call by design.
func (m *Monitor) Watch(rec Record) any {
	defer func() {
		if r := recover(); r != nil {
			m.persistError(rec, r)
			panic(r)
		}
	}()

	v := rec.Thunk()

	if rec.Kind == trace.KindPanic {
		if err, ok := v.(error); ok {
			m.persistError(rec, err)
			return v
		}
	}

	if th, ok := v.(future.Thenable); ok {
		th.OnSettled(func(value any, err error) {
			if err != nil {
				m.persist(rec, trace.Record{
					Kind:          rec.Kind,
					FilePath:      rec.Path,
					Line:          rec.Line,
					Label:         rec.Label,
					OutcomePrefix: trace.PrefixRejected,
					Outcome:       serialize.Error(err),
				})
				return
			}
			m.persist(rec, trace.Record{
				Kind:          rec.Kind,
				FilePath:      rec.Path,
				Line:          rec.Line,
				Label:         rec.Label,
				OutcomePrefix: trace.PrefixResolved,
				Outcome:       serialize.Value(value),
			})
		})
		return v
	}

	m.persist(rec, trace.Record{
		Kind:     rec.Kind,
		FilePath: rec.Path,
		Line:     rec.Line,
		Label:    rec.Label,
		Outcome:  serialize.Value(v),
	})
	return v
}

// Log fires the real logging call exactly once with the original argument
// values, serializes those same values into an ordered outcome sequence,
// and persists a log-kind record. It returns nothing, like the call it
// replaced.
func (m *Monitor) Log(rec Record, sink func([]any), args ...any) {
	if sink != nil {
		sink(args)
	}
	outcome := make([]string, len(args))
	for i, a := range args {
		outcome[i] = serialize.Value(a)
	}
	path := rec.Path
	if path == "" {
		path = trace.UnknownPath
	}
	m.persist(rec, trace.Record{
		Kind:     trace.KindLog,
		FilePath: path,
		Line:     rec.Line,
		Label:    rec.Label,
		Outcome:  outcome,
	})
}

// persistError records a failure outcome as an error-kind record carrying
// a [message, serializedError] pair.
func (m *Monitor) persistError(rec Record, cause any) {
	message := serialize.Value(cause)
	if err, ok := cause.(error); ok {
		message = err.Error()
	}
	m.persist(rec, trace.Record{
		Kind:     trace.KindError,
		FilePath: rec.Path,
		Line:     rec.Line,
		Label:    rec.Label,
		Outcome:  []string{message, serialize.Value(cause)},
	})
}

// persist appends one record unless the site is suppressed. A persistence
// failure propagates synchronously from the triggering call, the store's
// documented sharp edge.
func (m *Monitor) persist(rec Record, r trace.Record) {
	if rec.Suppressed {
		return
	}
	store := m.store
	if store == nil {
		store = trace.Default()
	}
	if err := store.Append(r); err != nil {
		panic(fmt.Errorf("trace persistence failed: %w", err))
	}
}
