package monitor

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peek-go/peek/pkg/future"
	"github.com/peek-go/peek/pkg/trace"
)

func newTestMonitor(t *testing.T) (*Monitor, *trace.Store) {
	t.Helper()
	store := trace.NewStore(filepath.Join(t.TempDir(), "trace.json"))
	return New(store), store
}

func TestWatchValuePassesThrough(t *testing.T) {
	m, store := newTestMonitor(t)
	got := m.Watch(Record{
		Kind:  trace.KindVariable,
		Path:  "main.go",
		Line:  1,
		Label: "a",
		Thunk: func() any { return 5 },
	})
	assert.Equal(t, 5, got)

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.KindVariable, records[0].Kind)
	assert.Equal(t, "main.go", records[0].FilePath)
	assert.Equal(t, 1, records[0].Line)
	assert.Equal(t, "a", records[0].Label)
	assert.Equal(t, "5", records[0].Outcome)
}

func TestWatchExpressionWithoutLabel(t *testing.T) {
	m, store := newTestMonitor(t)
	got := m.Watch(Record{
		Kind:  trace.KindExpression,
		Path:  "main.go",
		Line:  8,
		Thunk: func() any { return "x" },
	})
	assert.Equal(t, "x", got)

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Label)
	assert.Equal(t, "x", records[0].Outcome)
}

func TestWatchPanicRecordedAndReraised(t *testing.T) {
	m, store := newTestMonitor(t)
	boom := errors.New("invalid state")

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "panic must re-raise")
			assert.Equal(t, boom, r, "panic value must be unchanged")
		}()
		m.Watch(Record{
			Kind:  trace.KindExpression,
			Path:  "main.go",
			Line:  4,
			Thunk: func() any { panic(boom) },
		})
	}()

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.KindError, records[0].Kind)
	assert.Equal(t, []string{"invalid state", "invalid state"}, records[0].Outcome)
}

func TestWatchPanicKindReturnsErrorValue(t *testing.T) {
	m, store := newTestMonitor(t)
	boom := errors.New("name is required")

	// The rewritten panic statement evaluates its argument through Watch
	// and then raises whatever comes back. Watch must not raise here.
	got := m.Watch(Record{
		Kind:  trace.KindPanic,
		Path:  "main.go",
		Line:  17,
		Thunk: func() any { return boom },
	})
	assert.Equal(t, boom, got)

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.KindError, records[0].Kind)
	assert.Equal(t, []string{"name is required", "name is required"}, records[0].Outcome)
}

func TestWatchPanicKindNonErrorValue(t *testing.T) {
	m, store := newTestMonitor(t)
	got := m.Watch(Record{
		Kind:  trace.KindPanic,
		Path:  "main.go",
		Line:  17,
		Thunk: func() any { return "bare string" },
	})
	assert.Equal(t, "bare string", got)

	// Not error-shaped, so it records as a plain panic-kind observation.
	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.KindPanic, records[0].Kind)
	assert.Equal(t, "bare string", records[0].Outcome)
}

func TestWatchFutureReturnsImmediately(t *testing.T) {
	m, store := newTestMonitor(t)
	f := future.New()

	start := time.Now()
	got := m.Watch(Record{
		Kind:  trace.KindAwait,
		Path:  "fetch.go",
		Line:  7,
		Label: "body",
		Thunk: func() any { return f },
	})
	assert.Same(t, f, got)
	assert.Less(t, time.Since(start), time.Second, "Watch must not block on a pending future")
	assert.Zero(t, store.Len(), "no record before settlement")
}

func TestWatchFutureResolvedRecordedOnce(t *testing.T) {
	m, store := newTestMonitor(t)
	f := future.New()
	m.Watch(Record{
		Kind:  trace.KindAwait,
		Path:  "fetch.go",
		Line:  7,
		Label: "body",
		Thunk: func() any { return f },
	})

	f.Resolve("ok")
	f.Resolve("again")

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.KindAwait, records[0].Kind)
	assert.Equal(t, trace.PrefixResolved, records[0].OutcomePrefix)
	assert.Equal(t, "ok", records[0].Outcome)
}

func TestWatchFutureRejectedStillPropagates(t *testing.T) {
	m, store := newTestMonitor(t)
	boom := errors.New("timeout")
	f := future.New()

	watched := m.Watch(Record{
		Kind:  trace.KindAwait,
		Path:  "fetch.go",
		Line:  9,
		Label: "body",
		Thunk: func() any { return f },
	})
	f.Reject(boom)

	// Observation is passive: the program's own awaiter still sees the
	// rejection after the monitor recorded it.
	_, err := watched.(*future.Future).Await()
	assert.Equal(t, boom, err)

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.PrefixRejected, records[0].OutcomePrefix)
	assert.Equal(t, "timeout", records[0].Outcome)
}

func TestWatchAlreadySettledFuture(t *testing.T) {
	m, store := newTestMonitor(t)
	got := m.Watch(Record{
		Kind:  trace.KindAwait,
		Path:  "fetch.go",
		Line:  3,
		Label: "v",
		Thunk: func() any { return future.Resolved(12) },
	})
	_, ok := got.(*future.Future)
	require.True(t, ok)

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.PrefixResolved, records[0].OutcomePrefix)
	assert.Equal(t, "12", records[0].Outcome)
}

func TestWatchSuppressedComputesButNeverPersists(t *testing.T) {
	m, store := newTestMonitor(t)
	ran := false
	got := m.Watch(Record{
		Kind:       trace.KindVariable,
		Path:       "main.go",
		Line:       2,
		Label:      "a",
		Suppressed: true,
		Thunk:      func() any { ran = true; return 9 },
	})
	assert.True(t, ran)
	assert.Equal(t, 9, got)
	assert.Zero(t, store.Len())
}

func TestWatchSuppressedPanicStillReraises(t *testing.T) {
	m, store := newTestMonitor(t)
	defer func() {
		require.NotNil(t, recover())
		assert.Zero(t, store.Len())
	}()
	m.Watch(Record{
		Kind:       trace.KindVariable,
		Path:       "main.go",
		Line:       2,
		Suppressed: true,
		Thunk:      func() any { panic("boom") },
	})
}

func TestLogFiresSinkOnceWithOriginalArgs(t *testing.T) {
	m, store := newTestMonitor(t)
	var calls int
	var seen []any
	m.Log(Record{Path: "main.go", Line: 20}, func(args []any) {
		calls++
		seen = args
	}, "x", 1)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []any{"x", 1}, seen)

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.KindLog, records[0].Kind)
	assert.Equal(t, []string{"x", "1"}, records[0].Outcome)
}

func TestLogWithoutPathUsesUnknown(t *testing.T) {
	m, store := newTestMonitor(t)
	m.Log(Record{Line: 0}, nil, "orphan")

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, trace.UnknownPath, records[0].FilePath)
}

func TestLogSuppressed(t *testing.T) {
	m, store := newTestMonitor(t)
	calls := 0
	m.Log(Record{Path: "main.go", Line: 5, Suppressed: true}, func([]any) { calls++ }, "x")

	// The real logging side effect still happens.
	assert.Equal(t, 1, calls)
	assert.Zero(t, store.Len())
}

func TestWatchPersistenceFailurePanics(t *testing.T) {
	store := trace.NewStore(filepath.Join(t.TempDir(), "no", "dir", "trace.json"))
	m := New(store)
	defer func() {
		r := recover()
		require.NotNil(t, r, "flush failure must escalate")
		err, ok := r.(error)
		require.True(t, ok)
		assert.Contains(t, err.Error(), "trace persistence failed")
	}()
	m.Watch(Record{Kind: trace.KindVariable, Path: "x.go", Line: 1, Thunk: func() any { return 1 }})
}

func TestWatchNilOutcome(t *testing.T) {
	m, store := newTestMonitor(t)
	got := m.Watch(Record{
		Kind:  trace.KindReturn,
		Path:  "main.go",
		Line:  40,
		Thunk: func() any { return nil },
	})
	assert.Nil(t, got)

	records := store.ReadAll()
	require.Len(t, records, 1)
	assert.Equal(t, "nil", records[0].Outcome)
}
