// Package future provides the asynchronous outcome representation observed
// by the runtime monitor.
//
// A Future settles exactly once, with either a value or an error, and fans
// its settlement out to every subscriber. Subscription is passive: observers
// never consume the outcome, so an instrumented observer and the program's
// real awaiter both see the same settlement. This is what keeps rejection
// propagation intact: the monitor watches a future without absorbing it.
package future

import "sync"

// Thenable is the asynchronous-continuation contract the monitor detects.
// Any value implementing it is classified as a deferred outcome.
type Thenable interface {
	// OnSettled registers fn to run once the outcome settles. If the
	// outcome has already settled, fn runs immediately on the calling
	// goroutine; otherwise it runs on the settling goroutine.
	OnSettled(fn func(value any, err error))
}

// Future is a settle-once container for an eventual value or error.
type Future struct {
	mu      sync.Mutex
	done    chan struct{}
	value   any
	err     error
	settled bool
	subs    []func(any, error)
}

// New returns an unsettled future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Go runs fn on a new goroutine and returns a future settled by its result.
func Go(fn func() (any, error)) *Future {
	f := New()
	go func() {
		v, err := fn()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	}()
	return f
}

// Resolved returns a future already settled with v.
func Resolved(v any) *Future {
	f := New()
	f.Resolve(v)
	return f
}

// Rejected returns a future already settled with err.
func Rejected(err error) *Future {
	f := New()
	f.Reject(err)
	return f
}

// Resolve settles the future with a value. Settling more than once is a
// no-op; the first settlement wins.
func (f *Future) Resolve(v any) {
	f.settle(v, nil)
}

// Reject settles the future with an error. Settling more than once is a
// no-op; the first settlement wins.
func (f *Future) Reject(err error) {
	f.settle(nil, err)
}

func (f *Future) settle(v any, err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.value = v
	f.err = err
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	close(f.done)
	for _, fn := range subs {
		fn(v, err)
	}
}

// Await blocks the calling goroutine until the future settles, then returns
// the settled value and error. Await may be called any number of times and
// from any number of goroutines; every caller observes the same settlement.
// There is no timeout: an unsettled future blocks forever.
func (f *Future) Await() (any, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// OnSettled implements Thenable.
func (f *Future) OnSettled(fn func(value any, err error)) {
	f.mu.Lock()
	if !f.settled {
		f.subs = append(f.subs, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Settled reports whether the future has settled.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}
