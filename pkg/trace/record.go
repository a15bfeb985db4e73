// Package trace holds the ordered, process-wide record sequence produced by
// instrumented code, mirrored to a persisted file.
//
// The store is append-only except for explicit clear. Every non-suppressed
// append re-serializes the complete in-memory sequence and overwrites the
// persisted file, so the on-disk form is always a self-consistent snapshot
// of the sequence: O(n) per write, acceptable for development and test
// workloads. Records produced by asynchronous settlements are appended at
// settlement time, so their order reflects completion order, not source
// order.
package trace

// Kind identifies the construct a record observed.
type Kind string

// Construct kinds. One record carries exactly one kind; "error" marks any
// settlement classified as a failure regardless of the construct that
// produced it.
const (
	KindVariable   Kind = "variable"
	KindExpression Kind = "expression"
	KindLog        Kind = "log"
	KindAwait      Kind = "await"
	KindPanic      Kind = "panic"
	KindReturn     Kind = "return"
	KindFunction   Kind = "function"
	KindMethod     Kind = "method"
	KindClosure    Kind = "closure"
	KindField      Kind = "field"
	KindError      Kind = "error"
)

// Prefixes tagging settled asynchronous outcomes.
const (
	PrefixResolved = "Resolved "
	PrefixRejected = "Rejected "
)

// UnknownPath is the sentinel file path for records whose origin was not
// supplied.
const UnknownPath = "unknown"

// Record is one persisted observation of an instrumented construct.
//
// Outcome is always a string-bearing structure, never a live reference:
// a serialized scalar for most kinds, an ordered sequence of serialized
// arguments for log records, or a [message, serializedError] pair for
// error records.
type Record struct {
	Kind          Kind   `json:"kind"`
	FilePath      string `json:"filePath"`
	Line          int    `json:"line"`
	Label         string `json:"label,omitempty"`
	OutcomePrefix string `json:"outcomePrefix,omitempty"`
	Outcome       any    `json:"outcome"`
}

// OutcomeStrings returns the record's outcome as a flat string slice:
// one element for scalar outcomes, the argument list for log records, and
// the [message, serializedError] pair for error records. JSON round-trips
// turn []string into []any; both shapes are handled.
func (r Record) OutcomeStrings() []string {
	switch o := r.Outcome.(type) {
	case string:
		return []string{o}
	case []string:
		return o
	case []any:
		out := make([]string, 0, len(o))
		for _, v := range o {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case nil:
		return nil
	default:
		return nil
	}
}
