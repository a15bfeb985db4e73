// Package serialize converts arbitrary runtime values into persistable
// strings for trace records.
//
// The conversion is best-effort and never fails:
//   - nil values render as the sentinel token "nil"
//   - function values render as declared-source text ("func Add(int) int")
//     when the runtime knows the name, otherwise as their opaque signature
//   - pending futures encountered inside composites are replaced by a fixed
//     placeholder and never traversed
//   - composites already visited during the current call are omitted, so
//     cyclic values terminate with the cyclic edge dropped
//   - a panic raised anywhere during serialization is recovered and
//     converted into a diagnostic string
package serialize

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/peek-go/peek/pkg/future"
)

// NilToken is the sentinel emitted for absent values. The persisted format
// cannot represent absence directly, so nil is reduced to a literal token.
const NilToken = "nil"

// FuturePlaceholder replaces pending asynchronous values found while
// traversing a composite.
const FuturePlaceholder = "<future>"

// Value serializes v into a persistable string. It never panics; failures
// are downgraded to a diagnostic string embedding the reason.
func Value(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("(serialization failed: %v)", r)
		}
	}()

	if v == nil {
		return NilToken
	}
	s := &state{visited: make(map[visitKey]struct{})}
	return s.render(reflect.ValueOf(v), true)
}

// Error serializes an error value, tolerating nil.
func Error(err error) string {
	if err == nil {
		return NilToken
	}
	return Value(err.Error())
}

// visitKey identifies a composite by pointer and type. The type is part of
// the key because distinct types can share a base address (e.g. a struct
// and its first field).
type visitKey struct {
	ptr uintptr
	typ reflect.Type
}

type state struct {
	visited map[visitKey]struct{}
}

// render serializes a single value. top is true only for the outermost
// value: top-level strings render raw, nested strings render quoted.
func (s *state) render(v reflect.Value, top bool) string {
	if !v.IsValid() {
		return NilToken
	}

	// Pending asynchronous values are replaced, never traversed.
	if v.CanInterface() {
		if _, ok := v.Interface().(future.Thenable); ok {
			return FuturePlaceholder
		}
		if err, ok := v.Interface().(error); ok && v.Kind() != reflect.Struct {
			return s.renderString(err.Error(), top)
		}
	}

	switch v.Kind() {
	case reflect.String:
		return s.renderString(v.String(), top)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprintf("%v", v.Complex())
	case reflect.Func:
		return renderFunc(v)
	case reflect.Interface:
		if v.IsNil() {
			return NilToken
		}
		return s.render(v.Elem(), top)
	case reflect.Pointer:
		if v.IsNil() {
			return NilToken
		}
		if !s.visit(v) {
			return ""
		}
		return "&" + s.render(v.Elem(), false)
	case reflect.Slice:
		if v.IsNil() {
			return NilToken
		}
		if !s.visit(v) {
			return ""
		}
		return s.renderList(v)
	case reflect.Array:
		return s.renderList(v)
	case reflect.Map:
		if v.IsNil() {
			return NilToken
		}
		if !s.visit(v) {
			return ""
		}
		return s.renderMap(v)
	case reflect.Struct:
		return s.renderStruct(v)
	case reflect.Chan:
		if v.IsNil() {
			return NilToken
		}
		return v.Type().String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// visit records a composite in the visited set. It reports false when the
// composite was already seen, signalling the caller to omit it.
func (s *state) visit(v reflect.Value) bool {
	key := visitKey{ptr: v.Pointer(), typ: v.Type()}
	if _, seen := s.visited[key]; seen {
		return false
	}
	s.visited[key] = struct{}{}
	return true
}

func (s *state) renderString(str string, top bool) string {
	if top {
		return str
	}
	return strconv.Quote(str)
}

func (s *state) renderList(v reflect.Value) string {
	var b strings.Builder
	b.WriteByte('[')
	first := true
	for i := 0; i < v.Len(); i++ {
		elem := s.render(v.Index(i), false)
		if elem == "" {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(elem)
	}
	b.WriteByte(']')
	return b.String()
}

func (s *state) renderMap(v reflect.Value) string {
	type entry struct{ k, val string }
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		val := s.render(iter.Value(), false)
		if val == "" {
			continue
		}
		entries = append(entries, entry{k: s.render(iter.Key(), false), val: val})
	}
	// Map iteration order is random; sort for deterministic records.
	sort.Slice(entries, func(i, j int) bool { return entries[i].k < entries[j].k })

	var b strings.Builder
	b.WriteString("map[")
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.k)
		b.WriteByte(':')
		b.WriteString(e.val)
	}
	b.WriteByte(']')
	return b.String()
}

func (s *state) renderStruct(v reflect.Value) string {
	t := v.Type()
	var b strings.Builder
	b.WriteString(t.Name())
	b.WriteByte('{')
	first := true
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		var rendered string
		switch {
		case f.CanInterface():
			rendered = s.render(f, false)
		default:
			rendered = renderOpaqueField(f)
		}
		if rendered == "" {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(t.Field(i).Name)
		b.WriteString(": ")
		b.WriteString(rendered)
	}
	b.WriteByte('}')
	return b.String()
}

// renderOpaqueField handles unexported struct fields, which cannot be
// interfaced. Scalars are read directly; anything else is elided.
func renderOpaqueField(f reflect.Value) string {
	switch f.Kind() {
	case reflect.String:
		return strconv.Quote(f.String())
	case reflect.Bool:
		return strconv.FormatBool(f.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(f.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(f.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(f.Float(), 'g', -1, 64)
	default:
		return "..."
	}
}

// renderFunc reduces a function value to recognizable declared-source text
// when the runtime knows its name, otherwise to its opaque signature.
func renderFunc(v reflect.Value) string {
	if v.IsNil() {
		return NilToken
	}
	sig := v.Type().String()
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return sig
	}
	name := fn.Name()
	// Anonymous functions carry generated names like "main.run.func2";
	// those are not declared-source text, so only the signature survives.
	if name == "" || strings.Contains(name, ".func") {
		return sig
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return "func " + name + strings.TrimPrefix(sig, "func")
}
