package trace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// marshalCanonical produces a deterministic JSON rendering of a record
// sequence: object keys sorted, strings NFC-normalized, one record per
// line. Deterministic output keeps snapshots portable across runs and
// platforms for byte comparison.
func marshalCanonical(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, r := range records {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		obj, err := recordToMap(r)
		if err != nil {
			return nil, err
		}
		rendered, err := marshalCanonicalObject(obj)
		if err != nil {
			return nil, err
		}
		buf.Write(rendered)
	}
	if len(records) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}

func recordToMap(r Record) (map[string]any, error) {
	obj := map[string]any{
		"kind":     string(r.Kind),
		"filePath": r.FilePath,
		"line":     r.Line,
	}
	if r.Label != "" {
		obj["label"] = r.Label
	}
	if r.OutcomePrefix != "" {
		obj["outcomePrefix"] = r.OutcomePrefix
	}
	switch o := r.Outcome.(type) {
	case nil:
		obj["outcome"] = ""
	case string, []string:
		obj["outcome"] = o
	case []any:
		obj["outcome"] = o
	default:
		return nil, fmt.Errorf("unsupported outcome type %T", r.Outcome)
	}
	return obj, nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := marshalCanonicalValue(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := marshalCanonicalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalCanonicalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return json.Marshal(norm.NFC.String(val))
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case float64:
		// Records only carry line numbers as numerics; a float here came
		// from a JSON round-trip of an integer line.
		return []byte(fmt.Sprintf("%d", int64(val))), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []string:
		parts := make([]any, len(val))
		for i, s := range val {
			parts[i] = s
		}
		return marshalCanonicalArray(parts)
	case []any:
		return marshalCanonicalArray(val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		rendered, err := marshalCanonicalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(rendered)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
