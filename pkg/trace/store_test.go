package trace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "trace.json"))
}

func TestAppendMirrorsToFile(t *testing.T) {
	s := tempStore(t)
	rec := Record{Kind: KindVariable, FilePath: "main.go", Line: 3, Label: "a", Outcome: "5"}
	require.NoError(t, s.Append(rec))

	records, err := Load(s.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, KindVariable, records[0].Kind)
	assert.Equal(t, "a", records[0].Label)
	assert.Equal(t, "5", records[0].Outcome)
	assert.Equal(t, 3, records[0].Line)
}

func TestAppendPreservesOrder(t *testing.T) {
	s := tempStore(t)
	labels := []string{"first", "second", "third"}
	for i, l := range labels {
		err := s.Append(Record{Kind: KindExpression, FilePath: "x.go", Line: i + 1, Label: l, Outcome: "v"})
		require.NoError(t, err)
	}

	got := s.ReadAll()
	require.Len(t, got, 3)
	for i, l := range labels {
		assert.Equal(t, l, got[i].Label)
	}

	// The persisted file carries the same order.
	loaded, err := Load(s.Path())
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, l := range labels {
		assert.Equal(t, l, loaded[i].Label)
	}
}

func TestReadAllReturnsCopy(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Append(Record{Kind: KindLog, FilePath: "x.go", Line: 1, Outcome: "a"}))

	got := s.ReadAll()
	got[0].Outcome = "tampered"

	assert.Equal(t, "a", s.ReadAll()[0].Outcome)
}

func TestClearResetsAndRemovesFile(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Append(Record{Kind: KindReturn, FilePath: "x.go", Line: 1, Outcome: "v"}))
	require.NoError(t, s.Clear())

	assert.Zero(t, s.Len())
	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestClearTwiceIsNotAnError(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	records, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestFlushEmptyStore(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestAppendFailurePropagates(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "no", "such", "dir", "trace.json"))
	err := s.Append(Record{Kind: KindVariable, FilePath: "x.go", Line: 1, Outcome: "v"})
	assert.Error(t, err)
}

func TestSetPathRedirectsNextFlush(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "a.json"))
	require.NoError(t, s.Append(Record{Kind: KindVariable, FilePath: "x.go", Line: 1, Outcome: "v"}))

	next := filepath.Join(dir, "b.json")
	s.SetPath(next)
	assert.Equal(t, next, s.Path())
	require.NoError(t, s.Flush())

	records, err := Load(next)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCanonicalFormIsDeterministic(t *testing.T) {
	records := []Record{
		{Kind: KindAwait, FilePath: "a.go", Line: 2, Label: "body", OutcomePrefix: PrefixRejected, Outcome: "timeout"},
		{Kind: KindLog, FilePath: "a.go", Line: 3, Outcome: []string{"x", "1"}},
	}
	first, err := marshalCanonical(records)
	require.NoError(t, err)
	second, err := marshalCanonical(records)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

func TestCanonicalFormNormalizesUnicode(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	decomposed := "caf\u0065\u0301"
	precomposed := "caf\u00e9"

	a, err := marshalCanonical([]Record{{Kind: KindVariable, FilePath: "x.go", Line: 1, Outcome: decomposed}})
	require.NoError(t, err)
	b, err := marshalCanonical([]Record{{Kind: KindVariable, FilePath: "x.go", Line: 1, Outcome: precomposed}})
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestCanonicalFormSortsKeys(t *testing.T) {
	data, err := marshalCanonical([]Record{
		{Kind: KindAwait, FilePath: "a.go", Line: 1, Label: "x", OutcomePrefix: PrefixResolved, Outcome: "ok"},
	})
	require.NoError(t, err)
	want := "[\n  {\"filePath\":\"a.go\",\"kind\":\"await\",\"label\":\"x\",\"line\":1,\"outcome\":\"ok\",\"outcomePrefix\":\"Resolved \"}\n]\n"
	assert.Equal(t, want, string(data))
}

func TestOutcomeStrings(t *testing.T) {
	tests := []struct {
		name    string
		outcome any
		want    []string
	}{
		{"scalar", "5", []string{"5"}},
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
		{"round-tripped slice", []any{"a", "b"}, []string{"a", "b"}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{Outcome: tt.outcome}
			assert.Equal(t, tt.want, r.OutcomeStrings())
		})
	}
}
