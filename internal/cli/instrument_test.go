package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const markedSource = `package p

func f() {
	a := 5 //?
	_ = a
}
`

const plainSource = `package p

func g() int { return 1 }
`

// runInstrumentCmd executes the instrument command against an isolated
// config so a developer's real .peek.yaml never leaks into the test.
func runInstrumentCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	rootOpts := &RootOptions{
		Format:     format,
		ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
	}
	buf := &bytes.Buffer{}
	cmd := NewInstrumentCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestInstrumentPrintsToStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte(markedSource), 0o644))

	buf, err := runInstrumentCmd(t, "text", path)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "peekmon.Watch")
	assert.Contains(t, out, `Kind: "variable"`)

	// Stdout mode never touches the file.
	src, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, markedSource, string(src))
}

func TestInstrumentWriteInPlace(t *testing.T) {
	dir := t.TempDir()
	marked := filepath.Join(dir, "main.go")
	plain := filepath.Join(dir, "util.go")
	require.NoError(t, os.WriteFile(marked, []byte(markedSource), 0o644))
	require.NoError(t, os.WriteFile(plain, []byte(plainSource), 0o644))

	buf, err := runInstrumentCmd(t, "text", "-w", dir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "1 of 2 files instrumented (1 sites)")

	rewritten, err := os.ReadFile(marked)
	require.NoError(t, err)
	assert.Contains(t, string(rewritten), "peekmon.Watch")

	untouched, err := os.ReadFile(plain)
	require.NoError(t, err)
	assert.Equal(t, plainSource, string(untouched))
}

func TestInstrumentStdoutRequiresSingleFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte(markedSource), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte(plainSource), 0o644))

	_, err := runInstrumentCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "single file")
}

func TestInstrumentNoGoFiles(t *testing.T) {
	_, err := runInstrumentCmd(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "no Go files")
}

func TestInstrumentMissingPath(t *testing.T) {
	_, err := runInstrumentCmd(t, "text", filepath.Join(t.TempDir(), "absent.go"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInstrumentSkipsAlreadyInstrumented(t *testing.T) {
	src := `package p

import peekmon "github.com/peek-go/peek/pkg/monitor"

func f() {
	a := peekmon.Watch(peekmon.Record{Kind: "variable", Path: "main.go", Line: 6, Label: "a", Thunk: func() any { return 5 }}).(int) //?
	_ = a
}
`
	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	buf, err := runInstrumentCmd(t, "text", path)
	require.NoError(t, err)
	// Echoed back unchanged.
	assert.Equal(t, src, buf.String())
}

func TestInstrumentJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.go")
	require.NoError(t, os.WriteFile(path, []byte(markedSource), 0o644))

	buf, err := runInstrumentCmd(t, "json", "-w", path)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"status": "ok"`)
	assert.Contains(t, out, `"modified": true`)
	assert.Contains(t, out, `"sites": 1`)
}

func TestCollectGoFilesSkipsVendorAndHidden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "testdata"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "internal"), 0o755))

	write := func(rel string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte(plainSource), 0o644))
	}
	write("main.go")
	write("vendor/dep.go")
	write(".git/hook.go")
	write("testdata/fixture.go")
	write("internal/util.go")
	write("README.md")

	files, err := collectGoFiles([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "main.go"),
		filepath.Join(dir, "internal", "util.go"),
	}, files)
}
