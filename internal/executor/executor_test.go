package executor

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/tasknet/internal/archive"
	"github.com/dreamware/tasknet/internal/protocol"
)

// encodeTask zips files and returns the transport form of the archive.
func encodeTask(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return protocol.EncodePayload(buf.Bytes())
}

// readResult unpacks a result archive into name -> contents.
func readResult(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(body)
	}
	return out
}

func newShellExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Config{WorkDir: dir, Command: []string{"sh"}, EntryPoint: "main.sh"}, zap.NewNop()), dir
}

// assertWorkDirEmpty checks that nothing from the run is left behind.
func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "work directory should be cleaned up")
}

func TestNewDefaults(t *testing.T) {
	e := New(Config{}, nil)
	cfg := e.Config()
	assert.Equal(t, DefaultWorkDir, cfg.WorkDir)
	assert.Equal(t, []string{"python3"}, cfg.Command)
	assert.Equal(t, DefaultEntryPoint, cfg.EntryPoint)
}

func TestExecuteCapturesOutput(t *testing.T) {
	e, dir := newShellExecutor(t)
	task := encodeTask(t, map[string]string{
		"main.sh":        "cat data/input.txt\necho oops >&2\n",
		"data/input.txt": "hello from task\n",
	})

	res := e.Execute(context.Background(), "job1.zip", task)
	require.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.Equal(t, "job1.zip", res.TaskName)
	assert.Equal(t, 0, res.ExitCode)

	files := readResult(t, res.Archive)
	assert.Len(t, files, 2, "result carries exactly the two captured files")
	assert.Equal(t, "hello from task\n", files[StdoutFile])
	assert.Equal(t, "oops\n", files[StderrFile])

	assertWorkDirEmpty(t, dir)
}

func TestExecuteNonZeroExitStillProducesResult(t *testing.T) {
	e, dir := newShellExecutor(t)
	task := encodeTask(t, map[string]string{"main.sh": "echo partial\necho failing >&2\nexit 3\n"})

	res := e.Execute(context.Background(), "job2.zip", task)
	require.NoError(t, res.Err)
	assert.True(t, res.OK())
	assert.Equal(t, 3, res.ExitCode)

	files := readResult(t, res.Archive)
	assert.Equal(t, "partial\n", files[StdoutFile])
	assert.Equal(t, "failing\n", files[StderrFile])

	assertWorkDirEmpty(t, dir)
}

func TestExecuteMissingInterpreter(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{WorkDir: dir, Command: []string{"tasknet-no-such-interpreter"}, EntryPoint: "main.sh"}, zap.NewNop())

	res := e.Execute(context.Background(), "job.zip", encodeTask(t, map[string]string{"main.sh": "true\n"}))
	require.Error(t, res.Err)
	assert.False(t, res.OK())
	assert.Nil(t, res.Archive)

	assertWorkDirEmpty(t, dir)
}

func TestExecuteBadPayloads(t *testing.T) {
	tests := []struct {
		name     string
		taskName string
		payload  string
	}{
		{name: "not base64", taskName: "a.zip", payload: "%%%not-base64%%%"},
		{name: "not a zip", taskName: "b.zip", payload: protocol.EncodePayload([]byte("plain text"))},
		{name: "traversal name", taskName: "../evil.zip", payload: protocol.EncodePayload([]byte("x"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, dir := newShellExecutor(t)
			res := e.Execute(context.Background(), tt.taskName, tt.payload)
			require.Error(t, res.Err)
			assert.Nil(t, res.Archive)
			assertWorkDirEmpty(t, dir)
		})
	}
}

func TestExecuteRejectsNamesWithoutOwnDirectory(t *testing.T) {
	for _, name := range []string{".zip", "..zip", ".hidden.zip"} {
		t.Run(name, func(t *testing.T) {
			e, dir := newShellExecutor(t)
			keep := filepath.Join(dir, "other-task")
			require.NoError(t, os.MkdirAll(keep, 0o755))

			res := e.Execute(context.Background(), name, encodeTask(t, map[string]string{"main.sh": "echo hi\n"}))
			require.ErrorIs(t, res.Err, ErrBadTaskName)
			assert.Nil(t, res.Archive)
			assert.DirExists(t, keep, "the rest of the work area must survive")
		})
	}
}

func TestExecuteRejectsEscapingArchive(t *testing.T) {
	e, dir := newShellExecutor(t)
	task := encodeTask(t, map[string]string{"../outside.sh": "echo no\n"})

	res := e.Execute(context.Background(), "escape.zip", task)
	require.ErrorIs(t, res.Err, archive.ErrUnsafePath)
	assertWorkDirEmpty(t, dir)
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "outside.sh"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecuteMissingEntryPoint(t *testing.T) {
	e, dir := newShellExecutor(t)
	task := encodeTask(t, map[string]string{"other.sh": "echo hi\n"})

	// sh exits non-zero when the script is missing; that is a program failure,
	// not an executor failure.
	res := e.Execute(context.Background(), "noentry.zip", task)
	require.NoError(t, res.Err)
	assert.NotEqual(t, 0, res.ExitCode)
	files := readResult(t, res.Archive)
	assert.NotEmpty(t, files[StderrFile])
	assertWorkDirEmpty(t, dir)
}

func TestExecuteCancelled(t *testing.T) {
	e, dir := newShellExecutor(t)
	task := encodeTask(t, map[string]string{"main.sh": "sleep 10\n"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := e.Execute(ctx, "slow.zip", task)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assertWorkDirEmpty(t, dir)
}

func TestExecuteReplacesStaleWorkDir(t *testing.T) {
	e, dir := newShellExecutor(t)
	stale := filepath.Join(dir, "job3")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "leftover.txt"), []byte("old"), 0o644))

	task := encodeTask(t, map[string]string{"main.sh": "ls\n"})
	res := e.Execute(context.Background(), "job3.zip", task)
	require.NoError(t, res.Err)

	files := readResult(t, res.Archive)
	assert.NotContains(t, files[StdoutFile], "leftover.txt")
	assert.Contains(t, files[StdoutFile], "main.sh")
	assertWorkDirEmpty(t, dir)
}
