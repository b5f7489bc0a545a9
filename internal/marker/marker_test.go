package marker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMarker() Marker {
	return Marker{
		TaskID:        "task_abc123def456",
		ContainerName: "gantry-task-abc123def456",
		ExitCode:      0,
		StartedAt:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt:    time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
		Reason:        ReasonProcessExit,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := sampleMarker()

	require.NoError(t, Write(dir, want))

	got, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, sampleMarker()))

	first, err := Read(dir)
	require.NoError(t, err)
	second, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Reading never deletes the marker.
	assert.FileExists(t, Path(dir))
}

func TestReadMissing(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "not json at all"},
		{"missing task_id", `{"container_name":"c","exit_code":0,"reason":"process_exit"}`},
		{"missing container_name", `{"task_id":"t","exit_code":0,"reason":"process_exit"}`},
		{"missing reason", `{"task_id":"t","container_name":"c","exit_code":0}`},
		{"bogus reason", `{"task_id":"t","container_name":"c","exit_code":0,"reason":"exploded"}`},
		{"exit_code not an integer", `{"task_id":"t","container_name":"c","exit_code":"zero","reason":"process_exit"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(Path(dir), []byte(tt.content), 0644))

			_, err := Read(dir)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestWriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, sampleMarker()))

	// No temp file left behind after a successful write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}

func TestTrapScript(t *testing.T) {
	script := TrapScript("task_aaa", "gantry-task-aaa", "/staging", nil)

	// Traps cover every exit cause.
	assert.Contains(t, script, "trap 'gantry_write_marker \"$?\" process_exit' EXIT")
	assert.Contains(t, script, "killed; exit 143' TERM")
	assert.Contains(t, script, "killed; exit 130' INT")

	// Marker is written via temp + rename into the staging mount.
	assert.Contains(t, script, `"$GANTRY_MARKER_DIR/`+FileName+`.tmp"`)
	assert.Contains(t, script, `mv "$tmp" "$GANTRY_MARKER_DIR/`+FileName+`"`)
	assert.Contains(t, script, `GANTRY_MARKER_DIR="/staging"`)

	// Keep-alive loop holds the container open.
	assert.Contains(t, script, "while :; do sleep 5; done")
}

func TestTrapScriptPreflight(t *testing.T) {
	script := TrapScript("task_aaa", "c", "/staging", []string{"apt-get update", "make deps"})

	// Preflight scripts run after the traps are installed and before the
	// hold loop.
	trapIdx := strings.Index(script, "' INT")
	preflightIdx := strings.Index(script, "apt-get update")
	holdIdx := strings.Index(script, "while :")
	require.True(t, trapIdx >= 0 && preflightIdx >= 0 && holdIdx >= 0)
	assert.Less(t, trapIdx, preflightIdx)
	assert.Less(t, preflightIdx, holdIdx)
	assert.Contains(t, script, "make deps")
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/x", FileName), Path("/x"))
}
