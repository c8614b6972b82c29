package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)

	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte{'\n'}) {
		var r map[string]any
		if err := json.Unmarshal(line, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

func findMsg(records []map[string]any, msg string) map[string]any {
	for _, r := range records {
		if r["msg"] == msg {
			return r
		}
	}
	return nil
}

func TestInitWritesJSONToLogDir(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	Logger().Info("session_started", "session", "agentpane-claude-demo")

	r := findMsg(readRecords(t, dir), "session_started")
	require.NotNil(t, r)
	assert.Equal(t, "agentpane-claude-demo", r["session"])
}

func TestLoggerBeforeInitDiscards(t *testing.T) {
	Shutdown()
	assert.NotPanics(t, func() { Logger().Info("nowhere") })
	assert.Nil(t, RecentLines(5))
	assert.NoError(t, DumpRingBuffer(filepath.Join(t.TempDir(), "x")))
}

func TestForComponentFollowsLaterInit(t *testing.T) {
	Shutdown()
	log := ForComponent(CompTmux)

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	log.With(slog.String("session", "s1")).Info("capture_failed")

	r := findMsg(readRecords(t, dir), "capture_failed")
	require.NotNil(t, r)
	assert.Equal(t, CompTmux, r["component"])
	assert.Equal(t, "s1", r["session"])
}

func TestLevelFiltering(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "warn"})
	defer Shutdown()

	Logger().Info("should_be_filtered")
	Logger().Warn("should_appear")

	records := readRecords(t, dir)
	assert.Nil(t, findMsg(records, "should_be_filtered"))
	assert.NotNil(t, findMsg(records, "should_appear"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestTextFormat(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir, Format: "text"})
	defer Shutdown()

	Logger().Info("text_format_test")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=text_format_test")
}

func TestRecentLinesAndDump(t *testing.T) {
	Shutdown()
	Init(Config{RingBufferSize: 4096})
	defer Shutdown()

	Logger().Info("first")
	Logger().Info("second")

	lines := RecentLines(1)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"second"`)

	path := filepath.Join(t.TempDir(), "crash.jsonl")
	require.NoError(t, DumpRingBuffer(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"first"`)
}
