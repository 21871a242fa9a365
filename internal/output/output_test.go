package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"formatforge-go/internal/batch"
	"formatforge-go/internal/converter"
	"formatforge-go/internal/statistics"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestWriteFile_DuplicateStrategies(t *testing.T) {
	tests := []struct {
		strategy DuplicateStrategy
		action   Action
		name     string
		original string
	}{
		{DuplicateRename, ActionRenamed, "out_1.png", "old"},
		{DuplicateSkip, ActionSkipped, "out.png", "old"},
		{DuplicateOverwrite, ActionOverwritten, "out.png", "new"},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "out.png"), []byte("old"), 0o644))

			stats := statistics.NewStatistics()
			w := NewWriter(Options{Directory: dir, Duplicates: tt.strategy}, nil, stats, nil)

			wr, err := w.WriteFile("sub/out.png", []byte("new"))
			require.NoError(t, err)
			assert.Equal(t, tt.action, wr.Action)
			assert.Equal(t, tt.name, wr.Name)
			assert.Equal(t, tt.original, read(t, filepath.Join(dir, "out.png")))
			assert.Equal(t, int64(1), stats.DuplicatesFound)
		})
	}
}

func TestWriteFile_DryRun(t *testing.T) {
	dir := t.TempDir()
	var messages []string
	w := NewWriter(Options{Directory: dir, DryRun: true}, nil, nil, func(_, msg string) {
		messages = append(messages, msg)
	})

	wr, err := w.WriteFile("a.gif", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, ActionDryRun, wr.Action)
	assert.NoFileExists(t, filepath.Join(dir, "a.gif"))
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "DRY-RUN")
}

func outcome() *batch.Outcome {
	return &batch.Outcome{Records: []batch.Record{
		{Status: batch.StatusConverted, Result: &converter.Result{Filename: "a.png", Data: []byte("A")}},
		{Status: batch.StatusSkipped, Filename: "skip.txt"},
		{Status: batch.StatusConverted, Result: &converter.Result{Filename: "a.png", Data: []byte("B")}},
	}}
}

func TestWriteOutcome(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Options{Directory: filepath.Join(dir, "new")}, nil, nil, nil)

	written, err := w.WriteOutcome(outcome())
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, "A", read(t, filepath.Join(dir, "new", "a.png")))
	assert.Equal(t, "B", read(t, filepath.Join(dir, "new", "a_1.png")))
}

func TestWriteOutcome_ContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory squatting on b.png makes that one write fail.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b.png", "inner"), 0o755))

	stats := statistics.NewStatistics()
	var levels []string
	w := NewWriter(Options{Directory: dir, Duplicates: DuplicateOverwrite}, nil, stats, func(level, _ string) {
		levels = append(levels, level)
	})

	out := &batch.Outcome{Records: []batch.Record{
		{Status: batch.StatusConverted, Filename: "a.gif", Result: &converter.Result{Filename: "a.png", Data: []byte("A")}},
		{Status: batch.StatusConverted, Filename: "b.gif", Result: &converter.Result{Filename: "b.png", Data: []byte("B")}},
		{Status: batch.StatusConverted, Filename: "c.gif", Result: &converter.Result{Filename: "c.png", Data: []byte("C")}},
	}}

	written, err := w.WriteOutcome(out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.png")

	require.Len(t, written, 2)
	assert.Equal(t, "a.png", written[0].Name)
	assert.Equal(t, "c.png", written[1].Name)
	assert.Equal(t, "A", read(t, filepath.Join(dir, "a.png")))
	assert.Equal(t, "C", read(t, filepath.Join(dir, "c.png")))

	snap := stats.Snapshot()
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "b.gif", snap.Errors[0].FilePath)
	assert.Equal(t, "write_output", snap.Errors[0].Operation)
	assert.Contains(t, levels, "error")
}

func TestWriteArchive(t *testing.T) {
	dir := t.TempDir()
	stats := statistics.NewStatistics()
	w := NewWriter(Options{Directory: dir}, nil, stats, nil)

	wr, err := w.WriteArchive(outcome(), "")
	require.NoError(t, err)
	assert.Equal(t, "converted_images.zip", wr.Name)
	assert.Equal(t, int64(1), stats.ArchivesCreated)

	data, err := os.ReadFile(wr.Path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "a.png", zr.File[0].Name)
	assert.Equal(t, "a_1.png", zr.File[1].Name)
}

func TestParseDuplicateStrategy(t *testing.T) {
	s, err := ParseDuplicateStrategy(" Skip ")
	require.NoError(t, err)
	assert.Equal(t, DuplicateSkip, s)

	s, err = ParseDuplicateStrategy("")
	require.NoError(t, err)
	assert.Equal(t, DuplicateRename, s)

	_, err = ParseDuplicateStrategy("merge")
	assert.Error(t, err)
}
