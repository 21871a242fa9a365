package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"formatforge-go/internal/archive"
	"formatforge-go/internal/batch"
	"formatforge-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// DuplicateStrategy decides what happens when a target file already exists.
type DuplicateStrategy string

const (
	DuplicateRename    DuplicateStrategy = "rename"
	DuplicateSkip      DuplicateStrategy = "skip"
	DuplicateOverwrite DuplicateStrategy = "overwrite"
)

// ParseDuplicateStrategy validates a configured strategy name.
func ParseDuplicateStrategy(s string) (DuplicateStrategy, error) {
	switch d := DuplicateStrategy(strings.ToLower(strings.TrimSpace(s))); d {
	case DuplicateRename, DuplicateSkip, DuplicateOverwrite:
		return d, nil
	case "":
		return DuplicateRename, nil
	default:
		return "", fmt.Errorf("unknown duplicate handling strategy: %s", s)
	}
}

// Action is what the writer did with one file.
type Action string

const (
	ActionWritten     Action = "written"
	ActionRenamed     Action = "renamed"
	ActionOverwritten Action = "overwritten"
	ActionSkipped     Action = "skipped"
	ActionDryRun      Action = "dry-run"
)

// Written describes one file handled by the writer.
type Written struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Action Action `json:"action"`
	Size   int64  `json:"size"`
}

// LogHookFunc receives human-readable messages, for example to forward them
// over a websocket.
type LogHookFunc func(level, message string)

// Options configures a Writer.
type Options struct {
	Directory  string
	Duplicates DuplicateStrategy
	DryRun     bool
}

// Writer places converted files on disk.
type Writer struct {
	opts    Options
	logger  logrus.FieldLogger
	stats   *statistics.Statistics
	logHook LogHookFunc
}

// NewWriter returns a Writer. stats and hook may be nil.
func NewWriter(opts Options, logger logrus.FieldLogger, stats *statistics.Statistics, hook LogHookFunc) *Writer {
	if opts.Duplicates == "" {
		opts.Duplicates = DuplicateRename
	}
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	return &Writer{opts: opts, logger: logger, stats: stats, logHook: hook}
}

// WriteOutcome writes every converted record of out. A failed write is
// recorded against its source file and the remaining records are still
// written; the returned error joins every failure.
func (w *Writer) WriteOutcome(out *batch.Outcome) ([]Written, error) {
	var (
		written []Written
		errs    []error
	)
	for _, rec := range out.Converted() {
		if rec.Result == nil {
			continue
		}
		wr, err := w.WriteFile(rec.Result.Filename, rec.Result.Data)
		if err != nil {
			w.stats.AddError(rec.Filename, "write_output", err.Error())
			w.emit("error", fmt.Sprintf("Failed to write %s: %v", rec.Result.Filename, err))
			errs = append(errs, err)
			continue
		}
		written = append(written, wr)
	}
	return written, errors.Join(errs...)
}

// WriteArchive writes every converted record of out into one ZIP named name.
func (w *Writer) WriteArchive(out *batch.Outcome, name string) (*Written, error) {
	if name == "" {
		name = archive.DefaultName
	}

	var files []archive.File
	for _, rec := range out.Converted() {
		if rec.Result != nil {
			files = append(files, archive.File{Name: rec.Result.Filename, Data: rec.Result.Data})
		}
	}

	data, err := archive.Build(files)
	if err != nil {
		return nil, fmt.Errorf("build archive: %w", err)
	}
	wr, err := w.WriteFile(name, data)
	if err != nil {
		return nil, err
	}
	if wr.Action != ActionSkipped && wr.Action != ActionDryRun {
		w.stats.IncrementArchivesCreated()
	}
	return &wr, nil
}

// WriteFile writes data as name inside the output directory, applying the
// duplicate strategy.
func (w *Writer) WriteFile(name string, data []byte) (Written, error) {
	target := filepath.Join(w.opts.Directory, filepath.Base(name))
	wr := Written{Name: filepath.Base(name), Path: target, Action: ActionWritten, Size: int64(len(data))}

	exists := fileExists(target)
	if exists {
		w.stats.IncrementDuplicatesFound()
	}

	if w.opts.DryRun {
		msg := fmt.Sprintf("DRY-RUN: Would write %s", target)
		if exists {
			msg = fmt.Sprintf("DRY-RUN: Would handle duplicate (%s) for %s", w.opts.Duplicates, target)
		}
		w.emit("info", msg)
		wr.Action = ActionDryRun
		return wr, nil
	}

	if exists {
		switch w.opts.Duplicates {
		case DuplicateSkip:
			w.emit("info", fmt.Sprintf("Skipping existing file: %s", target))
			w.stats.IncrementDuplicatesSkipped()
			wr.Action = ActionSkipped
			return wr, nil
		case DuplicateOverwrite:
			w.emit("info", fmt.Sprintf("Overwriting existing file: %s", target))
			wr.Action = ActionOverwritten
		case DuplicateRename:
			wr.Path = generateUniqueFilename(target)
			wr.Name = filepath.Base(wr.Path)
			w.emit("info", fmt.Sprintf("Renaming duplicate file: %s -> %s", target, wr.Path))
			wr.Action = ActionRenamed
		default:
			return wr, fmt.Errorf("unknown duplicate handling strategy: %s", w.opts.Duplicates)
		}
	}

	if err := os.MkdirAll(filepath.Dir(wr.Path), 0755); err != nil {
		return wr, fmt.Errorf("create output directory: %w", err)
	}
	if err := writeAtomic(wr.Path, data); err != nil {
		return wr, fmt.Errorf("write %s: %w", wr.Path, err)
	}

	switch wr.Action {
	case ActionRenamed:
		w.stats.IncrementDuplicatesRenamed()
	case ActionOverwritten:
		w.stats.IncrementDuplicatesReplaced()
	}
	w.stats.IncrementFilesWritten()
	w.logger.WithFields(logrus.Fields{
		"path":   wr.Path,
		"action": string(wr.Action),
		"size":   wr.Size,
	}).Debug("Wrote output file")
	return wr, nil
}

func (w *Writer) emit(level, msg string) {
	switch level {
	case "error":
		w.logger.Error(msg)
	case "warn":
		w.logger.Warn(msg)
	default:
		w.logger.Info(msg)
	}
	if w.logHook != nil {
		w.logHook(level, msg)
	}
}

// writeAtomic writes to a temporary sibling and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// generateUniqueFilename returns a unique filename by adding a counter.
func generateUniqueFilename(basePath string) string {
	dir := filepath.Dir(basePath)
	name := filepath.Base(basePath)
	ext := filepath.Ext(name)
	nameWithoutExt := strings.TrimSuffix(name, ext)

	counter := 1
	for {
		newPath := filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, counter, ext))
		if !fileExists(newPath) {
			return newPath
		}
		counter++
	}
}
