package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"formatforge-go/internal/batch"
	"formatforge-go/internal/output"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Event reports one converted (or rejected) file.
type Event struct {
	Path    string
	Record  batch.Record
	Written *output.Written
	Err     error
}

// Watcher converts image files as they appear in a directory.
type Watcher struct {
	dir      string
	debounce time.Duration
	driver   *batch.Driver
	opts     batch.Options
	writer   *output.Writer
	logger   logrus.FieldLogger

	fsw    *fsnotify.Watcher
	events chan Event

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New creates a Watcher on dir. Converted files are written through writer.
func New(dir string, debounce time.Duration, driver *batch.Driver, opts batch.Options, writer *output.Writer, logger logrus.FieldLogger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory: %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch folder %s: %w", dir, err)
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		driver:   driver,
		opts:     opts,
		writer:   writer,
		logger:   logger.WithField("component", "watcher"),
		fsw:      fsw,
		events:   make(chan Event, 100),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Events returns processed files. The channel is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()
	w.logger.WithField("dir", w.dir).Info("Watching folder")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.interesting(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Watcher error")
		}
	}
}

// interesting filters out hidden, temporary and unsupported files.
func (w *Watcher) interesting(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return batch.IsSupportedFile(path)
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[path]; exists {
		if timer.Stop() {
			w.wg.Done()
		}
	}

	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, path)
	})
}

func (w *Watcher) handle(ctx context.Context, path string) {
	log := w.logger.WithField("file", path)

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Warn("Could not read new file")
		w.emit(Event{Path: path, Err: err})
		return
	}

	out := w.driver.Run(ctx, []batch.Input{{Filename: path, Data: data}}, w.opts)
	rec := out.Records[0]
	ev := Event{Path: path, Record: rec, Err: rec.Err}

	if rec.Status == batch.StatusConverted {
		wr, err := w.writer.WriteFile(rec.Result.Filename, rec.Result.Data)
		if err != nil {
			log.WithError(err).Error("Could not write converted file")
			ev.Err = err
		} else {
			ev.Written = &wr
			log.WithField("output", wr.Path).Info("Converted new file")
		}
	} else {
		log.WithField("status", string(rec.Status)).Info(rec.Message)
	}
	w.emit(ev)
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.WithField("file", ev.Path).Warn("Event channel full, dropping event")
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	for path, timer := range w.pending {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	_ = w.fsw.Close()
	close(w.events)
}
