package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"formatforge-go/internal/converter"
	"formatforge-go/internal/decoder"
	"formatforge-go/internal/format"
	"formatforge-go/internal/statistics"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Driver converts batches of inputs with a bounded worker pool.
type Driver struct {
	decoder   *decoder.Decoder
	converter *converter.Converter
	stats     *statistics.Statistics
	logger    logrus.FieldLogger
	progress  func(Progress)
}

// DriverOption customises a Driver.
type DriverOption func(*Driver)

// WithStatistics makes the driver count every outcome in stats.
func WithStatistics(stats *statistics.Statistics) DriverOption {
	return func(d *Driver) { d.stats = stats }
}

// WithProgress registers a callback invoked after each input. It may be
// called from several goroutines at once.
func WithProgress(fn func(Progress)) DriverOption {
	return func(d *Driver) { d.progress = fn }
}

// NewDriver creates a Driver.
func NewDriver(dec *decoder.Decoder, conv *converter.Converter, logger logrus.FieldLogger, opts ...DriverOption) *Driver {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	d := &Driver{
		decoder:   dec,
		converter: conv,
		logger:    logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// With returns a copy of d with extra options applied. The copy shares the
// decoder, converter and statistics of d.
func (d *Driver) With(opts ...DriverOption) *Driver {
	c := *d
	for _, o := range opts {
		o(&c)
	}
	return &c
}

// Run converts every input and returns exactly one record per input, in
// input order. A failing or panicking input never affects the others.
func (d *Driver) Run(ctx context.Context, inputs []Input, opts Options) *Outcome {
	start := time.Now()
	records := make([]Record, len(inputs))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			rec := d.runOne(gctx, i, in, opts)
			records[i] = rec
			d.account(rec)
			if d.progress != nil {
				d.progress(Progress{
					Done:     int(done.Add(1)),
					Total:    len(inputs),
					Filename: rec.Filename,
					Status:   rec.Status,
					Message:  rec.Message,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	return &Outcome{Records: records, Duration: time.Since(start)}
}

// runOne applies the per-file timeout and turns panics into errored records.
func (d *Driver) runOne(ctx context.Context, index int, in Input, opts Options) Record {
	rec := Record{
		Index:     index,
		Filename:  in.Filename,
		InputSize: int64(len(in.Data)),
		StartedAt: time.Now(),
	}
	if err := ctx.Err(); err != nil {
		return finish(errored(rec, "cancelled", err))
	}

	if opts.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.FileTimeout)
		defer cancel()
	}

	ch := make(chan Record, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.WithFields(logrus.Fields{
					"file":  in.Filename,
					"panic": fmt.Sprint(r),
				}).Error("Recovered from panic during conversion")
				ch <- errored(rec, fmt.Sprintf("internal error: %v", r), fmt.Errorf("panic: %v", r))
			}
		}()
		ch <- d.convert(rec, in, opts)
	}()

	select {
	case r := <-ch:
		return finish(r)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return finish(errored(rec, fmt.Sprintf("timed out after %v", opts.FileTimeout), ctx.Err()))
		}
		return finish(errored(rec, "cancelled", ctx.Err()))
	}
}

func (d *Driver) convert(rec Record, in Input, opts Options) Record {
	log := d.logger.WithField("file", in.Filename)

	img, err := d.decoder.Decode(in.Data)
	if err != nil {
		log.WithError(err).Debug("Skipping unidentified image")
		rec.Status = StatusSkipped
		rec.Message = "Unidentified image"
		rec.Err = err
		return rec
	}

	rec.DetectedFormat = normalizedName(decoder.DetectedFormat(img, in.Filename))
	if opts.Declared.IsValid() && !opts.Force && rec.DetectedFormat != opts.Declared.String() {
		log.WithFields(logrus.Fields{
			"declared": opts.Declared.String(),
			"detected": rec.DetectedFormat,
		}).Debug("Skipping format mismatch")
		rec.Status = StatusSkipped
		rec.Message = fmt.Sprintf("Format mismatch (detected: %s)", rec.DetectedFormat)
		rec.Err = fmt.Errorf("%w: declared %s, detected %s", ErrFormatMismatch, opts.Declared, rec.DetectedFormat)
		return rec
	}

	res, err := d.converter.Convert(img, converter.Request{
		Target:            opts.Target,
		Filename:          in.Filename,
		Background:        opts.Background,
		IconSizes:         opts.IconSizes,
		PreserveAnimation: opts.PreserveAnimation,
	})
	if err != nil {
		log.WithError(err).Error("Conversion failed")
		return errored(rec, err.Error(), err)
	}

	rec.Status = StatusConverted
	rec.Message = "Image converted"
	rec.Result = res
	rec.OutputFilename = res.Filename
	rec.OutputSize = int64(len(res.Data))
	rec.Fallback = res.Fallback
	rec.Degradations = res.Degradations
	return rec
}

// account updates statistics for a finished record.
func (d *Driver) account(rec Record) {
	if d.stats == nil {
		return
	}
	d.stats.IncrementFilesProcessed()
	d.stats.AddBytesIn(rec.InputSize)

	switch rec.Status {
	case StatusConverted:
		d.stats.IncrementFilesConverted()
		d.stats.AddBytesOut(rec.OutputSize)
		d.stats.RecordConversion(rec.DetectedFormat, rec.Result.Target.String())
		if rec.Fallback != converter.FallbackNone {
			d.stats.IncrementFallbacks()
		}
		if len(rec.Degradations) > 0 {
			d.stats.IncrementFilesDegraded()
			for _, deg := range rec.Degradations {
				d.stats.IncrementDegradation(string(deg.Kind))
			}
		}
	case StatusSkipped:
		d.stats.IncrementFilesSkipped()
		if errors.Is(rec.Err, ErrFormatMismatch) {
			d.stats.IncrementFormatMismatches()
		} else {
			d.stats.IncrementUnidentified()
		}
	case StatusErrored:
		d.stats.IncrementFilesWithErrors()
		d.stats.AddError(rec.Filename, "convert", rec.Message)
	}
}

func errored(rec Record, msg string, err error) Record {
	rec.Status = StatusErrored
	rec.Message = msg
	rec.Err = err
	return rec
}

func finish(rec Record) Record {
	rec.FinishedAt = time.Now()
	return rec
}

// normalizedName maps a detected format label onto the canonical name when it
// is a known format, and upper-cases it otherwise.
func normalizedName(name string) string {
	if f, err := format.Normalize(name); err == nil {
		return f.String()
	}
	return strings.ToUpper(strings.TrimSpace(name))
}
