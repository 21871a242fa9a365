package batch

import (
	"errors"
	"time"

	"formatforge-go/internal/compositor"
	"formatforge-go/internal/converter"
	"formatforge-go/internal/format"
)

// ErrFormatMismatch marks inputs whose detected format differs from the
// declared one.
var ErrFormatMismatch = errors.New("format mismatch")

// Input is one file handed to the driver.
type Input struct {
	Filename string
	Data     []byte
}

// Options configures a batch run.
type Options struct {
	Target format.Format
	// Declared is the format the caller says the inputs are in. Unknown
	// disables the mismatch check.
	Declared          format.Format
	Force             bool
	PreserveAnimation bool
	Background        compositor.RGB
	IconSizes         []int

	Workers     int
	FileTimeout time.Duration
}

// Status is the outcome class of one input.
type Status string

const (
	StatusConverted Status = "converted"
	StatusSkipped   Status = "skipped"
	StatusErrored   Status = "error"
)

// Record describes what happened to one input.
type Record struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	// DetectedFormat is the normalised detected source format name.
	DetectedFormat string                  `json:"detected_format,omitempty"`
	OutputFilename string                  `json:"output_filename,omitempty"`
	Fallback       converter.Fallback      `json:"fallback"`
	Degradations   []converter.Degradation `json:"degradations,omitempty"`
	InputSize      int64                   `json:"input_size"`
	OutputSize     int64                   `json:"output_size,omitempty"`

	Result *converter.Result `json:"-"`
	Err    error             `json:"-"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Outcome holds one record per input, in input order.
type Outcome struct {
	Records  []Record
	Duration time.Duration
}

func (o *Outcome) filter(s Status) []Record {
	var out []Record
	for _, r := range o.Records {
		if r.Status == s {
			out = append(out, r)
		}
	}
	return out
}

// Converted returns the successful records.
func (o *Outcome) Converted() []Record { return o.filter(StatusConverted) }

// Skipped returns the records that were not attempted.
func (o *Outcome) Skipped() []Record { return o.filter(StatusSkipped) }

// Errored returns the records whose conversion failed.
func (o *Outcome) Errored() []Record { return o.filter(StatusErrored) }

// Progress is emitted after each input finishes.
type Progress struct {
	Done     int    `json:"done"`
	Total    int    `json:"total"`
	Filename string `json:"filename"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
}
