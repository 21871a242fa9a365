package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains all statistics for a conversion run.
type Statistics struct {
	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesConverted      int64
	FilesSkipped        int64
	FilesWithErrors     int64
	FilesDegraded       int64

	FormatMismatches  int64
	UnidentifiedFiles int64
	FallbacksUsed     int64

	DuplicatesFound    int64
	DuplicatesRenamed  int64
	DuplicatesSkipped  int64
	DuplicatesReplaced int64

	FilesWritten    int64
	ArchivesCreated int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64
	BytesIn        int64
	BytesOut       int64

	Errors []StatError

	mutex sync.RWMutex

	SourceFormats map[string]int64
	TargetFormats map[string]int64

	Degradations DegradationStats
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// DegradationStats counts conversions that succeeded with reduced fidelity.
type DegradationStats struct {
	Animation   int64 `json:"animation"`
	Icon        int64 `json:"icon"`
	Compositing int64 `json:"compositing"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		SourceFormats: make(map[string]int64),
		TargetFormats: make(map[string]int64),
		Errors:        make([]StatError, 0),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.TotalFilesFound, 1)
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// IncrementFilesConverted increases the count of converted files by 1.
func (s *Statistics) IncrementFilesConverted() {
	atomic.AddInt64(&s.FilesConverted, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesWithErrors increases the count of files with errors by 1.
func (s *Statistics) IncrementFilesWithErrors() {
	atomic.AddInt64(&s.FilesWithErrors, 1)
}

// IncrementFormatMismatches increases the count of declared-format mismatches by 1.
func (s *Statistics) IncrementFormatMismatches() {
	atomic.AddInt64(&s.FormatMismatches, 1)
}

// IncrementUnidentified increases the count of undecodable inputs by 1.
func (s *Statistics) IncrementUnidentified() {
	atomic.AddInt64(&s.UnidentifiedFiles, 1)
}

// IncrementFallbacks increases the count of conversions that needed a retry by 1.
func (s *Statistics) IncrementFallbacks() {
	atomic.AddInt64(&s.FallbacksUsed, 1)
}

// IncrementDuplicatesFound increases the count of found duplicates by 1.
func (s *Statistics) IncrementDuplicatesFound() {
	atomic.AddInt64(&s.DuplicatesFound, 1)
}

// IncrementDuplicatesRenamed increases the count of renamed duplicates by 1.
func (s *Statistics) IncrementDuplicatesRenamed() {
	atomic.AddInt64(&s.DuplicatesRenamed, 1)
}

// IncrementDuplicatesSkipped increases the count of skipped duplicates by 1.
func (s *Statistics) IncrementDuplicatesSkipped() {
	atomic.AddInt64(&s.DuplicatesSkipped, 1)
}

// IncrementDuplicatesReplaced increases the count of replaced duplicates by 1.
func (s *Statistics) IncrementDuplicatesReplaced() {
	atomic.AddInt64(&s.DuplicatesReplaced, 1)
}

// IncrementFilesWritten increases the count of files written to disk by 1.
func (s *Statistics) IncrementFilesWritten() {
	atomic.AddInt64(&s.FilesWritten, 1)
}

// IncrementArchivesCreated increases the count of archives built by 1.
func (s *Statistics) IncrementArchivesCreated() {
	atomic.AddInt64(&s.ArchivesCreated, 1)
}

// IncrementDegradation records one degraded conversion of the given kind
// (animation, icon or compositing).
func (s *Statistics) IncrementDegradation(kind string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch kind {
	case "animation":
		s.Degradations.Animation++
	case "icon":
		s.Degradations.Icon++
	case "compositing":
		s.Degradations.Compositing++
	}
}

// IncrementFilesDegraded increases the count of files with any degradation by 1.
func (s *Statistics) IncrementFilesDegraded() {
	atomic.AddInt64(&s.FilesDegraded, 1)
}

// RecordConversion tallies a successful conversion by source and target format.
func (s *Statistics) RecordConversion(source, target string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.SourceFormats[source]++
	s.TargetFormats[target]++
}

// AddBytesIn adds to the total input bytes read.
func (s *Statistics) AddBytesIn(n int64) {
	atomic.AddInt64(&s.BytesIn, n)
}

// AddBytesOut adds to the total encoded bytes produced.
func (s *Statistics) AddBytesOut(n int64) {
	atomic.AddInt64(&s.BytesOut, n)
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	totalProcessed := atomic.LoadInt64(&s.TotalFilesProcessed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(totalProcessed) / s.Duration.Seconds()
	}
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Snapshot is a point-in-time copy suitable for JSON responses.
type Snapshot struct {
	Found         int64            `json:"found"`
	Processed     int64            `json:"processed"`
	Converted     int64            `json:"converted"`
	Skipped       int64            `json:"skipped"`
	Errored       int64            `json:"errored"`
	Degraded      int64            `json:"degraded"`
	Mismatches    int64            `json:"format_mismatches"`
	Unidentified  int64            `json:"unidentified"`
	Fallbacks     int64            `json:"fallbacks"`
	BytesIn       int64            `json:"bytes_in"`
	BytesOut      int64            `json:"bytes_out"`
	SourceFormats map[string]int64 `json:"source_formats"`
	TargetFormats map[string]int64 `json:"target_formats"`
	Degradations  DegradationStats `json:"degradations"`
	Errors        []StatError      `json:"errors"`
	Uptime        string           `json:"uptime"`
}

// Snapshot copies the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap := Snapshot{
		Found:         atomic.LoadInt64(&s.TotalFilesFound),
		Processed:     atomic.LoadInt64(&s.TotalFilesProcessed),
		Converted:     atomic.LoadInt64(&s.FilesConverted),
		Skipped:       atomic.LoadInt64(&s.FilesSkipped),
		Errored:       atomic.LoadInt64(&s.FilesWithErrors),
		Degraded:      atomic.LoadInt64(&s.FilesDegraded),
		Mismatches:    atomic.LoadInt64(&s.FormatMismatches),
		Unidentified:  atomic.LoadInt64(&s.UnidentifiedFiles),
		Fallbacks:     atomic.LoadInt64(&s.FallbacksUsed),
		BytesIn:       atomic.LoadInt64(&s.BytesIn),
		BytesOut:      atomic.LoadInt64(&s.BytesOut),
		SourceFormats: make(map[string]int64, len(s.SourceFormats)),
		TargetFormats: make(map[string]int64, len(s.TargetFormats)),
		Degradations:  s.Degradations,
		Errors:        append([]StatError(nil), s.Errors...),
		Uptime:        time.Since(s.StartTime).Round(time.Second).String(),
	}
	for k, v := range s.SourceFormats {
		snap.SourceFormats[k] = v
	}
	for k, v := range s.TargetFormats {
		snap.TargetFormats[k] = v
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return fmt.Sprintf(`FormatForge Statistics Summary:

Files:
		Total Found: %d
		Total Processed: %d
		Converted: %d
		Skipped: %d
		Errors: %d

Skips:
		Format Mismatch: %d
		Unidentified: %d

Degradations:
		Files Degraded: %d
		Animation: %d
		Icon: %d
		Compositing: %d
		Fallback Retries: %d

Output:
		Files Written: %d
		Archives: %d
		Duplicates Found: %d
		Renamed: %d
		Skipped: %d
		Replaced: %d

Performance:
		Duration: %v
		Files/Second: %.2f
		Bytes In: %s
		Bytes Out: %s`,
		atomic.LoadInt64(&s.TotalFilesFound),
		atomic.LoadInt64(&s.TotalFilesProcessed),
		atomic.LoadInt64(&s.FilesConverted),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.FilesWithErrors),
		atomic.LoadInt64(&s.FormatMismatches),
		atomic.LoadInt64(&s.UnidentifiedFiles),
		atomic.LoadInt64(&s.FilesDegraded),
		s.Degradations.Animation,
		s.Degradations.Icon,
		s.Degradations.Compositing,
		atomic.LoadInt64(&s.FallbacksUsed),
		atomic.LoadInt64(&s.FilesWritten),
		atomic.LoadInt64(&s.ArchivesCreated),
		atomic.LoadInt64(&s.DuplicatesFound),
		atomic.LoadInt64(&s.DuplicatesRenamed),
		atomic.LoadInt64(&s.DuplicatesSkipped),
		atomic.LoadInt64(&s.DuplicatesReplaced),
		s.Duration,
		s.FilesPerSecond,
		FormatBytes(atomic.LoadInt64(&s.BytesIn)),
		FormatBytes(atomic.LoadInt64(&s.BytesOut)))
}

// GetFormatBreakdown returns source and target format tallies, sorted by name.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.SourceFormats) == 0 && len(s.TargetFormats) == 0 {
		return "No format statistics available"
	}

	var b strings.Builder
	b.WriteString("Format Breakdown:\n")
	writeTally(&b, "Source", s.SourceFormats)
	writeTally(&b, "Target", s.TargetFormats)
	return b.String()
}

func writeTally(b *strings.Builder, title string, m map[string]int64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "  %s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "    %s: %d\n", k, m[k])
	}
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
