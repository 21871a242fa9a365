package extractor

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// EXIFExtractor reads EXIF metadata from JPEG and TIFF payloads.
type EXIFExtractor struct {
	logger logrus.FieldLogger
}

// NewEXIFExtractor returns a new EXIFExtractor.
func NewEXIFExtractor(logger logrus.FieldLogger) *EXIFExtractor {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		logger = l
	}
	return &EXIFExtractor{logger: logger}
}

// Supports reports whether the container can carry EXIF that goexif understands.
func (e *EXIFExtractor) Supports(mime string) bool {
	return slices.Contains([]string{"image/jpeg", "image/tiff"}, strings.ToLower(mime))
}

// Extract decodes the EXIF block from data. A payload without EXIF returns an error.
func (e *EXIFExtractor) Extract(data []byte) (*Metadata, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	meta := &Metadata{}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
			meta.Orientation = Orientation(v)
		}
	}

	meta.Make = stringField(x, exif.Make)
	meta.Model = stringField(x, exif.Model)
	meta.Software = stringField(x, exif.Software)

	if tm, err := x.DateTime(); err == nil {
		meta.DateTime = tm
	} else if date := parseEXIFDateTime(stringField(x, exif.DateTimeOriginal)); date != nil {
		meta.DateTime = *date
	}

	e.logger.Debugf("Extracted EXIF: orientation=%s make=%q model=%q", meta.Orientation, meta.Make, meta.Model)
	return meta, nil
}

func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(val, "\x00"))
}

// parseEXIFDateTime parses an EXIF date time string. Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}
