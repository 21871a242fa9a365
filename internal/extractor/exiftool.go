package extractor

import (
	"fmt"
	"sort"

	"github.com/barasher/go-exiftool"
)

// ExiftoolInspector dumps every tag exiftool knows about a file.
// It requires the exiftool binary on PATH.
type ExiftoolInspector struct {
	et *exiftool.Exiftool
}

// NewExiftoolInspector starts an exiftool process.
func NewExiftoolInspector() (*ExiftoolInspector, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolInspector{et: et}, nil
}

// Inspect returns the tags of filePath with values rendered as strings.
func (i *ExiftoolInspector) Inspect(filePath string) (map[string]string, error) {
	files := i.et.ExtractMetadata(filePath)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", filePath)
	}
	if files[0].Err != nil {
		return nil, files[0].Err
	}

	out := make(map[string]string, len(files[0].Fields))
	for k, v := range files[0].Fields {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// Close stops the exiftool process.
func (i *ExiftoolInspector) Close() error {
	return i.et.Close()
}

// SortedKeys returns the keys of tags in lexical order.
func SortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
