package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// DefaultName is the file name offered for a batch download.
const DefaultName = "converted_images.zip"

// MimeType of the archives Build produces.
const MimeType = "application/zip"

// ErrEmpty is returned when there is nothing to archive.
var ErrEmpty = errors.New("no files to archive")

// File is one archive member.
type File struct {
	Name string
	Data []byte
}

// Build packs files into a single ZIP. Entries keep input order; repeated
// names get _1, _2 ... suffixes before the extension.
func Build(files []File) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write streams the archive for files to w.
func Write(w io.Writer, files []File) error {
	if len(files) == 0 {
		return ErrEmpty
	}

	zw := zip.NewWriter(w)
	names := UniqueNames(files)
	now := time.Now()

	for i, f := range files {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names[i],
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return fmt.Errorf("create entry %s: %w", names[i], err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("write entry %s: %w", names[i], err)
		}
	}
	return zw.Close()
}

// UniqueNames returns the entry name for every file, flattened to a base name
// and de-duplicated.
func UniqueNames(files []File) []string {
	used := make(map[string]struct{}, len(files))
	out := make([]string, len(files))

	for i, f := range files {
		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "." || name == "/" || name == "" {
			name = fmt.Sprintf("file_%d", i+1)
		}

		candidate := name
		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := 1; ; n++ {
			if _, taken := used[candidate]; !taken {
				break
			}
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		used[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}
