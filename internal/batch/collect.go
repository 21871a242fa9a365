package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"formatforge-go/internal/format"
)

// SupportedExtensions lists the lower-case extensions treated as image inputs.
func SupportedExtensions() []string {
	exts := []string{".jpeg", ".tif"}
	for _, f := range format.All() {
		exts = append(exts, f.Extension())
	}
	return exts
}

// IsSupportedFile reports whether path has an image extension.
func IsSupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions() {
		if ext == e {
			return true
		}
	}
	return false
}

// CollectFiles expands files and directories into image file paths. With
// recursive set, subdirectories are walked too, except those listed in
// exclude (typically the output directory). Missing paths are ignored.
func CollectFiles(inputPaths []string, recursive bool, exclude ...string) ([]string, error) {
	skip := make(map[string]bool, len(exclude))
	for _, ex := range exclude {
		if ex == "" {
			continue
		}
		if abs, err := filepath.Abs(ex); err == nil {
			skip[abs] = true
		}
	}

	var files []string
	for _, in := range inputPaths {
		info, err := os.Stat(in)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if IsSupportedFile(in) {
				files = append(files, in)
			}
			continue
		}

		err = filepath.WalkDir(in, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path == in {
					return nil
				}
				if !recursive || excluded(skip, path) {
					return filepath.SkipDir
				}
				return nil
			}
			if IsSupportedFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", in, err)
		}
	}
	return files, nil
}

func excluded(skip map[string]bool, path string) bool {
	if len(skip) == 0 {
		return false
	}
	abs, err := filepath.Abs(path)
	return err == nil && skip[abs]
}

// LoadInputs reads every path into memory. Paths that cannot be read are
// returned separately with their error.
func LoadInputs(paths []string) ([]Input, map[string]error) {
	inputs := make([]Input, 0, len(paths))
	failed := make(map[string]error)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			failed[p] = err
			continue
		}
		inputs = append(inputs, Input{Filename: p, Data: data})
	}
	return inputs, failed
}
