package icopack

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxSize is the largest edge an ICO directory entry can describe.
const MaxSize = 256

var (
	// ErrInvalidSize is returned for non-positive or empty size sets.
	ErrInvalidSize = errors.New("invalid icon size")
	// ErrUnknownPreset is returned for preset names outside the catalogue.
	ErrUnknownPreset = errors.New("unknown icon preset")
)

// Preset is a named, fixed list of icon sizes.
type Preset struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Sizes []int  `json:"sizes"`
}

// CustomPreset selects free-form sizes parsed from text.
const CustomPreset = "custom"

// DefaultPreset is used when no preset is configured.
const DefaultPreset = "default"

var presets = []Preset{
	{Name: "default", Label: "Default (16,32,48,64,128,256)", Sizes: []int{16, 32, 48, 64, 128, 256}},
	{Name: "small", Label: "Small (16,32)", Sizes: []int{16, 32}},
	{Name: "medium", Label: "Medium (64,128)", Sizes: []int{64, 128}},
	{Name: "large", Label: "Large (256)", Sizes: []int{256}},
	{Name: "all", Label: "All (256,128,64,48,32,16)", Sizes: []int{256, 128, 64, 48, 32, 16}},
}

// customFallback is used when custom text yields no usable size.
var customFallback = []int{256, 128, 64}

// Presets returns the preset catalogue, custom excluded.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	for i, p := range presets {
		out[i] = Preset{Name: p.Name, Label: p.Label, Sizes: append([]int(nil), p.Sizes...)}
	}
	return out
}

// Resolve returns the sizes for a preset name. For the custom preset the sizes
// are parsed from custom, falling back to 256,128,64 when nothing parses.
func Resolve(preset, custom string) ([]int, error) {
	name := strings.ToLower(strings.TrimSpace(preset))
	if name == "" {
		name = DefaultPreset
	}

	if name == CustomPreset {
		if sizes := ParseSizes(custom); len(sizes) > 0 {
			return sizes, nil
		}
		return append([]int(nil), customFallback...), nil
	}

	for _, p := range presets {
		if p.Name == name {
			return append([]int(nil), p.Sizes...), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, preset)
}

// ParseSizes parses comma separated sizes such as "16,32,48". Tokens that are
// not positive integers are ignored and duplicates collapse.
func ParseSizes(text string) []int {
	var sizes []int
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 {
			continue
		}
		sizes = append(sizes, v)
	}
	out, _ := Normalize(sizes)
	return out
}

// Normalize drops duplicate sizes, keeping first occurrence order. Any
// non-positive size is an error.
func Normalize(sizes []int) ([]int, error) {
	seen := make(map[int]struct{}, len(sizes))
	out := make([]int, 0, len(sizes))
	for _, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidSize, s)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
