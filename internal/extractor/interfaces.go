package extractor

import (
	"time"
)

// MetadataExtractor reads embedded metadata from an encoded image.
type MetadataExtractor interface {
	Extract(data []byte) (*Metadata, error)
	Supports(mime string) bool
}

// FileInspector reads metadata for a file on disk. Used by the inspect command.
type FileInspector interface {
	Inspect(filePath string) (map[string]string, error)
	Close() error
}

// Orientation is the EXIF orientation tag value (1-8). Constant names describe
// the counter-clockwise transform that restores the upright image.
type Orientation int

const (
	OrientationUnknown Orientation = iota
	OrientationNormal
	OrientationFlipH
	OrientationRotate180
	OrientationFlipV
	OrientationTranspose
	OrientationRotate270
	OrientationTransverse
	OrientationRotate90
)

// Metadata contains the EXIF fields the converter cares about.
type Metadata struct {
	Orientation Orientation
	Make        string
	Model       string
	Software    string
	DateTime    time.Time
}

// IsZero reports whether no field was populated.
func (m *Metadata) IsZero() bool {
	return m == nil || (m.Orientation == OrientationUnknown && m.Make == "" &&
		m.Model == "" && m.Software == "" && m.DateTime.IsZero())
}

// NeedsTransform reports whether applying the orientation changes the pixels.
func (o Orientation) NeedsTransform() bool {
	return o > OrientationNormal && o <= OrientationRotate90
}

// String returns a human-readable description of the orientation.
func (o Orientation) String() string {
	switch o {
	case OrientationNormal:
		return "Normal"
	case OrientationFlipH:
		return "Mirror horizontal"
	case OrientationRotate180:
		return "Rotate 180"
	case OrientationFlipV:
		return "Mirror vertical"
	case OrientationTranspose:
		return "Transpose"
	case OrientationRotate270:
		return "Rotate 90 CW"
	case OrientationTransverse:
		return "Transverse"
	case OrientationRotate90:
		return "Rotate 270 CW"
	default:
		return "Unknown"
	}
}
