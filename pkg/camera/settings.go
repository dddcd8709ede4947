// Package camera provides the capture provider boundary: device enumeration,
// single-frame grabs, and settings application with device-side coercion.
package camera

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Settings holds the tunable capture parameters. Brightness and exposure are
// normalized to [0,1] with 0.5 neutral; contrast is a factor with 1.0 neutral.
type Settings struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Exposure   float64 `json:"exposure"`
	Resolution string  `json:"resolution"`
}

// DefaultSettings returns neutral settings that leave frames untouched.
func DefaultSettings() Settings {
	return Settings{
		Brightness: 0.5,
		Contrast:   1.0,
		Exposure:   0.5,
		Resolution: "1280x720",
	}
}

// neutralTolerance is how far a value may drift from neutral before the
// software adjustment pass kicks in.
const neutralTolerance = 0.01

// IsNeutral reports whether brightness and contrast are close enough to
// neutral that post-processing can be skipped entirely.
func (s Settings) IsNeutral() bool {
	return math.Abs(s.Brightness-0.5) <= neutralTolerance &&
		math.Abs(s.Contrast-1.0) <= neutralTolerance
}

// Size parses the Resolution string ("WIDTHxHEIGHT").
func (s Settings) Size() (width, height int, err error) {
	parts := strings.SplitN(s.Resolution, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q", s.Resolution)
	}
	width, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution width %q", parts[0])
	}
	height, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution height %q", parts[1])
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("non-positive resolution %q", s.Resolution)
	}
	return width, height, nil
}

// fallbackResolutions is tried in order when a requested resolution cannot be
// honored, highest first.
var fallbackResolutions = []string{"1920x1080", "1280x720", "800x600", "640x480"}

// Coerce clamps the settings into their valid ranges and substitutes the
// closest supported resolution for an unparsable one. It returns the settings
// the device will actually use.
func (s Settings) Coerce() Settings {
	out := s
	out.Brightness = clamp(s.Brightness, 0, 1)
	out.Exposure = clamp(s.Exposure, 0, 1)
	out.Contrast = clamp(s.Contrast, 0.1, 3.0)
	if _, _, err := out.Size(); err != nil {
		out.Resolution = fallbackResolutions[1]
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
