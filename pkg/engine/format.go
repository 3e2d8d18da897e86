package engine

import (
	"fmt"

	"github.com/gigekit/evtcam/pkg/frame"
)

// formatTable maps the application's (color mode, format index) selection
// to a device pixel format. The mapping is fixed; an unknown combination
// is an error, never a guessed default.
var formatTable = map[frame.ColorMode][]frame.Format{
	frame.ColorModeMono: {
		frame.FormatMono8,
		frame.FormatMono10Packed,
		frame.FormatMono12Packed,
		frame.FormatMono16,
	},
	frame.ColorModeRGB: {
		frame.FormatRGB8,
		frame.FormatBGR8,
		frame.FormatYUV422,
	},
}

// ResolveFormat is pure and total: identical inputs always yield the same
// format or the same KindFormat error.
func ResolveFormat(mode frame.ColorMode, index int) (frame.Format, error) {
	table, ok := formatTable[mode]
	if !ok {
		return "", wrap(KindFormat, "resolve", fmt.Errorf("unknown color mode %q", mode))
	}
	if index < 0 || index >= len(table) {
		return "", wrap(KindFormat, "resolve",
			fmt.Errorf("format index %d out of range for color mode %q", index, mode))
	}
	return table[index], nil
}

// validateFormat gates start() on the format set the device advertised at
// connect time.
func (e *Engine) validateFormat(f frame.Format) error {
	if !e.sess.Supports(string(f)) {
		return wrap(KindFormat, "validate",
			fmt.Errorf("device does not advertise pixel format %s", f))
	}
	return nil
}

// needsConversion reports whether capturing in f requires a second
// conversion buffer before the data is application-ready.
func needsConversion(f frame.Format) bool {
	info, err := frame.Lookup(f)
	if err != nil {
		return false
	}
	return frame.NeedsUnpack(f, info.Sample) || f == frame.FormatBGR8
}
