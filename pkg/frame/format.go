// Package frame describes the pixel formats spoken by EVT style GigE Vision
// cameras and converts raw frame payloads into application-ready layouts.
package frame

import "fmt"

type Format string

const (
	// Mono formats

	FormatMono8 Format = "Mono8"
	// FormatMono10Packed carries two 10-bit samples in three bytes, GVSP
	// packed layout (LSBs of both pixels share the middle byte).
	FormatMono10Packed Format = "Mono10Packed"
	// FormatMono12Packed carries two 12-bit samples in three bytes.
	FormatMono12Packed Format = "Mono12Packed"
	FormatMono16       Format = "Mono16"

	// Color formats

	FormatRGB8   Format = "RGB8"
	FormatBGR8   Format = "BGR8"
	FormatYUV422 Format = "YUV422"
)

// ColorMode is the application-facing color interpretation of a frame.
type ColorMode string

const (
	ColorModeMono ColorMode = "mono"
	ColorModeRGB  ColorMode = "rgb"
)

// SampleType is the storage width of one sample in an output buffer.
type SampleType string

const (
	SampleU8  SampleType = "uint8"
	SampleU16 SampleType = "uint16"
)

// Info describes the wire geometry of a pixel format.
type Info struct {
	ColorMode    ColorMode
	Sample       SampleType
	BitsPerPixel int
	// Packed formats need an unpack pass before samples are addressable.
	Packed bool
}

var infos = map[Format]Info{
	FormatMono8:        {ColorModeMono, SampleU8, 8, false},
	FormatMono10Packed: {ColorModeMono, SampleU16, 12, true},
	FormatMono12Packed: {ColorModeMono, SampleU16, 12, true},
	FormatMono16:       {ColorModeMono, SampleU16, 16, false},
	FormatRGB8:         {ColorModeRGB, SampleU8, 24, false},
	FormatBGR8:         {ColorModeRGB, SampleU8, 24, false},
	FormatYUV422:       {ColorModeRGB, SampleU8, 16, false},
}

// Lookup returns the geometry of f.
func Lookup(f Format) (Info, error) {
	info, ok := infos[f]
	if !ok {
		return Info{}, fmt.Errorf("%s is not a known pixel format", f)
	}
	return info, nil
}

// PayloadSize returns the number of bytes the device delivers for one
// width x height frame in format f. Returns 0 for unknown formats.
func (f Format) PayloadSize(width, height int) int {
	info, ok := infos[f]
	if !ok {
		return 0
	}
	return width * height * info.BitsPerPixel / 8
}

// Converted returns the format a frame captured in f carries after the
// conversion pass: packed mono unpacks to Mono16, BGR8 reorders to RGB8,
// everything else passes through.
func (f Format) Converted() Format {
	switch f {
	case FormatMono10Packed, FormatMono12Packed:
		return FormatMono16
	case FormatBGR8:
		return FormatRGB8
	}
	return f
}

// OutputSize returns the number of bytes an application buffer needs for
// one width x height frame captured in format f, after any conversion.
func (f Format) OutputSize(width, height int) int {
	return f.Converted().PayloadSize(width, height)
}

// NeedsUnpack reports whether delivering f at sample type out requires a
// second conversion buffer and an unpack pass.
func NeedsUnpack(f Format, out SampleType) bool {
	info, ok := infos[f]
	if !ok {
		return false
	}
	return info.Packed && out == SampleU16
}
