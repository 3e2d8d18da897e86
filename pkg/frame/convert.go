package frame

import (
	"encoding/binary"
	"fmt"
)

// UnpackMono10 expands GVSP Mono10Packed payload src into dst as
// little-endian uint16 samples. Two pixels occupy three source bytes:
//
//	b0 = p0 >> 2
//	b1 = (p1 & 0x3) << 4 | (p0 & 0x3)
//	b2 = p1 >> 2
func UnpackMono10(src, dst []byte, width, height int) error {
	return unpackPacked(src, dst, width, height, func(b0, b1, b2 byte) (uint16, uint16) {
		p0 := uint16(b0)<<2 | uint16(b1&0x03)
		p1 := uint16(b2)<<2 | uint16(b1>>4&0x03)
		return p0, p1
	})
}

// UnpackMono12 expands GVSP Mono12Packed payload src into dst as
// little-endian uint16 samples. Two pixels occupy three source bytes:
//
//	b0 = p0 >> 4
//	b1 = (p1 & 0xF) << 4 | (p0 & 0xF)
//	b2 = p1 >> 4
func UnpackMono12(src, dst []byte, width, height int) error {
	return unpackPacked(src, dst, width, height, func(b0, b1, b2 byte) (uint16, uint16) {
		p0 := uint16(b0)<<4 | uint16(b1&0x0F)
		p1 := uint16(b2)<<4 | uint16(b1>>4)
		return p0, p1
	})
}

func unpackPacked(src, dst []byte, width, height int, unpack func(b0, b1, b2 byte) (uint16, uint16)) error {
	pixels := width * height
	if pixels%2 != 0 {
		return fmt.Errorf("packed formats need an even pixel count, got %dx%d", width, height)
	}

	srcLen := pixels * 3 / 2
	if len(src) < srcLen {
		return fmt.Errorf("payload length (%d) less than expected (%d)", len(src), srcLen)
	}
	dstLen := pixels * 2
	if len(dst) < dstLen {
		return fmt.Errorf("output length (%d) less than expected (%d)", len(dst), dstLen)
	}

	si, di := 0, 0
	for i := 0; i < pixels; i += 2 {
		p0, p1 := unpack(src[si], src[si+1], src[si+2])
		binary.LittleEndian.PutUint16(dst[di:], p0)
		binary.LittleEndian.PutUint16(dst[di+2:], p1)
		si += 3
		di += 4
	}
	return nil
}

// SwapChannels rewrites BGR8 payload src into RGB8 order in dst. src and dst
// may alias.
func SwapChannels(src, dst []byte, width, height int) error {
	size := width * height * 3
	if len(src) < size {
		return fmt.Errorf("payload length (%d) less than expected (%d)", len(src), size)
	}
	if len(dst) < size {
		return fmt.Errorf("output length (%d) less than expected (%d)", len(dst), size)
	}

	for i := 0; i < size; i += 3 {
		b, g, r := src[i], src[i+1], src[i+2]
		dst[i], dst[i+1], dst[i+2] = r, g, b
	}
	return nil
}

// Unpack runs the conversion pass for f, writing unpacked samples to dst.
// Formats that do not need unpacking are rejected; callers should gate on
// NeedsUnpack first.
func Unpack(f Format, src, dst []byte, width, height int) error {
	switch f {
	case FormatMono10Packed:
		return UnpackMono10(src, dst, width, height)
	case FormatMono12Packed:
		return UnpackMono12(src, dst, width, height)
	default:
		return fmt.Errorf("%s does not use a packed layout", f)
	}
}
