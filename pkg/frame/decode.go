package frame

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
)

// Decode interprets an unpacked application buffer as an image. Packed
// formats must go through Unpack first; Decode expects Mono10/12 data to
// already be little-endian uint16 samples.
func Decode(f Format, data []byte, width, height int) (image.Image, error) {
	switch f {
	case FormatMono8:
		return decodeGray(data, width, height)
	case FormatMono10Packed, FormatMono12Packed, FormatMono16:
		return decodeGray16(data, width, height)
	case FormatRGB8:
		return decodeRGB(data, width, height, false)
	case FormatBGR8:
		return decodeRGB(data, width, height, true)
	case FormatYUV422:
		return decodeYUV422(data, width, height)
	default:
		return nil, fmt.Errorf("%s is not a decodable pixel format", f)
	}
}

func decodeGray(data []byte, width, height int) (image.Image, error) {
	size := width * height
	if len(data) < size {
		return nil, fmt.Errorf("frame length (%d) less than expected (%d)", len(data), size)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	copy(img.Pix, data[:size])
	return img, nil
}

func decodeGray16(data []byte, width, height int) (image.Image, error) {
	size := 2 * width * height
	if len(data) < size {
		return nil, fmt.Errorf("frame length (%d) less than expected (%d)", len(data), size)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := 2 * (y*width + x)
			img.SetGray16(x, y, color.Gray16{Y: binary.LittleEndian.Uint16(data[idx : idx+2])})
		}
	}
	return img, nil
}

func decodeRGB(data []byte, width, height int, swapped bool) (image.Image, error) {
	size := 3 * width * height
	if len(data) < size {
		return nil, fmt.Errorf("frame length (%d) less than expected (%d)", len(data), size)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	si := 0
	for di := 0; di < len(img.Pix); di += 4 {
		r, g, b := data[si], data[si+1], data[si+2]
		if swapped {
			r, b = b, r
		}
		img.Pix[di] = r
		img.Pix[di+1] = g
		img.Pix[di+2] = b
		img.Pix[di+3] = 0xFF
		si += 3
	}
	return img, nil
}

func decodeYUV422(data []byte, width, height int) (image.Image, error) {
	yi := width * height
	ci := yi / 2
	size := yi + 2*ci
	if len(data) < size {
		return nil, fmt.Errorf("frame length (%d) less than expected (%d)", len(data), size)
	}

	y := make([]byte, yi)
	cb := make([]byte, ci)
	cr := make([]byte, ci)

	fast := 0
	slow := 0
	for i := 0; i < size; i += 4 {
		y[fast] = data[i]
		cb[slow] = data[i+1]
		y[fast+1] = data[i+2]
		cr[slow] = data[i+3]
		fast += 2
		slow++
	}

	return &image.YCbCr{
		Y:              y,
		YStride:        width,
		Cb:             cb,
		Cr:             cr,
		CStride:        width / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio422,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}
