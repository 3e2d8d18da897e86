//go:build linux

package v4l2

import (
	"github.com/blackjack/webcam"

	"github.com/gigekit/evtcam/pkg/frame"
)

func fourcc(a, b, c, d byte) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// V4L2 pixel format codes, declared here to avoid a cgo dependency on
// <linux/videodev2.h>.
var (
	pixFmtGrey  = fourcc('G', 'R', 'E', 'Y')
	pixFmtY16   = fourcc('Y', '1', '6', ' ')
	pixFmtYUYV  = fourcc('Y', 'U', 'Y', 'V')
	pixFmtRGB24 = fourcc('R', 'G', 'B', '3')
	pixFmtBGR24 = fourcc('B', 'G', 'R', '3')
)

var formats = map[webcam.PixelFormat]frame.Format{
	pixFmtGrey:  frame.FormatMono8,
	pixFmtY16:   frame.FormatMono16,
	pixFmtYUYV:  frame.FormatYUV422,
	pixFmtRGB24: frame.FormatRGB8,
	pixFmtBGR24: frame.FormatBGR8,
}

var reversedFormats = map[frame.Format]webcam.PixelFormat{}

func init() {
	for k, v := range formats {
		reversedFormats[v] = k
	}
}

// V4L2 control IDs for the handful of controls the engine exposes.
const (
	ctrlGain     = 0x00980913
	ctrlExposure = 0x00980911
)
