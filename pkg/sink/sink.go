// Package sink defines the output side of the acquisition engine. The
// engine hands each finished image to a Sink exactly once and never touches
// it again; a Sink that needs the pixels past the Publish call owns them.
package sink

import (
	"errors"
	"image"
	"time"

	"github.com/gigekit/evtcam/pkg/frame"
)

// Image is one application-ready capture result.
type Image struct {
	// ID is unique per published image.
	ID string
	// Sequence starts at 1 for the first image of an acquisition.
	Sequence  uint64
	Timestamp time.Time

	Width     int
	Height    int
	Format    frame.Format
	ColorMode frame.ColorMode
	Sample    frame.SampleType

	// Data holds unpacked samples in the layout described by Format.
	Data []byte
}

// Decode renders the image pixels as a stdlib image.
func (im *Image) Decode() (image.Image, error) {
	return frame.Decode(im.Format, im.Data, im.Width, im.Height)
}

// Sink consumes published images.
type Sink interface {
	Publish(*Image) error
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(*Image) error

func (f FuncSink) Publish(im *Image) error {
	return f(im)
}

// ErrFull is returned by ChanSink when the channel is full and dropping is
// disabled.
var ErrFull = errors.New("sink channel is full")

// ChanSink delivers images on a channel. With DropOldest set, a full
// channel sheds its oldest entry instead of failing the publish.
type ChanSink struct {
	C          chan *Image
	DropOldest bool
}

func NewChanSink(depth int) *ChanSink {
	return &ChanSink{C: make(chan *Image, depth)}
}

func (s *ChanSink) Publish(im *Image) error {
	for {
		select {
		case s.C <- im:
			return nil
		default:
		}
		if !s.DropOldest {
			return ErrFull
		}
		select {
		case <-s.C:
		default:
		}
	}
}
