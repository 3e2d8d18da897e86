package sink

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
)

// PNGSink writes each published image to dir as a numbered PNG.
type PNGSink struct {
	Dir    string
	Prefix string
}

func NewPNGSink(dir string) *PNGSink {
	return &PNGSink{Dir: dir, Prefix: "frame"}
}

func (s *PNGSink) Publish(im *Image) error {
	img, err := im.Decode()
	if err != nil {
		return err
	}

	name := filepath.Join(s.Dir, fmt.Sprintf("%s-%06d.png", s.Prefix, im.Sequence))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	return png.Encode(f, img)
}
