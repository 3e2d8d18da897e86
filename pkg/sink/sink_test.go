package sink

import (
	"errors"
	"testing"

	"github.com/gigekit/evtcam/pkg/frame"
)

func testImage(seq uint64) *Image {
	return &Image{
		ID:       "test",
		Sequence: seq,
		Width:    4,
		Height:   2,
		Format:   frame.FormatMono8,
		Data:     make([]byte, 8),
	}
}

func TestChanSinkDelivers(t *testing.T) {
	s := NewChanSink(2)
	if err := s.Publish(testImage(1)); err != nil {
		t.Fatal(err)
	}
	got := <-s.C
	if got.Sequence != 1 {
		t.Fatalf("sequence %d, want 1", got.Sequence)
	}
}

func TestChanSinkFull(t *testing.T) {
	s := NewChanSink(1)
	if err := s.Publish(testImage(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Publish(testImage(2)); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestChanSinkDropOldest(t *testing.T) {
	s := NewChanSink(1)
	s.DropOldest = true
	for seq := uint64(1); seq <= 3; seq++ {
		if err := s.Publish(testImage(seq)); err != nil {
			t.Fatal(err)
		}
	}
	got := <-s.C
	if got.Sequence != 3 {
		t.Fatalf("sequence %d, want the newest (3)", got.Sequence)
	}
}

func TestFuncSink(t *testing.T) {
	var got *Image
	s := FuncSink(func(im *Image) error {
		got = im
		return nil
	})
	if err := s.Publish(testImage(7)); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Sequence != 7 {
		t.Fatalf("image not forwarded: %+v", got)
	}
}

func TestImageDecode(t *testing.T) {
	im := testImage(1)
	decoded, err := im.Decode()
	if err != nil {
		t.Fatal(err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 2 {
		t.Fatalf("decoded bounds %v", bounds)
	}
}
