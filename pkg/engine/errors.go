package engine

import (
	"errors"
	"fmt"

	"github.com/gigekit/evtcam/pkg/evt"
)

// Kind buckets every failure the engine can report. Device status codes
// never leak past this package; they are translated here exactly once.
type Kind string

const (
	// KindConnection covers enumeration, device-not-found, open and
	// lost-connection failures.
	KindConnection Kind = "connection"
	// KindParameter covers range violations and device rejections.
	KindParameter Kind = "parameter"
	// KindFormat covers unsupported color/format combinations and
	// formats the device does not advertise.
	KindFormat Kind = "format"
	// KindStream covers streaming channel open/close failures.
	KindStream Kind = "stream"
	// KindCapture covers frame allocate/queue/wait/release failures.
	KindCapture Kind = "capture"
	// KindConversion covers bit-depth/layout conversion failures.
	KindConversion Kind = "conversion"
	// KindPublish covers output sink failures.
	KindPublish Kind = "publish"
)

// Error is the single error type the engine returns.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel conditions callers branch on with errors.Is.
var (
	ErrDeviceNotFound   = errors.New("no enumerated device matches the identifier")
	ErrNotConnected     = errors.New("not connected to a device")
	ErrAlreadyConnected = errors.New("already connected to a device")
	ErrAlreadyActive    = errors.New("acquisition is already active")
	ErrNotActive        = errors.New("acquisition is not active")
	// ErrTransitionBusy rejects a start/stop that overlaps an in-flight
	// start/stop. Overlapping requests are refused, never queued.
	ErrTransitionBusy = errors.New("a start/stop transition is in progress")
	ErrRange          = errors.New("value outside device-reported range")
)

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// translate maps an SDK error into the engine taxonomy under the given
// kind, preserving the sentinel for errors.Is checks.
func translate(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, evt.ErrClosed):
		return wrap(KindConnection, op, ErrNotConnected)
	case errors.Is(err, evt.ErrUnknownDevice):
		return wrap(KindConnection, op, ErrDeviceNotFound)
	}
	return wrap(kind, op, err)
}

// KindOf extracts the taxonomy bucket of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
