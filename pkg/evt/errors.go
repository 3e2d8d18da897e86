package evt

import "errors"

// Error values backends translate their native status codes into. The
// engine normalizes these once more into its own taxonomy, so this is the
// only set of errors that crosses the SDK boundary.
var (
	ErrTimeout       = errors.New("wait for frame timed out")
	ErrBusy          = errors.New("device or resource busy")
	ErrClosed        = errors.New("device handle is closed")
	ErrNoStream      = errors.New("streaming channel is not open")
	ErrStreamOpen    = errors.New("streaming channel is already open")
	ErrUnknownParam  = errors.New("no such parameter")
	ErrBadValue      = errors.New("value rejected by device")
	ErrUnknownDevice = errors.New("no such device")
)
