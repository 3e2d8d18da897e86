// Package evt defines the device API surface of an EVT style GigE Vision
// camera: enumeration, typed parameter access with live range queries, a
// streaming channel, and the frame queue. Backends implement Driver and
// Camera; the acquisition engine is written against these interfaces only.
package evt

import (
	"time"

	"github.com/gigekit/evtcam/pkg/frame"
)

// Well-known GenICam parameter names understood by the backends.
const (
	ParamWidth       = "Width"
	ParamHeight      = "Height"
	ParamOffsetX     = "OffsetX"
	ParamOffsetY     = "OffsetY"
	ParamFrameRate   = "FrameRate"
	ParamGain        = "Gain"
	ParamExposure    = "Exposure"
	ParamPacketSize  = "GevSCPSPacketSize"
	ParamTriggerMode = "TriggerMode"
	ParamFrameCount  = "AcquisitionFrameCount"
	ParamBufferMode  = "BufferMode"
	ParamBufferNum   = "BufferNum"

	ParamAutoGain  = "AutoGain"
	ParamLUTEnable = "LUTEnable"

	// ParamPixelFormat is an enumerated parameter; its EnumRange is the
	// comma-delimited list of formats the device advertises.
	ParamPixelFormat = "PixelFormat"
)

// Commands accepted by Camera.Execute.
const (
	CommandAcquisitionStart = "AcquisitionStart"
	CommandAcquisitionStop  = "AcquisitionStop"
	CommandTriggerSoftware  = "TriggerSoftware"
)

// DeviceInfo is the static description of one enumerated device.
type DeviceInfo struct {
	Serial       string
	Model        string
	Manufacturer string
	Firmware     string
	IP           string
	MAC          string
	MaxWidth     int
	MaxHeight    int
}

// Range is the device-reported bound of an integer parameter.
type Range struct {
	Min int64
	Max int64
	Inc int64
}

// Frame is one device-owned capture buffer. A Frame handed out by
// AllocFrame must be released exactly once via ReleaseFrame, on every
// outcome of the capture iteration that allocated it.
type Frame struct {
	Width  int
	Height int
	Format frame.Format
	Data   []byte

	// Slot identifies the buffer inside the owning backend.
	Slot int
}

// Driver is the entry point of one backend.
type Driver interface {
	// List enumerates devices reachable by this backend.
	List() ([]DeviceInfo, error)
	// Open claims the device exclusively and returns a live handle.
	Open(info DeviceInfo) (Camera, error)
}

// Camera is an open device handle. Parameter calls are only safe while no
// acquisition is running; once streaming, all calls must come from the
// goroutine that runs the capture loop.
type Camera interface {
	Close() error

	IntRange(name string) (Range, error)
	SetInt(name string, value int64) error
	Int(name string) (int64, error)
	SetBool(name string, value bool) error
	Bool(name string) (bool, error)
	SetEnum(name, value string) error
	Enum(name string) (string, error)
	// EnumRange returns the comma-delimited set of values name accepts.
	EnumRange(name string) (string, error)

	OpenStream() error
	CloseStream() error

	AllocFrame(f *Frame) error
	QueueFrame(f *Frame) error
	// WaitFrame blocks until a queued frame is filled or timeout elapses
	// (ErrTimeout). A timeout of zero waits forever.
	WaitFrame(timeout time.Duration) (*Frame, error)
	ReleaseFrame(f *Frame) error

	Execute(command string) error

	// ConvertFrame runs the SDK conversion pass (bit-depth unpack or
	// channel reorder) from src into dst. dst.Data must be large enough
	// for src's output size.
	ConvertFrame(src, dst *Frame) error
}
