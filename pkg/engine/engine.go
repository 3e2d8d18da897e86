// Package engine implements the camera acquisition engine: a connect /
// arm / capture / publish pipeline driven by a four-state machine, with a
// single producer goroutine per acquisition and a strict release-exactly-
// once discipline on device frame buffers.
package engine

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	pionlog "github.com/pion/logging"

	"github.com/gigekit/evtcam/internal/logging"
	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/frame"
	"github.com/gigekit/evtcam/pkg/sink"
	"github.com/gigekit/evtcam/pkg/store"
)

// DriverVersion is reported through the parameter store.
const DriverVersion = "1.2.0"

const (
	defaultWaitTimeout = 2 * time.Second
	defaultStopTimeout = 5 * time.Second
)

// Config carries construction-time settings. MaxBuffers, MaxMemory,
// ThreadPriority and ThreadStackSize come from the owning process and are
// forwarded, not interpreted; the Go runtime ignores the thread knobs.
type Config struct {
	// Driver is the device backend (evtsim, v4l2, real SDK binding).
	Driver evt.Driver
	// Serial identifies the device to connect to.
	Serial string
	// Sink receives every published image.
	Sink sink.Sink

	MaxBuffers      int
	MaxMemory       int64
	ThreadPriority  int
	ThreadStackSize int

	// WaitTimeout bounds each frame-ready wait so Stop can never hang on
	// a device that stops delivering.
	WaitTimeout time.Duration
	// StopTimeout bounds how long Stop waits for the capture loop to
	// confirm exit.
	StopTimeout time.Duration
}

// acqSettings is the acquisition configuration. It is only mutated while
// the engine is Idle, which is what makes the capture loop's lock-free
// snapshot read safe.
type acqSettings struct {
	Mode        ImageMode
	NumImages   int
	TriggerMode int

	Width   int
	Height  int
	OffsetX int
	OffsetY int

	ColorMode   frame.ColorMode
	FormatIndex int

	FrameRate  int
	BufferMode int
	BufferNum  int
	Gain       int
	ExposureUS int
	LUTEnable  bool
	AutoGain   bool
}

// Engine owns one device and at most one acquisition at a time.
type Engine struct {
	cfg    Config
	log    pionlog.LeveledLogger
	store  *store.Store
	sess   *session
	params *params

	mu    sync.Mutex
	state State
	acq   acqSettings
	done  chan struct{}

	// active is the current session's stop flag: the control goroutine
	// clears it to ask that session's capture loop to wind down, and the
	// loop polls it once per iteration. Each Start installs a fresh flag
	// and done channel, so a loop abandoned by a timed-out Stop can never
	// be revived by a later session's flags.
	active *atomic.Bool
	// running is set for the lifetime of the current session's capture
	// loop goroutine.
	running atomic.Bool

	captured  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// New builds an Engine. It does not touch the device; call Connect.
func New(cfg Config) (*Engine, error) {
	if cfg.Driver == nil {
		return nil, errors.New("engine: Config.Driver is required")
	}
	if cfg.Serial == "" {
		return nil, errors.New("engine: Config.Serial must not be empty")
	}
	if cfg.Sink == nil {
		return nil, errors.New("engine: Config.Sink is required")
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	log := logging.NewLogger("engine")
	e := &Engine{
		cfg:   cfg,
		log:   log,
		store: store.New(),
		state: StateIdle,
		acq: acqSettings{
			Mode:        ImageModeSingle,
			NumImages:   1,
			TriggerMode: TriggerFreeRun,
			ColorMode:   frame.ColorModeMono,
			FrameRate:   30,
			BufferNum:   4,
			ExposureUS:  10000,
		},
	}
	e.sess = newSession(cfg.Driver, log)
	e.params = newParams(e.sess, log)

	e.store.SetString(CtrlDriverVersion, DriverVersion)
	e.store.SetString(CtrlDetectorState, "disconnected")
	e.store.Flush()
	return e, nil
}

// Store exposes the parameter store the embedding framework subscribes to.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Descriptor returns the connected device description, or nil.
func (e *Engine) Descriptor() *DeviceDescriptor {
	return e.sess.Descriptor()
}

// Connect opens the configured device and publishes its identity.
func (e *Engine) Connect() error {
	desc, err := e.sess.Connect(e.cfg.Serial)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.acq.Width == 0 {
		e.acq.Width = desc.MaxWidth
	}
	if e.acq.Height == 0 {
		e.acq.Height = desc.MaxHeight
	}
	e.mu.Unlock()

	e.store.SetString(CtrlManufacturer, desc.Manufacturer)
	e.store.SetString(CtrlModel, desc.Model)
	e.store.SetString(CtrlSerialNumber, desc.Serial)
	e.store.SetString(CtrlFirmware, desc.Firmware)
	e.store.SetString(CtrlDetectorState, "idle")
	e.store.Flush()
	return nil
}

// Disconnect stops any running acquisition (best-effort) and releases the
// device handle. Disconnecting while disconnected returns ErrNotConnected
// and changes nothing.
func (e *Engine) Disconnect() error {
	if err := e.Stop(); err != nil && !errors.Is(err, ErrNotActive) {
		e.log.Warnf("stop before disconnect: %v", err)
	}
	if err := e.sess.Disconnect(); err != nil {
		return err
	}
	e.store.SetString(CtrlDetectorState, "disconnected")
	e.store.Flush()
	return nil
}

// Close shuts the engine down. It is the owner's ordinary shutdown call
// and is safe to run on an already-closed engine.
func (e *Engine) Close() error {
	err := e.Disconnect()
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Report writes a human-readable dump of the device and engine state,
// more verbose with higher details levels.
func (e *Engine) Report(w io.Writer, details int) {
	st := e.SnapshotStatus()
	fmt.Fprintf(w, "engine: state=%s connected=%v\n", st.State, st.Connected)

	if desc := e.sess.Descriptor(); desc != nil {
		fmt.Fprintf(w, "device: %s %s serial=%s firmware=%s\n",
			desc.Manufacturer, desc.Model, desc.Serial, desc.Firmware)
		if details > 0 {
			fmt.Fprintf(w, "  handle=%s ip=%s mac=%s max=%dx%d\n",
				desc.HandleID, desc.IP, desc.MAC, desc.MaxWidth, desc.MaxHeight)
		}
	}

	fmt.Fprintf(w, "counters: captured=%d published=%d dropped=%d\n",
		st.Captured, st.Published, st.Dropped)
	if st.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", st.LastError)
	}
	if details > 1 {
		e.mu.Lock()
		a := e.acq
		e.mu.Unlock()
		fmt.Fprintf(w, "acquisition: mode=%d num=%d roi=%dx%d+%d+%d color=%s index=%d\n",
			a.Mode, a.NumImages, a.Width, a.Height, a.OffsetX, a.OffsetY,
			a.ColorMode, a.FormatIndex)
	}
}
