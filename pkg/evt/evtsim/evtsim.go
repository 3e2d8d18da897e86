// Package evtsim provides a simulated EVT camera backend for testing and
// development. The simulator keeps a strict ledger of frame buffer
// allocations and releases so tests can prove that no capture path leaks
// or double-releases a buffer, and it can inject one-shot failures into any
// device call.
package evtsim

import (
	"fmt"
	"sync"
	"time"

	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/frame"
)

// Operation names accepted by Camera.FailNext.
const (
	OpOpenStream   = "OpenStream"
	OpCloseStream  = "CloseStream"
	OpAllocFrame   = "AllocFrame"
	OpQueueFrame   = "QueueFrame"
	OpWaitFrame    = "WaitFrame"
	OpReleaseFrame = "ReleaseFrame"
	OpConvertFrame = "ConvertFrame"
	OpExecute      = "Execute"
)

const queueDepth = 64

// DefaultDevice is the device the zero-configuration simulator enumerates.
func DefaultDevice() evt.DeviceInfo {
	return evt.DeviceInfo{
		Serial:       "EVT-SIM-0001",
		Model:        "HS-2000M",
		Manufacturer: "Emergent Vision (simulated)",
		Firmware:     "3.14.2",
		IP:           "192.168.1.80",
		MAC:          "00:11:1c:f0:00:01",
		MaxWidth:     2048,
		MaxHeight:    1088,
	}
}

// Driver is a simulated backend holding a fixed device table.
type Driver struct {
	mu      sync.Mutex
	devices []evt.DeviceInfo
	opened  map[string]*Camera
	listErr error
}

// New returns a Driver enumerating the given devices, or DefaultDevice
// when none are given.
func New(devices ...evt.DeviceInfo) *Driver {
	if len(devices) == 0 {
		devices = []evt.DeviceInfo{DefaultDevice()}
	}
	return &Driver{
		devices: devices,
		opened:  make(map[string]*Camera),
	}
}

// SetListError makes every subsequent List call fail with err. Pass nil to
// restore normal enumeration.
func (d *Driver) SetListError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listErr = err
}

func (d *Driver) List() ([]evt.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]evt.DeviceInfo, len(d.devices))
	copy(out, d.devices)
	return out, nil
}

func (d *Driver) Open(info evt.DeviceInfo) (evt.Camera, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var found bool
	for _, dev := range d.devices {
		if dev.Serial == info.Serial {
			found = true
			break
		}
	}
	if !found {
		return nil, evt.ErrUnknownDevice
	}
	if _, busy := d.opened[info.Serial]; busy {
		return nil, evt.ErrBusy
	}

	cam := newCamera(d, info)
	d.opened[info.Serial] = cam
	return cam, nil
}

// Camera returns the live simulated handle for serial, or nil if the
// device is not open. Tests use it to reach the ledger and the failure
// injection hooks behind the evt.Camera interface.
func (d *Driver) Camera(serial string) *Camera {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[serial]
}

func (d *Driver) release(serial string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.opened, serial)
}

// Camera is one simulated device handle.
type Camera struct {
	mu     sync.Mutex
	drv    *Driver
	info   evt.DeviceInfo
	closed bool

	ints       map[string]int64
	ranges     map[string]evt.Range
	bools      map[string]bool
	enums      map[string]string
	enumRanges map[string]string

	streaming bool
	acquiring bool
	queue     chan *evt.Frame
	nextSlot  int
	live      map[int]bool
	phase     byte

	allocs         int
	releases       int
	doubleReleases int

	failures map[string][]error

	// FrameDelay, when set, delays every WaitFrame delivery to mimic the
	// device's frame period.
	FrameDelay time.Duration
}

func newCamera(drv *Driver, info evt.DeviceInfo) *Camera {
	c := &Camera{
		drv:  drv,
		info: info,
		ints: map[string]int64{
			evt.ParamWidth:       int64(info.MaxWidth),
			evt.ParamHeight:      int64(info.MaxHeight),
			evt.ParamOffsetX:     0,
			evt.ParamOffsetY:     0,
			evt.ParamFrameRate:   30,
			evt.ParamGain:        0,
			evt.ParamExposure:    10000,
			evt.ParamPacketSize:  9000,
			evt.ParamTriggerMode: 0,
			evt.ParamFrameCount:  1,
			evt.ParamBufferMode:  0,
			evt.ParamBufferNum:   4,
		},
		ranges: map[string]evt.Range{
			evt.ParamWidth:       {Min: 64, Max: int64(info.MaxWidth), Inc: 4},
			evt.ParamHeight:      {Min: 4, Max: int64(info.MaxHeight), Inc: 2},
			evt.ParamOffsetX:     {Min: 0, Max: int64(info.MaxWidth) - 64, Inc: 4},
			evt.ParamOffsetY:     {Min: 0, Max: int64(info.MaxHeight) - 4, Inc: 2},
			evt.ParamFrameRate:   {Min: 1, Max: 120, Inc: 1},
			evt.ParamGain:        {Min: 0, Max: 480, Inc: 1},
			evt.ParamExposure:    {Min: 10, Max: 1000000, Inc: 1},
			evt.ParamPacketSize:  {Min: 576, Max: 9000, Inc: 2},
			evt.ParamTriggerMode: {Min: 0, Max: 1, Inc: 1},
			evt.ParamFrameCount:  {Min: 1, Max: 65535, Inc: 1},
			evt.ParamBufferMode:  {Min: 0, Max: 1, Inc: 1},
			evt.ParamBufferNum:   {Min: 1, Max: 64, Inc: 1},
		},
		bools: map[string]bool{
			evt.ParamAutoGain:  false,
			evt.ParamLUTEnable: false,
		},
		enums: map[string]string{
			evt.ParamPixelFormat: string(frame.FormatMono8),
		},
		enumRanges: map[string]string{
			evt.ParamPixelFormat: "Mono8,Mono10Packed,Mono12Packed,Mono16,RGB8",
		},
		queue:    make(chan *evt.Frame, queueDepth),
		live:     make(map[int]bool),
		failures: make(map[string][]error),
	}
	return c
}

// SetAdvertisedFormats overrides the PixelFormat enum range.
func (c *Camera) SetAdvertisedFormats(list string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enumRanges[evt.ParamPixelFormat] = list
}

// FailNext queues err to be returned by the next call to op. Repeated
// calls stack, one failure per call.
func (c *Camera) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], err)
}

func (c *Camera) takeFailure(op string) error {
	queued := c.failures[op]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	c.failures[op] = queued[1:]
	return err
}

// Ledger accessors.

func (c *Camera) Allocated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocs
}

func (c *Camera) Released() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releases
}

func (c *Camera) DoubleReleased() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doubleReleases
}

// Outstanding is the number of allocated frames not yet released.
func (c *Camera) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocs - c.releases
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.ErrClosed
	}
	c.closed = true
	c.streaming = false
	c.acquiring = false
	c.drv.release(c.info.Serial)
	return nil
}

func (c *Camera) IntRange(name string) (evt.Range, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.Range{}, evt.ErrClosed
	}
	r, ok := c.ranges[name]
	if !ok {
		return evt.Range{}, evt.ErrUnknownParam
	}
	return r, nil
}

func (c *Camera) SetInt(name string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.ErrClosed
	}
	r, ok := c.ranges[name]
	if !ok {
		return evt.ErrUnknownParam
	}
	if value < r.Min || value > r.Max {
		return evt.ErrBadValue
	}
	c.ints[name] = value
	return nil
}

func (c *Camera) Int(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, evt.ErrClosed
	}
	v, ok := c.ints[name]
	if !ok {
		return 0, evt.ErrUnknownParam
	}
	return v, nil
}

func (c *Camera) SetBool(name string, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.ErrClosed
	}
	if _, ok := c.bools[name]; !ok {
		return evt.ErrUnknownParam
	}
	c.bools[name] = value
	return nil
}

func (c *Camera) Bool(name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, evt.ErrClosed
	}
	v, ok := c.bools[name]
	if !ok {
		return false, evt.ErrUnknownParam
	}
	return v, nil
}

func (c *Camera) SetEnum(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.ErrClosed
	}
	if _, ok := c.enums[name]; !ok {
		return evt.ErrUnknownParam
	}
	c.enums[name] = value
	return nil
}

func (c *Camera) Enum(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", evt.ErrClosed
	}
	v, ok := c.enums[name]
	if !ok {
		return "", evt.ErrUnknownParam
	}
	return v, nil
}

func (c *Camera) EnumRange(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", evt.ErrClosed
	}
	v, ok := c.enumRanges[name]
	if !ok {
		return "", evt.ErrUnknownParam
	}
	return v, nil
}

func (c *Camera) OpenStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.ErrClosed
	}
	if err := c.takeFailure(OpOpenStream); err != nil {
		return err
	}
	if c.streaming {
		return evt.ErrStreamOpen
	}
	c.streaming = true
	return nil
}

func (c *Camera) CloseStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpCloseStream); err != nil {
		return err
	}
	if !c.streaming {
		return evt.ErrNoStream
	}
	c.streaming = false
	// Drop anything still queued; the frames stay live until released.
	for {
		select {
		case <-c.queue:
		default:
			return nil
		}
	}
}

func (c *Camera) AllocFrame(f *evt.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.ErrClosed
	}
	if err := c.takeFailure(OpAllocFrame); err != nil {
		return err
	}
	size := f.Format.PayloadSize(f.Width, f.Height)
	if size == 0 {
		return evt.ErrBadValue
	}
	c.nextSlot++
	f.Slot = c.nextSlot
	f.Data = make([]byte, size)
	c.live[f.Slot] = true
	c.allocs++
	return nil
}

func (c *Camera) QueueFrame(f *evt.Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return evt.ErrClosed
	}
	if err := c.takeFailure(OpQueueFrame); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.streaming {
		c.mu.Unlock()
		return evt.ErrNoStream
	}
	if !c.live[f.Slot] {
		c.mu.Unlock()
		return evt.ErrBadValue
	}
	c.mu.Unlock()

	select {
	case c.queue <- f:
		return nil
	default:
		return evt.ErrBusy
	}
}

func (c *Camera) WaitFrame(timeout time.Duration) (*evt.Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, evt.ErrClosed
	}
	if err := c.takeFailure(OpWaitFrame); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	delay := c.FrameDelay
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	deadline := time.After(timeout)
	for {
		var f *evt.Frame
		if timeout <= 0 {
			f = <-c.queue
		} else {
			select {
			case f = <-c.queue:
			case <-deadline:
				return nil, evt.ErrTimeout
			}
		}

		c.mu.Lock()
		if !c.live[f.Slot] {
			// Stale entry from an iteration that already released its
			// buffer; skip it.
			c.mu.Unlock()
			continue
		}
		c.fill(f)
		c.mu.Unlock()
		return f, nil
	}
}

func (c *Camera) ReleaseFrame(f *evt.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpReleaseFrame); err != nil {
		return err
	}
	if !c.live[f.Slot] {
		c.doubleReleases++
		return fmt.Errorf("frame slot %d released twice", f.Slot)
	}
	delete(c.live, f.Slot)
	c.releases++
	f.Data = nil
	return nil
}

func (c *Camera) Execute(command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return evt.ErrClosed
	}
	if err := c.takeFailure(OpExecute); err != nil {
		return err
	}
	switch command {
	case evt.CommandAcquisitionStart:
		c.acquiring = true
	case evt.CommandAcquisitionStop:
		c.acquiring = false
	case evt.CommandTriggerSoftware:
		// Frames are generated on demand, so a trigger is a no-op here.
	default:
		return evt.ErrUnknownParam
	}
	return nil
}

func (c *Camera) ConvertFrame(src, dst *evt.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeFailure(OpConvertFrame); err != nil {
		return err
	}
	switch src.Format {
	case frame.FormatMono10Packed, frame.FormatMono12Packed:
		return frame.Unpack(src.Format, src.Data, dst.Data, src.Width, src.Height)
	case frame.FormatBGR8:
		return frame.SwapChannels(src.Data, dst.Data, src.Width, src.Height)
	default:
		return evt.ErrBadValue
	}
}

// fill paints a moving diagonal ramp so successive frames differ. Packed
// formats get valid packed bytes because any byte pattern is decodable.
func (c *Camera) fill(f *evt.Frame) {
	c.phase += 7
	for i := range f.Data {
		f.Data[i] = byte(i)&0x3F + c.phase
	}
}
