//go:build linux

// Package v4l2 adapts a local V4L2 video device to the evt.Camera
// interface, so the acquisition engine can drive an ordinary webcam the
// same way it drives a GigE Vision camera. Packed 10/12-bit formats are
// not advertised because V4L2 webcams do not deliver them.
package v4l2

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/frame"
)

const devGlob = "/dev/video*"

// Driver enumerates local V4L2 devices.
type Driver struct{}

func New() *Driver {
	return &Driver{}
}

func (d *Driver) List() ([]evt.DeviceInfo, error) {
	paths, err := filepath.Glob(devGlob)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	infos := make([]evt.DeviceInfo, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		infos = append(infos, evt.DeviceInfo{
			Serial:       path,
			Model:        filepath.Base(path),
			Manufacturer: "v4l2",
		})
	}
	return infos, nil
}

func (d *Driver) Open(info evt.DeviceInfo) (evt.Camera, error) {
	cam, err := webcam.Open(info.Serial)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.Serial, err)
	}

	c := &camera{
		path:   info.Serial,
		cam:    cam,
		ints:   make(map[string]int64),
		ranges: make(map[string]evt.Range),
		live:   make(map[int]*evt.Frame),
	}
	c.probe()
	return c, nil
}

type camera struct {
	mu   sync.Mutex
	path string
	cam  *webcam.Webcam

	ints   map[string]int64
	ranges map[string]evt.Range
	format frame.Format

	streaming bool
	running   bool

	nextSlot int
	live     map[int]*evt.Frame
	pending  []*evt.Frame
}

// probe reads the supported format/size table and seeds the parameter
// shadow the engine reads ranges from.
func (c *camera) probe() {
	maxW, maxH := int64(0), int64(0)
	minW, minH := int64(1<<31), int64(1<<31)
	for pf := range c.cam.GetSupportedFormats() {
		ff, ok := formats[pf]
		if !ok {
			continue
		}
		if c.format == "" {
			c.format = ff
		}
		for _, size := range c.cam.GetSupportedFrameSizes(pf) {
			if int64(size.MaxWidth) > maxW {
				maxW = int64(size.MaxWidth)
			}
			if int64(size.MaxHeight) > maxH {
				maxH = int64(size.MaxHeight)
			}
			if int64(size.MinWidth) < minW {
				minW = int64(size.MinWidth)
			}
			if int64(size.MinHeight) < minH {
				minH = int64(size.MinHeight)
			}
		}
	}
	if maxW == 0 {
		minW, minH, maxW, maxH = 64, 4, 1920, 1080
	}

	c.ints[evt.ParamWidth] = maxW
	c.ints[evt.ParamHeight] = maxH
	c.ints[evt.ParamOffsetX] = 0
	c.ints[evt.ParamOffsetY] = 0
	c.ints[evt.ParamFrameRate] = 30
	c.ints[evt.ParamTriggerMode] = 0
	c.ints[evt.ParamFrameCount] = 1
	c.ints[evt.ParamBufferMode] = 0
	c.ints[evt.ParamBufferNum] = 4
	c.ints[evt.ParamPacketSize] = 1500

	c.ranges[evt.ParamWidth] = evt.Range{Min: minW, Max: maxW, Inc: 2}
	c.ranges[evt.ParamHeight] = evt.Range{Min: minH, Max: maxH, Inc: 2}
	c.ranges[evt.ParamOffsetX] = evt.Range{Min: 0, Max: 0, Inc: 1}
	c.ranges[evt.ParamOffsetY] = evt.Range{Min: 0, Max: 0, Inc: 1}
	c.ranges[evt.ParamFrameRate] = evt.Range{Min: 1, Max: 120, Inc: 1}
	c.ranges[evt.ParamTriggerMode] = evt.Range{Min: 0, Max: 0, Inc: 1}
	c.ranges[evt.ParamFrameCount] = evt.Range{Min: 1, Max: 65535, Inc: 1}
	c.ranges[evt.ParamBufferMode] = evt.Range{Min: 0, Max: 1, Inc: 1}
	c.ranges[evt.ParamBufferNum] = evt.Range{Min: 1, Max: 64, Inc: 1}
	c.ranges[evt.ParamPacketSize] = evt.Range{Min: 576, Max: 9000, Inc: 2}

	for id, ctrl := range c.cam.GetControls() {
		var name string
		switch id {
		case ctrlGain:
			name = evt.ParamGain
		case ctrlExposure:
			name = evt.ParamExposure
		default:
			continue
		}
		c.ranges[name] = evt.Range{Min: int64(ctrl.Min), Max: int64(ctrl.Max), Inc: 1}
		if v, err := c.cam.GetControl(id); err == nil {
			c.ints[name] = int64(v)
		}
	}
}

func (c *camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cam == nil {
		return evt.ErrClosed
	}
	if c.running {
		c.cam.StopStreaming()
	}
	err := c.cam.Close()
	c.cam = nil
	return err
}

func (c *camera) IntRange(name string) (evt.Range, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.ranges[name]
	if !ok {
		return evt.Range{}, evt.ErrUnknownParam
	}
	return r, nil
}

func (c *camera) SetInt(name string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.ranges[name]
	if !ok {
		return evt.ErrUnknownParam
	}
	if value < r.Min || value > r.Max {
		return evt.ErrBadValue
	}

	switch name {
	case evt.ParamGain:
		if err := c.cam.SetControl(ctrlGain, int32(value)); err != nil {
			return err
		}
	case evt.ParamExposure:
		if err := c.cam.SetControl(ctrlExposure, int32(value)); err != nil {
			return err
		}
	case evt.ParamFrameRate:
		if err := c.cam.SetFramerate(float32(value)); err != nil {
			return err
		}
	}
	c.ints[name] = value
	return nil
}

func (c *camera) Int(name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.ints[name]
	if !ok {
		return 0, evt.ErrUnknownParam
	}
	return v, nil
}

// V4L2 exposes no plain boolean camera features the engine cares about, so
// AutoGain and LUTEnable are local toggles.
func (c *camera) SetBool(name string, value bool) error {
	switch name {
	case evt.ParamAutoGain, evt.ParamLUTEnable:
		return nil
	}
	return evt.ErrUnknownParam
}

func (c *camera) Bool(name string) (bool, error) {
	switch name {
	case evt.ParamAutoGain, evt.ParamLUTEnable:
		return false, nil
	}
	return false, evt.ErrUnknownParam
}

func (c *camera) SetEnum(name, value string) error {
	if name != evt.ParamPixelFormat {
		return evt.ErrUnknownParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := reversedFormats[frame.Format(value)]; !ok {
		return evt.ErrBadValue
	}
	c.format = frame.Format(value)
	return nil
}

func (c *camera) Enum(name string) (string, error) {
	if name != evt.ParamPixelFormat {
		return "", evt.ErrUnknownParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.format), nil
}

func (c *camera) EnumRange(name string) (string, error) {
	if name != evt.ParamPixelFormat {
		return "", evt.ErrUnknownParam
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(formats))
	for pf := range c.cam.GetSupportedFormats() {
		if ff, ok := formats[pf]; ok {
			names = append(names, string(ff))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ","), nil
}

func (c *camera) OpenStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return evt.ErrStreamOpen
	}

	pf, ok := reversedFormats[c.format]
	if !ok {
		return evt.ErrBadValue
	}
	w := uint32(c.ints[evt.ParamWidth])
	h := uint32(c.ints[evt.ParamHeight])
	_, gotW, gotH, err := c.cam.SetImageFormat(pf, w, h)
	if err != nil {
		return err
	}
	c.ints[evt.ParamWidth] = int64(gotW)
	c.ints[evt.ParamHeight] = int64(gotH)
	c.streaming = true
	return nil
}

func (c *camera) CloseStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return evt.ErrNoStream
	}
	c.streaming = false
	c.pending = nil
	return nil
}

func (c *camera) AllocFrame(f *evt.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := f.Format.PayloadSize(f.Width, f.Height)
	if size == 0 {
		return evt.ErrBadValue
	}
	c.nextSlot++
	f.Slot = c.nextSlot
	f.Data = make([]byte, size)
	c.live[f.Slot] = f
	return nil
}

func (c *camera) QueueFrame(f *evt.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return evt.ErrNoStream
	}
	if _, ok := c.live[f.Slot]; !ok {
		return evt.ErrBadValue
	}
	c.pending = append(c.pending, f)
	return nil
}

func (c *camera) WaitFrame(timeout time.Duration) (*evt.Frame, error) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil, evt.ErrNoStream
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	cam := c.cam
	c.mu.Unlock()

	seconds := uint32(timeout / time.Second)
	if seconds == 0 {
		seconds = 1
	}

	for {
		err := cam.WaitForFrame(seconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			return nil, evt.ErrTimeout
		default:
			return nil, err
		}

		b, err := cam.ReadFrame()
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			continue
		}

		// Copy out of the mmap'd buffer before it is requeued.
		n := copy(f.Data, b)
		f.Data = f.Data[:n]
		return f, nil
	}
}

func (c *camera) ReleaseFrame(f *evt.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live[f.Slot]; !ok {
		return fmt.Errorf("frame slot %d released twice", f.Slot)
	}
	delete(c.live, f.Slot)
	f.Data = nil
	return nil
}

func (c *camera) Execute(command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch command {
	case evt.CommandAcquisitionStart:
		if !c.streaming {
			return evt.ErrNoStream
		}
		if c.running {
			return nil
		}
		if err := c.cam.StartStreaming(); err != nil {
			return err
		}
		c.running = true
		return nil
	case evt.CommandAcquisitionStop:
		if !c.running {
			return nil
		}
		c.running = false
		return c.cam.StopStreaming()
	case evt.CommandTriggerSoftware:
		// Free-running capture only; the next frame serves as the
		// trigger response.
		return nil
	}
	return evt.ErrUnknownParam
}

func (c *camera) ConvertFrame(src, dst *evt.Frame) error {
	switch src.Format {
	case frame.FormatBGR8:
		return frame.SwapChannels(src.Data, dst.Data, src.Width, src.Height)
	default:
		return evt.ErrBadValue
	}
}
