package engine

import (
	"fmt"

	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/frame"
)

// WriteInt is the integer entry point of the control surface the
// embedding framework drives. CtrlAcquire toggles acquisition; every
// other name is only writable while Idle, which is the gate that keeps
// control-thread device calls away from the producer thread.
func (e *Engine) WriteInt(name string, value int64) error {
	if name == CtrlAcquire {
		if value != 0 {
			return e.Start()
		}
		return e.Stop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return wrap(KindParameter, "write "+name, ErrAlreadyActive)
	}

	var err error
	switch name {
	case CtrlImageMode:
		if value < int64(ImageModeSingle) || value > int64(ImageModeContinuous) {
			err = wrap(KindParameter, "write "+name, fmt.Errorf("unknown image mode %d", value))
			break
		}
		e.acq.Mode = ImageMode(value)

	case CtrlNumImages:
		if value < 1 {
			err = wrap(KindParameter, "write "+name, fmt.Errorf("image count %d < 1", value))
			break
		}
		e.acq.NumImages = int(value)

	case CtrlTriggerMode:
		if value != TriggerFreeRun && value != TriggerSoftware {
			err = wrap(KindParameter, "write "+name, fmt.Errorf("unknown trigger mode %d", value))
			break
		}
		e.acq.TriggerMode = int(value)

	case CtrlSizeX:
		e.acq.Width = int(value)
	case CtrlSizeY:
		e.acq.Height = int(value)

	case CtrlMinX, CtrlOffsetX:
		if err = e.params.SetInt(evt.ParamOffsetX, value); err == nil {
			e.acq.OffsetX = int(value)
		}
	case CtrlMinY, CtrlOffsetY:
		if err = e.params.SetInt(evt.ParamOffsetY, value); err == nil {
			e.acq.OffsetY = int(value)
		}

	case CtrlColorMode:
		switch value {
		case 0:
			e.acq.ColorMode = frame.ColorModeMono
		case 1:
			e.acq.ColorMode = frame.ColorModeRGB
		default:
			err = wrap(KindParameter, "write "+name, fmt.Errorf("unknown color mode %d", value))
		}

	case CtrlPixelFormat:
		// Reject selections that can never resolve, so a bad index is
		// caught at write time rather than at start.
		if _, rerr := ResolveFormat(e.acq.ColorMode, int(value)); rerr != nil {
			err = rerr
			break
		}
		e.acq.FormatIndex = int(value)

	case CtrlFramerate:
		if err = e.params.SetInt(evt.ParamFrameRate, value); err == nil {
			e.acq.FrameRate = int(value)
		}

	case CtrlBufferMode:
		if err = e.params.SetInt(evt.ParamBufferMode, value); err == nil {
			e.acq.BufferMode = int(value)
		}
	case CtrlBufferNum:
		if err = e.params.SetInt(evt.ParamBufferNum, value); err == nil {
			e.acq.BufferNum = int(value)
		}
	case CtrlPacketSize:
		err = e.params.SetInt(evt.ParamPacketSize, value)

	case CtrlLUTEnable:
		if err = e.params.SetBool(evt.ParamLUTEnable, value != 0); err == nil {
			e.acq.LUTEnable = value != 0
		}
	case CtrlAutoGain:
		if err = e.params.SetBool(evt.ParamAutoGain, value != 0); err == nil {
			e.acq.AutoGain = value != 0
		}

	default:
		err = wrap(KindParameter, "write "+name, fmt.Errorf("unknown parameter"))
	}

	if err != nil {
		return err
	}
	e.store.SetInt(name, value)
	e.store.Flush()
	return nil
}

// WriteFloat handles the float-typed controls: gain in device units and
// exposure in seconds.
func (e *Engine) WriteFloat(name string, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return wrap(KindParameter, "write "+name, ErrAlreadyActive)
	}

	var err error
	switch name {
	case CtrlGain:
		if err = e.params.SetInt(evt.ParamGain, int64(value)); err == nil {
			e.acq.Gain = int(value)
		}
	case CtrlAcquireTime:
		us := int64(value * 1e6)
		if err = e.params.SetInt(evt.ParamExposure, us); err == nil {
			e.acq.ExposureUS = int(us)
		}
	default:
		err = wrap(KindParameter, "write "+name, fmt.Errorf("unknown parameter"))
	}

	if err != nil {
		return err
	}
	e.store.SetFloat(name, value)
	e.store.Flush()
	return nil
}
