package engine

import (
	"sync/atomic"
	"time"

	"github.com/gigekit/evtcam/pkg/evt"
)

var noop = func() error { return nil }

// Start arms the device and launches the capture loop. Any failure while
// arming rolls the state back to Idle and leaves no partial device state
// behind. Start and Stop never overlap; a request that lands during an
// in-flight transition is rejected, not queued.
func (e *Engine) Start() error {
	e.mu.Lock()

	switch e.state {
	case StateStarting, StateStopping:
		e.mu.Unlock()
		return wrap(KindCapture, "start", ErrTransitionBusy)
	case StateAcquiring:
		e.mu.Unlock()
		return wrap(KindCapture, "start", ErrAlreadyActive)
	}
	cam := e.sess.Camera()
	if cam == nil {
		e.mu.Unlock()
		return wrap(KindConnection, "start", ErrNotConnected)
	}

	if err := e.state.Update(StateStarting, noop); err != nil {
		e.mu.Unlock()
		return wrap(KindCapture, "start", err)
	}

	cfg, err := e.arm(cam)
	if err != nil {
		// Rollback: Starting -> Idle, nothing armed remains.
		e.state.Update(StateIdle, noop)
		e.mu.Unlock()
		e.setLastError(err)
		return err
	}

	done := make(chan struct{})
	active := new(atomic.Bool)
	active.Store(true)
	e.done = done
	e.active = active
	e.running.Store(true)
	e.captured.Store(0)
	e.published.Store(0)
	e.dropped.Store(0)
	e.clearLastError()

	e.state.Update(StateAcquiring, noop)
	go e.captureLoop(cam, cfg, active, done)

	// Store writes happen under the lock so a fast loop exit cannot
	// reorder its idle readback ahead of these.
	e.store.SetInt(CtrlAcquire, 1)
	e.store.SetString(CtrlDetectorState, "acquiring")
	e.mu.Unlock()

	e.store.Flush()
	return nil
}

// arm applies the acquisition defaults, negotiates the pixel format and
// opens the streaming channel. Called with e.mu held and state Starting.
// On error every partially armed resource has been torn down again.
func (e *Engine) arm(cam evt.Camera) (loopSettings, error) {
	a := e.acq

	format, err := ResolveFormat(a.ColorMode, a.FormatIndex)
	if err != nil {
		return loopSettings{}, err
	}
	if err := e.validateFormat(format); err != nil {
		return loopSettings{}, err
	}

	type intWrite struct {
		name  string
		value int64
	}
	writes := []intWrite{
		{evt.ParamTriggerMode, int64(a.TriggerMode)},
		{evt.ParamBufferMode, int64(a.BufferMode)},
		{evt.ParamBufferNum, int64(a.BufferNum)},
		{evt.ParamFrameCount, int64(frameCount(a))},
		{evt.ParamWidth, int64(a.Width)},
		{evt.ParamHeight, int64(a.Height)},
		{evt.ParamOffsetX, int64(a.OffsetX)},
		{evt.ParamOffsetY, int64(a.OffsetY)},
		{evt.ParamFrameRate, int64(a.FrameRate)},
	}
	for _, w := range writes {
		if err := e.params.SetInt(w.name, w.value); err != nil {
			return loopSettings{}, err
		}
	}
	if err := e.params.SetBool(evt.ParamLUTEnable, a.LUTEnable); err != nil {
		return loopSettings{}, err
	}
	if err := e.params.SetBool(evt.ParamAutoGain, a.AutoGain); err != nil {
		return loopSettings{}, err
	}

	if err := cam.SetEnum(evt.ParamPixelFormat, string(format)); err != nil {
		return loopSettings{}, translate(KindFormat, "select pixel format", err)
	}

	if err := cam.OpenStream(); err != nil {
		return loopSettings{}, translate(KindStream, "open stream", err)
	}
	if err := cam.Execute(evt.CommandAcquisitionStart); err != nil {
		if cerr := cam.CloseStream(); cerr != nil {
			e.log.Warnf("close stream during rollback: %v", cerr)
		}
		return loopSettings{}, translate(KindCapture, "acquisition start", err)
	}

	return loopSettings{
		mode:        a.Mode,
		count:       uint64(frameCount(a)),
		width:       a.Width,
		height:      a.Height,
		colorMode:   a.ColorMode,
		formatIndex: a.FormatIndex,
		software:    a.TriggerMode == TriggerSoftware,
		waitTimeout: e.cfg.WaitTimeout,
	}, nil
}

func frameCount(a acqSettings) int {
	if a.Mode == ImageModeMultiple && a.NumImages > 0 {
		return a.NumImages
	}
	return 1
}

// Stop asks the capture loop to wind down, waits for its exit handshake
// within a bound, then closes the stream. Teardown failures are logged,
// never fatal: the engine always returns to Idle.
func (e *Engine) Stop() error {
	e.mu.Lock()

	switch e.state {
	case StateIdle:
		e.mu.Unlock()
		return wrap(KindCapture, "stop", ErrNotActive)
	case StateStarting, StateStopping:
		e.mu.Unlock()
		return wrap(KindCapture, "stop", ErrTransitionBusy)
	}

	e.state.Update(StateStopping, noop)
	done := e.done
	active := e.active
	cam := e.sess.Camera()
	e.mu.Unlock()

	active.Store(false)

	select {
	case <-done:
	case <-time.After(e.cfg.StopTimeout):
		e.log.Errorf("capture loop did not confirm exit within %v", e.cfg.StopTimeout)
	}

	e.teardown(cam)

	e.mu.Lock()
	e.state.Update(StateIdle, noop)
	e.store.SetInt(CtrlAcquire, 0)
	e.store.SetString(CtrlDetectorState, "idle")
	e.mu.Unlock()

	e.store.Flush()
	return nil
}

// teardown issues the best-effort device stop sequence.
func (e *Engine) teardown(cam evt.Camera) {
	if cam == nil {
		return
	}
	if err := cam.Execute(evt.CommandAcquisitionStop); err != nil {
		e.log.Warnf("acquisition stop: %v", err)
	}
	if err := cam.CloseStream(); err != nil {
		e.log.Warnf("close stream: %v", err)
	}
}
