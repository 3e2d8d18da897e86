package engine

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/frame"
	"github.com/gigekit/evtcam/pkg/sink"
)

// loopSettings is the capture loop's private snapshot of the acquisition
// configuration. The loop never reads engine.acq directly; the settings
// are frozen at start and acq is only mutable while Idle.
type loopSettings struct {
	mode        ImageMode
	count       uint64
	width       int
	height      int
	colorMode   frame.ColorMode
	formatIndex int
	software    bool
	waitTimeout time.Duration
}

// captureLoop is the producer goroutine. Exactly one exists per
// acquisition. It owns all device calls until it exits. active and done
// belong to this session only; after a timed-out Stop abandons the loop,
// a later session's flags must never reach it.
func (e *Engine) captureLoop(cam evt.Camera, cfg loopSettings, active *atomic.Bool, done chan struct{}) {
	var seq uint64

	for active.Load() {
		img, err := e.captureOnce(cam, cfg, seq)
		if err != nil {
			if recoverable(err) {
				e.dropped.Add(1)
				e.log.Warnf("capture iteration dropped: %v", err)
				continue
			}
			e.setLastError(err)
			e.log.Errorf("acquisition aborted: %v", err)
			break
		}

		seq = img.Sequence
		e.store.SetInt(CtrlArrayCounter, int64(seq))
		e.store.Flush()

		if cfg.mode == ImageModeSingle && seq >= 1 {
			break
		}
		if cfg.mode == ImageModeMultiple && seq >= cfg.count {
			break
		}
	}

	// Decide who runs teardown. The loop owns the full stop sequence only
	// when it is still the current session's producer (its done channel is
	// the engine's) and the state is still Acquiring; otherwise either a
	// Stop is in flight and cleans up after the handshake, or the loop was
	// abandoned by a timed-out Stop and a later session owns the device.
	e.mu.Lock()
	current := e.done == done
	selfStop := current && e.state == StateAcquiring
	if selfStop {
		e.state.Update(StateStopping, noop)
	}
	active.Store(false)
	if current {
		e.running.Store(false)
	}
	e.mu.Unlock()
	close(done)

	if !selfStop {
		return
	}

	e.teardown(cam)
	e.mu.Lock()
	e.state.Update(StateIdle, noop)
	e.store.SetInt(CtrlAcquire, 0)
	e.store.SetString(CtrlDetectorState, "idle")
	e.mu.Unlock()

	e.store.Flush()
}

// captureOnce runs a single acquire-convert-publish iteration. Every
// frame buffer allocated here is released on every exit path; the
// deferred releases right after each successful AllocFrame are the only
// release sites.
func (e *Engine) captureOnce(cam evt.Camera, cfg loopSettings, seq uint64) (*sink.Image, error) {
	format, err := ResolveFormat(cfg.colorMode, cfg.formatIndex)
	if err != nil {
		return nil, err
	}

	capture := &evt.Frame{Width: cfg.width, Height: cfg.height, Format: format}
	if err := cam.AllocFrame(capture); err != nil {
		return nil, translate(KindCapture, "alloc frame", err)
	}
	defer func() {
		if rerr := cam.ReleaseFrame(capture); rerr != nil {
			e.log.Errorf("release capture frame: %v", rerr)
		}
	}()

	// Packed and channel-swapped formats need a second pass through the
	// device conversion into a separate buffer.
	var converted *evt.Frame
	if needsConversion(format) {
		converted = &evt.Frame{Width: cfg.width, Height: cfg.height, Format: format.Converted()}
		if err := cam.AllocFrame(converted); err != nil {
			return nil, translate(KindCapture, "alloc conversion frame", err)
		}
		defer func() {
			if rerr := cam.ReleaseFrame(converted); rerr != nil {
				e.log.Errorf("release conversion frame: %v", rerr)
			}
		}()
	}

	if err := cam.QueueFrame(capture); err != nil {
		return nil, translate(KindCapture, "queue frame", err)
	}
	if cfg.software {
		if err := cam.Execute(evt.CommandTriggerSoftware); err != nil {
			return nil, translate(KindCapture, "software trigger", err)
		}
	}

	if _, err := cam.WaitFrame(cfg.waitTimeout); err != nil {
		return nil, translate(KindCapture, "wait frame", err)
	}
	e.captured.Add(1)

	src := capture
	if converted != nil {
		if err := cam.ConvertFrame(capture, converted); err != nil {
			return nil, translate(KindConversion, "convert frame", err)
		}
		src = converted
	}

	// The frame buffer dies with this iteration; the published image gets
	// its own copy.
	data := make([]byte, len(src.Data))
	copy(data, src.Data)

	info, err := frame.Lookup(src.Format)
	if err != nil {
		return nil, wrap(KindConversion, "describe format", err)
	}

	img := &sink.Image{
		ID:        uuid.NewString(),
		Sequence:  seq + 1,
		Timestamp: time.Now(),
		Width:     src.Width,
		Height:    src.Height,
		Format:    src.Format,
		ColorMode: info.ColorMode,
		Sample:    info.Sample,
		Data:      data,
	}
	if err := e.cfg.Sink.Publish(img); err != nil {
		return nil, wrap(KindPublish, "publish", err)
	}
	e.published.Add(1)
	return img, nil
}

// recoverable errors abort one iteration; everything else stops the
// acquisition.
func recoverable(err error) bool {
	if errors.Is(err, evt.ErrTimeout) {
		return true
	}
	return KindOf(err) == KindFormat
}
