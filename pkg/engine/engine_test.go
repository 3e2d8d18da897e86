package engine

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/evt/evtsim"
	"github.com/gigekit/evtcam/pkg/frame"
	"github.com/gigekit/evtcam/pkg/sink"
	"github.com/gigekit/evtcam/pkg/store"
)

const testSerial = "EVT-SIM-0001"

func newTestEngine(t *testing.T, out sink.Sink) (*Engine, *evtsim.Driver) {
	t.Helper()
	if out == nil {
		out = sink.FuncSink(func(*sink.Image) error { return nil })
	}
	drv := evtsim.New()
	e, err := New(Config{
		Driver:      drv,
		Serial:      testSerial,
		Sink:        out,
		WaitTimeout: time.Second,
		StopTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, drv
}

// waitIdle blocks until the engine has settled back to Idle with the
// producer goroutine gone.
func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := e.SnapshotStatus()
		if st.State == StateIdle && !st.Running {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("engine did not settle: %+v", e.SnapshotStatus())
}

func waitPublished(t *testing.T, e *Engine, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e.SnapshotStatus().Published >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("never published %d images: %+v", n, e.SnapshotStatus())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Serial: testSerial, Sink: sink.NewChanSink(1)})
	assert.Error(t, err)
	_, err = New(Config{Driver: evtsim.New(), Sink: sink.NewChanSink(1)})
	assert.Error(t, err)
	_, err = New(Config{Driver: evtsim.New(), Serial: testSerial})
	assert.Error(t, err)
}

func TestConnectUnknownSerial(t *testing.T) {
	drv := evtsim.New()
	e, err := New(Config{Driver: drv, Serial: "EVT-NOPE-0000", Sink: sink.NewChanSink(1)})
	require.NoError(t, err)

	err = e.Connect()
	require.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.False(t, e.SnapshotStatus().Connected)
}

func TestConnectTwice(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	require.ErrorIs(t, e.Connect(), ErrAlreadyConnected)
}

func TestConnectPublishesIdentity(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	model, ok := e.Store().String(CtrlModel)
	require.True(t, ok)
	assert.Equal(t, "HS-2000M", model)
	serial, _ := e.Store().String(CtrlSerialNumber)
	assert.Equal(t, testSerial, serial)

	desc := e.Descriptor()
	require.NotNil(t, desc)
	assert.NotEmpty(t, desc.HandleID)
	assert.Equal(t, 2048, desc.MaxWidth)
}

func TestReconnectGetsNewHandle(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	first := e.Descriptor().HandleID
	require.NoError(t, e.Disconnect())
	require.NoError(t, e.Connect())
	assert.NotEqual(t, first, e.Descriptor().HandleID)
}

func TestDisconnectWhileDisconnected(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.ErrorIs(t, e.Disconnect(), ErrNotConnected)
}

func TestCloseIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestStartRequiresConnection(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.ErrorIs(t, e.Start(), ErrNotConnected)
}

func TestStopWhileIdle(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	require.ErrorIs(t, e.Stop(), ErrNotActive)
}

func TestSingleShot(t *testing.T) {
	out := sink.NewChanSink(8)
	e, drv := newTestEngine(t, out)
	require.NoError(t, e.Connect())

	require.NoError(t, e.Start())
	waitIdle(t, e)

	st := e.SnapshotStatus()
	assert.Equal(t, uint64(1), st.Published)
	assert.Empty(t, st.LastError)

	img := <-out.C
	assert.Equal(t, uint64(1), img.Sequence)
	assert.NotEmpty(t, img.ID)
	assert.Equal(t, frame.FormatMono8, img.Format)
	assert.Len(t, img.Data, img.Width*img.Height)

	cam := drv.Camera(testSerial)
	assert.Zero(t, cam.Outstanding())
	assert.Zero(t, cam.DoubleReleased())
	assert.Equal(t, cam.Allocated(), cam.Released())
}

func TestMultipleShotSequence(t *testing.T) {
	out := sink.NewChanSink(16)
	e, drv := newTestEngine(t, out)
	require.NoError(t, e.Connect())

	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeMultiple)))
	require.NoError(t, e.WriteInt(CtrlNumImages, 5))
	require.NoError(t, e.Start())
	waitIdle(t, e)

	st := e.SnapshotStatus()
	assert.Equal(t, uint64(5), st.Published)

	for want := uint64(1); want <= 5; want++ {
		img := <-out.C
		assert.Equal(t, want, img.Sequence)
	}

	cam := drv.Camera(testSerial)
	assert.Zero(t, cam.Outstanding())
	assert.Zero(t, cam.DoubleReleased())
}

func TestContinuousRunsUntilStopped(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	drv.Camera(testSerial).FrameDelay = time.Millisecond

	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeContinuous)))
	require.NoError(t, e.Start())
	waitPublished(t, e, 3)

	require.NoError(t, e.Stop())
	waitIdle(t, e)

	st := e.SnapshotStatus()
	assert.GreaterOrEqual(t, st.Published, uint64(3))
	assert.Zero(t, drv.Camera(testSerial).Outstanding())
}

func TestStartWhileAcquiring(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	drv.Camera(testSerial).FrameDelay = time.Millisecond

	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeContinuous)))
	require.NoError(t, e.Start())
	require.ErrorIs(t, e.Start(), ErrAlreadyActive)
	require.NoError(t, e.Stop())
}

func TestStopJoinsProducerWithinBound(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	drv.Camera(testSerial).FrameDelay = 5 * time.Millisecond

	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeContinuous)))
	require.NoError(t, e.Start())
	waitPublished(t, e, 1)

	begin := time.Now()
	require.NoError(t, e.Stop())
	assert.Less(t, time.Since(begin), e.cfg.StopTimeout)
	assert.False(t, e.SnapshotStatus().Running)
}

func TestStopTimeoutDoesNotReviveOrphanedProducer(t *testing.T) {
	// The first publish wedges until the gate opens, forcing Stop to
	// abandon the producer after its timeout.
	gate := make(chan struct{})
	var gateOnce sync.Once
	var total atomic.Uint64
	out := sink.FuncSink(func(*sink.Image) error {
		first := false
		gateOnce.Do(func() { first = true })
		if first {
			<-gate
		}
		total.Add(1)
		return nil
	})

	drv := evtsim.New()
	e, err := New(Config{
		Driver:      drv,
		Serial:      testSerial,
		Sink:        out,
		WaitTimeout: time.Second,
		StopTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, e.Connect())
	cam := drv.Camera(testSerial)

	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeContinuous)))
	require.NoError(t, e.Start())

	// Wait for the producer to wedge inside its first publish.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && e.SnapshotStatus().Captured == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	require.NotZero(t, e.SnapshotStatus().Captured)

	// Stop gives up on the wedged producer but still settles to Idle.
	require.NoError(t, e.Stop())
	require.Equal(t, StateIdle, e.SnapshotStatus().State)

	// A fresh session must run alone: its stop flag belongs to it, so the
	// abandoned producer cannot be revived into a second concurrent one.
	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeMultiple)))
	require.NoError(t, e.WriteInt(CtrlNumImages, 3))
	require.NoError(t, e.Start())
	waitIdle(t, e)
	require.Equal(t, uint64(3), e.SnapshotStatus().Published)

	// Unblocked, the orphan finishes its one in-flight publish, releases
	// its buffer and exits without touching the engine's state.
	close(gate)
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && cam.Outstanding() != 0 {
		time.Sleep(2 * time.Millisecond)
	}
	assert.Zero(t, cam.Outstanding())
	assert.Zero(t, cam.DoubleReleased())
	assert.Equal(t, StateIdle, e.SnapshotStatus().State)

	settled := total.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, total.Load(), "orphaned producer kept publishing")

	// The engine stays healthy afterwards.
	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeSingle)))
	require.NoError(t, e.Start())
	waitIdle(t, e)
	require.NoError(t, e.Close())
}

func TestStoreSettlesIdleAfterAutoStop(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	require.NoError(t, e.Start())
	waitIdle(t, e)

	v, ok := e.Store().Int(CtrlAcquire)
	require.True(t, ok)
	assert.Zero(t, v)
	state, ok := e.Store().String(CtrlDetectorState)
	require.True(t, ok)
	assert.Equal(t, "idle", state)
}

func TestWriteRejectedWhileAcquiring(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	drv.Camera(testSerial).FrameDelay = time.Millisecond

	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeContinuous)))
	require.NoError(t, e.Start())

	require.ErrorIs(t, e.WriteInt(CtrlSizeX, 640), ErrAlreadyActive)
	require.ErrorIs(t, e.WriteFloat(CtrlGain, 12), ErrAlreadyActive)
	require.NoError(t, e.Stop())
}

func TestOutOfRangeWriteNeverReachesDevice(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	cam := drv.Camera(testSerial)

	before, err := cam.Int(evt.ParamFrameRate)
	require.NoError(t, err)

	werr := e.WriteInt(CtrlFramerate, 100000)
	require.ErrorIs(t, werr, ErrRange)
	assert.Equal(t, KindParameter, KindOf(werr))

	after, err := cam.Int(evt.ParamFrameRate)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestWriteFloatExposureSeconds(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	require.NoError(t, e.WriteFloat(CtrlAcquireTime, 0.02))
	us, err := drv.Camera(testSerial).Int(evt.ParamExposure)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), us)
}

func TestWriteMirrorsIntoStore(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	var changes []store.Change
	e.Store().Subscribe(func(batch []store.Change) {
		changes = append(changes, batch...)
	})

	require.NoError(t, e.WriteInt(CtrlSizeX, 640))
	found := false
	for _, c := range changes {
		if c.Name == CtrlSizeX {
			found = true
		}
	}
	assert.True(t, found, "SizeX write must be mirrored to the store")
}

func TestBadWritesAreRejected(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	assert.Error(t, e.WriteInt(CtrlImageMode, 7))
	assert.Error(t, e.WriteInt(CtrlNumImages, 0))
	assert.Error(t, e.WriteInt(CtrlTriggerMode, 9))
	assert.Error(t, e.WriteInt(CtrlColorMode, 3))
	assert.Error(t, e.WriteInt("NoSuchParameter", 1))
	assert.Error(t, e.WriteFloat("NoSuchParameter", 1))
}

func TestBadFormatIndexRejectedAtWrite(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	err := e.WriteInt(CtrlPixelFormat, 9)
	assert.Equal(t, KindFormat, KindOf(err))
}

func TestStartRejectsUnadvertisedFormat(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	// The device table carries no BGR8, so the RGB/index-1 selection
	// resolves fine but fails validation against the advertised set.
	require.NoError(t, e.WriteInt(CtrlColorMode, 1))
	require.NoError(t, e.WriteInt(CtrlPixelFormat, 1))

	err := e.Start()
	assert.Equal(t, KindFormat, KindOf(err))
	assert.Equal(t, StateIdle, e.SnapshotStatus().State)
	assert.Zero(t, drv.Camera(testSerial).Allocated())

	// The rollback left nothing armed; a valid selection starts cleanly.
	require.NoError(t, e.WriteInt(CtrlPixelFormat, 0))
	require.NoError(t, e.Start())
	waitIdle(t, e)
	assert.Equal(t, uint64(1), e.SnapshotStatus().Published)
}

func TestAdvertisedFormatsCachedAtConnect(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	// Shrinking the advertisement after connect must not affect starts;
	// the set is snapshotted per connection.
	drv.Camera(testSerial).SetAdvertisedFormats("")
	require.NoError(t, e.Start())
	waitIdle(t, e)
	assert.Equal(t, uint64(1), e.SnapshotStatus().Published)
}

func TestPackedFormatPublishedUnpacked(t *testing.T) {
	out := sink.NewChanSink(4)
	e, drv := newTestEngine(t, out)
	require.NoError(t, e.Connect())

	require.NoError(t, e.WriteInt(CtrlPixelFormat, 2)) // Mono12Packed
	require.NoError(t, e.Start())
	waitIdle(t, e)

	img := <-out.C
	assert.Equal(t, frame.FormatMono16, img.Format)
	assert.Equal(t, frame.SampleU16, img.Sample)
	assert.Len(t, img.Data, img.Width*img.Height*2)

	cam := drv.Camera(testSerial)
	assert.Equal(t, 2, cam.Allocated())
	assert.Equal(t, 2, cam.Released())
	assert.Zero(t, cam.DoubleReleased())
}

func TestWaitFailureAbortsAndReleases(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	cam := drv.Camera(testSerial)
	cam.FailNext(evtsim.OpWaitFrame, errors.New("link down"))

	require.NoError(t, e.Start())
	waitIdle(t, e)

	st := e.SnapshotStatus()
	assert.Zero(t, st.Published)
	assert.Contains(t, st.LastError, "link down")
	assert.Equal(t, KindCapture, KindOf(e.LastError()))
	assert.Zero(t, cam.Outstanding())
}

func TestTimeoutDropsIterationAndContinues(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	cam := drv.Camera(testSerial)
	cam.FailNext(evtsim.OpWaitFrame, evt.ErrTimeout)

	require.NoError(t, e.Start())
	waitIdle(t, e)

	st := e.SnapshotStatus()
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(1), st.Published)
	assert.Zero(t, cam.Outstanding())
	assert.Zero(t, cam.DoubleReleased())
}

func TestConversionFailureAbortsAndReleases(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	cam := drv.Camera(testSerial)
	cam.FailNext(evtsim.OpConvertFrame, errors.New("lut corrupt"))

	require.NoError(t, e.WriteInt(CtrlPixelFormat, 1)) // Mono10Packed
	require.NoError(t, e.Start())
	waitIdle(t, e)

	assert.Equal(t, KindConversion, KindOf(e.LastError()))
	assert.Equal(t, 2, cam.Allocated())
	assert.Equal(t, 2, cam.Released())
	assert.Zero(t, cam.Outstanding())
}

func TestPublishFailureAborts(t *testing.T) {
	out := sink.FuncSink(func(*sink.Image) error { return errors.New("queue full") })
	e, drv := newTestEngine(t, out)
	require.NoError(t, e.Connect())

	require.NoError(t, e.Start())
	waitIdle(t, e)

	st := e.SnapshotStatus()
	assert.Zero(t, st.Published)
	assert.Equal(t, uint64(1), st.Captured)
	assert.Equal(t, KindPublish, KindOf(e.LastError()))
	assert.Zero(t, drv.Camera(testSerial).Outstanding())
}

func TestStartFailureRollsBackStream(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	cam := drv.Camera(testSerial)
	cam.FailNext(evtsim.OpExecute, errors.New("busy"))

	err := e.Start()
	assert.Equal(t, KindCapture, KindOf(err))
	assert.Equal(t, StateIdle, e.SnapshotStatus().State)

	// Stream was closed during rollback, so a clean start succeeds.
	require.NoError(t, e.Start())
	waitIdle(t, e)
	assert.Equal(t, uint64(1), e.SnapshotStatus().Published)
}

func TestOpenStreamFailureRollsBack(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	drv.Camera(testSerial).FailNext(evtsim.OpOpenStream, errors.New("port in use"))

	err := e.Start()
	assert.Equal(t, KindStream, KindOf(err))
	assert.Equal(t, StateIdle, e.SnapshotStatus().State)
}

func TestStartClearsLastError(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	drv.Camera(testSerial).FailNext(evtsim.OpWaitFrame, errors.New("glitch"))

	require.NoError(t, e.Start())
	waitIdle(t, e)
	require.Error(t, e.LastError())

	require.NoError(t, e.Start())
	waitIdle(t, e)
	assert.NoError(t, e.LastError())
}

func TestDisconnectStopsAcquisition(t *testing.T) {
	e, drv := newTestEngine(t, nil)
	require.NoError(t, e.Connect())
	drv.Camera(testSerial).FrameDelay = time.Millisecond

	require.NoError(t, e.WriteInt(CtrlImageMode, int64(ImageModeContinuous)))
	require.NoError(t, e.Start())
	waitPublished(t, e, 1)

	require.NoError(t, e.Disconnect())
	st := e.SnapshotStatus()
	assert.False(t, st.Connected)
	assert.False(t, st.Running)
}

func TestSoftwareTriggerMode(t *testing.T) {
	var published atomic.Uint64
	out := sink.FuncSink(func(*sink.Image) error {
		published.Add(1)
		return nil
	})
	e, _ := newTestEngine(t, out)
	require.NoError(t, e.Connect())

	require.NoError(t, e.WriteInt(CtrlTriggerMode, TriggerSoftware))
	require.NoError(t, e.Start())
	waitIdle(t, e)
	assert.Equal(t, uint64(1), published.Load())
}

func TestReportMentionsDevice(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Connect())

	var b strings.Builder
	e.Report(&b, 2)
	out := b.String()
	assert.Contains(t, out, "HS-2000M")
	assert.Contains(t, out, testSerial)
	assert.Contains(t, out, "state=idle")
}
