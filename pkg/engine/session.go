package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/gigekit/evtcam/pkg/evt"
)

// DeviceDescriptor is the static description of the connected device.
// It is written once per connect and read-only afterwards.
type DeviceDescriptor struct {
	// HandleID identifies this connection; a reconnect gets a new one.
	HandleID     string
	Serial       string
	Model        string
	Manufacturer string
	Firmware     string
	IP           string
	MAC          string
	MaxWidth     int
	MaxHeight    int
}

// session owns the device handle. At most one handle is live per engine.
type session struct {
	driver evt.Driver
	log    logging.LeveledLogger

	mu        sync.RWMutex
	cam       evt.Camera
	desc      *DeviceDescriptor
	supported []string
}

func newSession(driver evt.Driver, log logging.LeveledLogger) *session {
	return &session{driver: driver, log: log}
}

// Connect enumerates the backend, matches by serial, opens the device and
// captures its advertised pixel format list. The list is cached until the
// next connect on purpose: re-querying per start would add a device round
// trip for a set that only changes across firmware updates.
func (s *session) Connect(serial string) (*DeviceDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam != nil {
		return nil, wrap(KindConnection, "connect", ErrAlreadyConnected)
	}

	devices, err := s.driver.List()
	if err != nil {
		return nil, wrap(KindConnection, "enumerate", err)
	}

	var info *evt.DeviceInfo
	for i := range devices {
		if devices[i].Serial == serial {
			info = &devices[i]
			break
		}
	}
	if info == nil {
		return nil, wrap(KindConnection, "connect", fmt.Errorf("%w: %q", ErrDeviceNotFound, serial))
	}

	cam, err := s.driver.Open(*info)
	if err != nil {
		return nil, translate(KindConnection, "open", err)
	}

	// The advertised format set gates start(); fetch it once here.
	var supported []string
	if list, err := cam.EnumRange(evt.ParamPixelFormat); err == nil {
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				supported = append(supported, name)
			}
		}
	} else {
		s.log.Warnf("device %s advertises no pixel format list: %v", serial, err)
	}

	s.cam = cam
	s.supported = supported
	s.desc = &DeviceDescriptor{
		HandleID:     uuid.NewString(),
		Serial:       info.Serial,
		Model:        info.Model,
		Manufacturer: info.Manufacturer,
		Firmware:     info.Firmware,
		IP:           info.IP,
		MAC:          info.MAC,
		MaxWidth:     info.MaxWidth,
		MaxHeight:    info.MaxHeight,
	}

	s.log.Infof("connected to %s (%s, serial %s)", info.Model, info.Manufacturer, info.Serial)
	return s.desc, nil
}

// Disconnect releases the handle. Calling it while disconnected returns
// ErrNotConnected and has no side effects.
func (s *session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return wrap(KindConnection, "disconnect", ErrNotConnected)
	}

	if err := s.cam.Close(); err != nil {
		// The handle is gone either way; surface the close failure in
		// the log only.
		s.log.Warnf("device close failed: %v", err)
	}
	s.cam = nil
	s.desc = nil
	s.supported = nil
	return nil
}

func (s *session) Camera() evt.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cam
}

func (s *session) Connected() bool {
	return s.Camera() != nil
}

func (s *session) Descriptor() *DeviceDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// Supports reports whether the device advertised the pixel format at
// connect time.
func (s *session) Supports(format string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.supported {
		if name == format {
			return true
		}
	}
	return false
}
