package engine

import (
	"errors"
	"fmt"

	"github.com/pion/logging"

	"github.com/gigekit/evtcam/pkg/evt"
)

// params is the validated gateway for device parameter access. Every
// integer write checks the device-reported range first and never reaches
// the device when the value is out of bounds. All SDK status codes are
// normalized to the engine taxonomy here and nowhere else.
type params struct {
	session *session
	log     logging.LeveledLogger
}

func newParams(s *session, log logging.LeveledLogger) *params {
	return &params{session: s, log: log}
}

func (p *params) camera() (evt.Camera, error) {
	cam := p.session.Camera()
	if cam == nil {
		return nil, wrap(KindConnection, "parameter", ErrNotConnected)
	}
	return cam, nil
}

// SetInt validates value against the live device range for name, then
// writes it. An out-of-range value returns ErrRange without touching the
// device.
func (p *params) SetInt(name string, value int64) error {
	cam, err := p.camera()
	if err != nil {
		return err
	}

	r, err := cam.IntRange(name)
	if err != nil {
		return p.translate("range "+name, err)
	}
	if value < r.Min || value > r.Max {
		return wrap(KindParameter, "set "+name,
			fmt.Errorf("%w: %d not in [%d,%d]", ErrRange, value, r.Min, r.Max))
	}

	return p.translate("set "+name, cam.SetInt(name, value))
}

func (p *params) Int(name string) (int64, error) {
	cam, err := p.camera()
	if err != nil {
		return 0, err
	}
	v, err := cam.Int(name)
	return v, p.translate("get "+name, err)
}

func (p *params) SetBool(name string, value bool) error {
	cam, err := p.camera()
	if err != nil {
		return err
	}
	return p.translate("set "+name, cam.SetBool(name, value))
}

func (p *params) Bool(name string) (bool, error) {
	cam, err := p.camera()
	if err != nil {
		return false, err
	}
	v, err := cam.Bool(name)
	return v, p.translate("get "+name, err)
}

// translate is the single point where device parameter errors become
// engine errors.
func (p *params) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, evt.ErrClosed):
		return wrap(KindConnection, op, ErrNotConnected)
	case errors.Is(err, evt.ErrBadValue):
		return wrap(KindParameter, op, err)
	case errors.Is(err, evt.ErrUnknownParam):
		return wrap(KindParameter, op, err)
	}
	return wrap(KindParameter, op, err)
}
