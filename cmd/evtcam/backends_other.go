//go:build !linux

package main

import (
	"fmt"

	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/evt/evtsim"
)

func newBackend(name string) (evt.Driver, error) {
	switch name {
	case "sim":
		return evtsim.New(), nil
	case "v4l2":
		return nil, fmt.Errorf("the v4l2 backend is only available on linux")
	}
	return nil, fmt.Errorf("unknown backend %q (want sim or v4l2)", name)
}
