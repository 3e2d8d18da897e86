//go:build linux

package main

import (
	"fmt"

	"github.com/gigekit/evtcam/pkg/evt"
	"github.com/gigekit/evtcam/pkg/evt/evtsim"
	"github.com/gigekit/evtcam/pkg/evt/v4l2"
)

func newBackend(name string) (evt.Driver, error) {
	switch name {
	case "sim":
		return evtsim.New(), nil
	case "v4l2":
		return v4l2.New(), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want sim or v4l2)", name)
}
