//go:build !linux || !cgo

package call

import (
	"context"
	"errors"
)

// noCapturer is used where pion/mediadevices has no drivers wired up.
// Camera/mic capture needs V4L2/malgo; on Windows/macOS Devices is empty
// and every acquisition fails with ErrMediaAcquisitionFailed.
type noCapturer struct{}

// NewDeviceCapturer returns the hardware Capturer for this platform.
func NewDeviceCapturer(int) (Capturer, error) {
	log.Infof("CALL: no native capture drivers on this platform")
	return noCapturer{}, nil
}

func (noCapturer) Devices() ([]Device, error) { return nil, nil }

func (noCapturer) Open(context.Context, Device) (Track, error) {
	return nil, errors.New("native capture not supported on this platform")
}
