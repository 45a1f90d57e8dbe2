//go:build !linux

package capture

import (
	"image"
	"log/slog"
)

type unsupportedPlatform struct{}

func newPlatform(log *slog.Logger) Platform {
	log.Warn("capture.platform.unsupported")
	return unsupportedPlatform{}
}

func (unsupportedPlatform) Monitors() ([]Monitor, error)                { return nil, ErrUnsupported }
func (unsupportedPlatform) Windows() ([]Window, error)                  { return nil, ErrUnsupported }
func (unsupportedPlatform) CaptureMonitor(Monitor) (*image.RGBA, error) { return nil, ErrUnsupported }
func (unsupportedPlatform) CaptureWindow(Window) (*image.RGBA, error)   { return nil, ErrUnsupported }
func (unsupportedPlatform) CloseWindow(Window) error                    { return ErrUnsupported }
