package capture

import (
	"errors"
	"image"
	"log/slog"
)

// ErrUnsupported is returned by every call on operating systems without a
// capture adapter.
var ErrUnsupported = errors.New("screen capture is not supported on this platform")

// Platform is the OS adapter. Implementations are synchronous and must be
// safe for concurrent use.
//
// Enumeration may fail outright, for example when no display is reachable.
// Failing to read a single attribute of a monitor or window is not an error:
// the field keeps its zero value.
type Platform interface {
	Monitors() ([]Monitor, error)
	Windows() ([]Window, error)
	CaptureMonitor(m Monitor) (*image.RGBA, error)
	CaptureWindow(w Window) (*image.RGBA, error)
	// CloseWindow asks the window to close. It returns once the request is
	// delivered, not when the window is gone.
	CloseWindow(w Window) error
}

// NewPlatform returns the adapter for the running operating system.
func NewPlatform(log *slog.Logger) Platform {
	if log == nil {
		log = slog.Default()
	}
	return newPlatform(log)
}
