package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/ggoodman/window-cap-mcp/internal/bridge"
)

// ErrNoMonitors is returned when enumeration succeeds but finds no display.
var ErrNoMonitors = errors.New("No monitors available")

// MonitorNotFoundError reports a monitor index outside the current layout.
type MonitorNotFoundError struct {
	Index uint32
}

func (e *MonitorNotFoundError) Error() string {
	return fmt.Sprintf("Monitor index %d does not exist", e.Index)
}

// WindowNotFoundError reports a window id absent from the current window list.
type WindowNotFoundError struct {
	ID uint32
}

func (e *WindowNotFoundError) Error() string {
	return fmt.Sprintf("Window ID %d does not exist", e.ID)
}

// Service runs Platform calls on a bridge pool and resolves targets.
type Service struct {
	platform Platform
	pool     *bridge.Pool
	log      *slog.Logger
}

// NewService returns a Service backed by platform. Every platform call is
// executed on pool.
func NewService(platform Platform, pool *bridge.Pool, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{platform: platform, pool: pool, log: log}
}

// Close releases the platform's resources if it holds any.
func (s *Service) Close() error {
	if c, ok := s.platform.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) monitors() ([]Monitor, error) {
	ms, err := s.platform.Monitors()
	if err != nil {
		return nil, fmt.Errorf("Failed to get monitors: %w", err)
	}
	return ms, nil
}

func (s *Service) windows() ([]Window, error) {
	ws, err := s.platform.Windows()
	if err != nil {
		return nil, fmt.Errorf("Failed to get window list: %w", err)
	}
	return ws, nil
}

// Monitors enumerates the current displays.
func (s *Service) Monitors(ctx context.Context) ([]Monitor, error) {
	return bridge.Run(ctx, s.pool, s.monitors)
}

// Windows enumerates the current top-level windows.
func (s *Service) Windows(ctx context.Context) ([]Window, error) {
	return bridge.Run(ctx, s.pool, s.windows)
}

// MonitorCount returns the number of displays.
func (s *Service) MonitorCount(ctx context.Context) (int, error) {
	ms, err := s.Monitors(ctx)
	return len(ms), err
}

// WindowCount returns the number of top-level windows.
func (s *Service) WindowCount(ctx context.Context) (int, error) {
	ws, err := s.Windows(ctx)
	return len(ws), err
}

// selectMonitor picks the monitor at index, or the primary monitor (falling
// back to the first) when index is nil.
func selectMonitor(ms []Monitor, index *uint32) (Monitor, error) {
	if len(ms) == 0 {
		return Monitor{}, ErrNoMonitors
	}
	if index != nil {
		if uint64(*index) >= uint64(len(ms)) {
			return Monitor{}, &MonitorNotFoundError{Index: *index}
		}
		return ms[*index], nil
	}
	for _, m := range ms {
		if m.IsPrimary {
			return m, nil
		}
	}
	return ms[0], nil
}

func findWindow(ws []Window, id uint32) (Window, error) {
	for _, w := range ws {
		if w.ID == id {
			return w, nil
		}
	}
	return Window{}, &WindowNotFoundError{ID: id}
}

type monitorCapture struct {
	monitor Monitor
	image   EncodedImage
}

// CaptureMonitor captures the monitor at index, or the primary monitor when
// index is nil.
func (s *Service) CaptureMonitor(ctx context.Context, index *uint32) (Monitor, EncodedImage, error) {
	res, err := bridge.Run(ctx, s.pool, func() (monitorCapture, error) {
		ms, err := s.monitors()
		if err != nil {
			return monitorCapture{}, err
		}
		m, err := selectMonitor(ms, index)
		if err != nil {
			return monitorCapture{}, err
		}
		img, err := s.platform.CaptureMonitor(m)
		if err != nil {
			return monitorCapture{}, fmt.Errorf("Screenshot failed: %w", err)
		}
		enc, err := encode(img)
		if err != nil {
			return monitorCapture{}, err
		}
		return monitorCapture{monitor: m, image: enc}, nil
	})
	return res.monitor, res.image, err
}

type windowCapture struct {
	window Window
	image  EncodedImage
}

// CaptureWindow captures the window with the given id.
func (s *Service) CaptureWindow(ctx context.Context, id uint32) (Window, EncodedImage, error) {
	res, err := bridge.Run(ctx, s.pool, func() (windowCapture, error) {
		ws, err := s.windows()
		if err != nil {
			return windowCapture{}, err
		}
		w, err := findWindow(ws, id)
		if err != nil {
			return windowCapture{}, err
		}
		img, err := s.platform.CaptureWindow(w)
		if err != nil {
			return windowCapture{}, fmt.Errorf("Window screenshot failed: %w", err)
		}
		enc, err := encode(img)
		if err != nil {
			return windowCapture{}, err
		}
		return windowCapture{window: w, image: enc}, nil
	})
	return res.window, res.image, err
}

// CloseWindow asks the window with the given id to close and returns the
// window as it was before the request.
func (s *Service) CloseWindow(ctx context.Context, id uint32) (Window, error) {
	return bridge.Run(ctx, s.pool, func() (Window, error) {
		ws, err := s.windows()
		if err != nil {
			return Window{}, err
		}
		w, err := findWindow(ws, id)
		if err != nil {
			return Window{}, err
		}
		if err := s.platform.CloseWindow(w); err != nil {
			return Window{}, fmt.Errorf("Failed to close window %d: %w", id, err)
		}
		s.log.Debug("capture.close_window.sent", slog.Uint64("window_id", uint64(id)), slog.String("title", w.Title))
		return w, nil
	})
}

func encode(img *image.RGBA) (EncodedImage, error) {
	if img == nil {
		return EncodedImage{}, errors.New("Image encoding failed: platform returned no image")
	}
	enc, err := EncodePNG(img)
	if err != nil {
		return EncodedImage{}, fmt.Errorf("Image encoding failed: %w", err)
	}
	return enc, nil
}
