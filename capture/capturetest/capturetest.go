// Package capturetest provides an in-memory capture.Platform for tests.
package capturetest

import (
	"errors"
	"image"
	"image/color"
	"slices"
	"sync"

	"github.com/ggoodman/window-cap-mcp/capture"
)

// ErrWindowGone is returned when capturing or closing a window that is no
// longer in the list.
var ErrWindowGone = errors.New("window is gone")

// Platform is a deterministic capture.Platform. Its exported fields may be
// changed between calls but not concurrently with them.
type Platform struct {
	mu sync.Mutex

	monitors []capture.Monitor
	windows  []capture.Window
	closed   []uint32

	// MonitorsErr and WindowsErr make enumeration fail.
	MonitorsErr error
	WindowsErr  error
	// CaptureErr makes both capture calls fail.
	CaptureErr error
	// CapturePanic makes both capture calls panic with its value.
	CapturePanic any
}

// New returns a platform with one 64x48 primary monitor and the given windows.
func New(windows ...capture.Window) *Platform {
	return &Platform{
		monitors: []capture.Monitor{{
			Index:     0,
			Name:      "fake-0",
			Width:     64,
			Height:    48,
			IsPrimary: true,
		}},
		windows: slices.Clone(windows),
	}
}

// SetMonitors replaces the monitor list. Indexes are reassigned in order.
func (p *Platform) SetMonitors(ms ...capture.Monitor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitors = make([]capture.Monitor, len(ms))
	for i, m := range ms {
		m.Index = i
		p.monitors[i] = m
	}
}

// AddWindow appends a window to the list.
func (p *Platform) AddWindow(w capture.Window) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windows = append(p.windows, w)
}

// Closed returns the ids passed to CloseWindow so far.
func (p *Platform) Closed() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.closed)
}

func (p *Platform) Monitors() ([]capture.Monitor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MonitorsErr != nil {
		return nil, p.MonitorsErr
	}
	return slices.Clone(p.monitors), nil
}

func (p *Platform) Windows() ([]capture.Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WindowsErr != nil {
		return nil, p.WindowsErr
	}
	return slices.Clone(p.windows), nil
}

func (p *Platform) CaptureMonitor(m capture.Monitor) (*image.RGBA, error) {
	if err := p.captureFault(); err != nil {
		return nil, err
	}
	return solid(int(m.Width), int(m.Height), color.RGBA{R: 0x20, G: 0x40, B: 0x80, A: 0xff}), nil
}

func (p *Platform) CaptureWindow(w capture.Window) (*image.RGBA, error) {
	if err := p.captureFault(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	present := slices.ContainsFunc(p.windows, func(x capture.Window) bool { return x.ID == w.ID })
	p.mu.Unlock()
	if !present {
		return nil, ErrWindowGone
	}
	return solid(int(w.Width), int(w.Height), color.RGBA{R: 0xc0, G: 0x30, B: 0x30, A: 0xff}), nil
}

// CloseWindow removes the window from the list.
func (p *Platform) CloseWindow(w capture.Window) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.IndexFunc(p.windows, func(x capture.Window) bool { return x.ID == w.ID })
	if i < 0 {
		return ErrWindowGone
	}
	p.windows = slices.Delete(p.windows, i, i+1)
	p.closed = append(p.closed, w.ID)
	return nil
}

func (p *Platform) captureFault() error {
	p.mu.Lock()
	pv, err := p.CapturePanic, p.CaptureErr
	p.mu.Unlock()
	if pv != nil {
		panic(pv)
	}
	return err
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	w, h = max(w, 1), max(h, 1)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}
