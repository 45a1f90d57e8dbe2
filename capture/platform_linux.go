//go:build linux

package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
)

// x11Platform talks to the X server named by $DISPLAY. The connection is
// opened lazily so that a process without a display can still start and
// serve enumeration errors.
type x11Platform struct {
	log *slog.Logger

	mu        sync.Mutex
	conn      *xgb.Conn
	root      xproto.Window
	screen    *xproto.ScreenInfo
	lsbFirst  bool
	hasRandr  bool
	atomCache map[string]xproto.Atom
}

func newPlatform(log *slog.Logger) Platform {
	return &x11Platform{log: log, atomCache: make(map[string]xproto.Atom)}
}

func (p *x11Platform) connect() (*xgb.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("open X display: %w", err)
	}
	setup := xproto.Setup(conn)
	p.screen = setup.DefaultScreen(conn)
	p.root = p.screen.Root
	p.lsbFirst = setup.ImageByteOrder == xproto.ImageOrderLSBFirst
	if err := randr.Init(conn); err != nil {
		p.log.Debug("capture.x11.randr_unavailable", slog.String("err", err.Error()))
	} else {
		p.hasRandr = true
	}
	p.conn = conn
	return conn, nil
}

// Close disconnects from the X server.
func (p *x11Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}

func (p *x11Platform) atom(conn *xgb.Conn, name string) (xproto.Atom, error) {
	p.mu.Lock()
	a, ok := p.atomCache[name]
	p.mu.Unlock()
	if ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern atom %s: %w", name, err)
	}
	p.mu.Lock()
	p.atomCache[name] = reply.Atom
	p.mu.Unlock()
	return reply.Atom, nil
}

func (p *x11Platform) property(conn *xgb.Conn, win xproto.Window, name string, typ xproto.Atom) (*xproto.GetPropertyReply, error) {
	a, err := p.atom(conn, name)
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(conn, false, win, a, typ, 0, 1<<16).Reply()
	if err != nil {
		return nil, fmt.Errorf("get property %s: %w", name, err)
	}
	return reply, nil
}

func (p *x11Platform) Monitors() ([]Monitor, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, err
	}
	if p.hasRandr {
		ms, err := p.randrMonitors(conn)
		if err == nil && len(ms) > 0 {
			return ms, nil
		}
		if err != nil {
			p.log.Debug("capture.x11.randr_monitors_failed", slog.String("err", err.Error()))
		}
	}
	// Without RandR the whole root window is the only display.
	return []Monitor{{
		Index:     0,
		Name:      "screen-0",
		Width:     uint32(p.screen.WidthInPixels),
		Height:    uint32(p.screen.HeightInPixels),
		IsPrimary: true,
	}}, nil
}

func (p *x11Platform) randrMonitors(conn *xgb.Conn) ([]Monitor, error) {
	res, err := randr.GetScreenResourcesCurrent(conn, p.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("get screen resources: %w", err)
	}

	var primary randr.Output
	if pr, err := randr.GetOutputPrimary(conn, p.root).Reply(); err == nil {
		primary = pr.Output
	} else {
		p.log.Debug("capture.x11.primary_output_failed", slog.String("err", err.Error()))
	}

	var out []Monitor
	for _, o := range res.Outputs {
		info, err := randr.GetOutputInfo(conn, o, res.ConfigTimestamp).Reply()
		if err != nil {
			p.log.Debug("capture.x11.output_info_failed", slog.Uint64("output", uint64(o)), slog.String("err", err.Error()))
			continue
		}
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}
		crtc, err := randr.GetCrtcInfo(conn, info.Crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			p.log.Debug("capture.x11.crtc_info_failed", slog.Uint64("crtc", uint64(info.Crtc)), slog.String("err", err.Error()))
			continue
		}
		out = append(out, Monitor{
			Index:     len(out),
			Name:      string(info.Name),
			X:         int32(crtc.X),
			Y:         int32(crtc.Y),
			Width:     uint32(crtc.Width),
			Height:    uint32(crtc.Height),
			IsPrimary: o == primary,
		})
	}
	return out, nil
}

func (p *x11Platform) Windows() ([]Window, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, err
	}
	ids, err := p.clientList(conn)
	if err != nil {
		return nil, err
	}
	out := make([]Window, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.describeWindow(conn, id))
	}
	return out, nil
}

// clientList prefers the window manager's _NET_CLIENT_LIST and falls back to
// the viewable children of the root window.
func (p *x11Platform) clientList(conn *xgb.Conn) ([]xproto.Window, error) {
	if reply, err := p.property(conn, p.root, "_NET_CLIENT_LIST", xproto.AtomWindow); err == nil && reply.Format == 32 && reply.ValueLen > 0 {
		ids := make([]xproto.Window, 0, reply.ValueLen)
		for i := 0; i+4 <= len(reply.Value); i += 4 {
			ids = append(ids, xproto.Window(xgb.Get32(reply.Value[i:])))
		}
		return ids, nil
	}

	tree, err := xproto.QueryTree(conn, p.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("query window tree: %w", err)
	}
	var ids []xproto.Window
	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(conn, child).Reply()
		if err != nil || attrs.OverrideRedirect || attrs.MapState != xproto.MapStateViewable {
			continue
		}
		ids = append(ids, child)
	}
	return ids, nil
}

func (p *x11Platform) describeWindow(conn *xgb.Conn, id xproto.Window) Window {
	w := Window{ID: uint32(id)}
	debug := func(attr string, err error) {
		p.log.Debug("capture.x11.window_attr_failed", slog.Uint64("window_id", uint64(id)), slog.String("attr", attr), slog.String("err", err.Error()))
	}

	w.Title = p.windowTitle(conn, id)

	if reply, err := p.property(conn, id, "WM_CLASS", xproto.AtomString); err != nil {
		debug("app_name", err)
	} else {
		// WM_CLASS holds "instance\x00class\x00"; the class names the application.
		parts := bytes.Split(bytes.TrimRight(reply.Value, "\x00"), []byte{0})
		w.AppName = string(parts[len(parts)-1])
	}

	if geom, err := xproto.GetGeometry(conn, xproto.Drawable(id)).Reply(); err != nil {
		debug("geometry", err)
	} else {
		w.Width, w.Height = uint32(geom.Width), uint32(geom.Height)
		if pos, err := xproto.TranslateCoordinates(conn, id, p.root, 0, 0).Reply(); err != nil {
			debug("position", err)
		} else {
			w.X, w.Y = int32(pos.DstX), int32(pos.DstY)
		}
	}

	if reply, err := p.property(conn, id, "_NET_WM_STATE", xproto.AtomAtom); err != nil {
		debug("state", err)
	} else {
		states := make(map[xproto.Atom]bool)
		for i := 0; i+4 <= len(reply.Value); i += 4 {
			states[xproto.Atom(xgb.Get32(reply.Value[i:]))] = true
		}
		hidden, _ := p.atom(conn, "_NET_WM_STATE_HIDDEN")
		vert, _ := p.atom(conn, "_NET_WM_STATE_MAXIMIZED_VERT")
		horz, _ := p.atom(conn, "_NET_WM_STATE_MAXIMIZED_HORZ")
		w.IsMinimized = hidden != 0 && states[hidden]
		w.IsMaximized = vert != 0 && horz != 0 && states[vert] && states[horz]
	}
	return w
}

func (p *x11Platform) windowTitle(conn *xgb.Conn, id xproto.Window) string {
	if utf8, err := p.atom(conn, "UTF8_STRING"); err == nil {
		if reply, err := p.property(conn, id, "_NET_WM_NAME", utf8); err == nil && len(reply.Value) > 0 {
			return string(reply.Value)
		}
	}
	reply, err := p.property(conn, id, "WM_NAME", xproto.GetPropertyTypeAny)
	if err != nil {
		p.log.Debug("capture.x11.window_attr_failed", slog.Uint64("window_id", uint64(id)), slog.String("attr", "title"), slog.String("err", err.Error()))
		return ""
	}
	return string(reply.Value)
}

func (p *x11Platform) CaptureMonitor(m Monitor) (*image.RGBA, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, err
	}
	return p.grab(conn, xproto.Drawable(p.root), int16(m.X), int16(m.Y), uint16(m.Width), uint16(m.Height))
}

func (p *x11Platform) CaptureWindow(w Window) (*image.RGBA, error) {
	conn, err := p.connect()
	if err != nil {
		return nil, err
	}
	if w.IsMinimized {
		return nil, errors.New("window is minimized")
	}
	geom, err := xproto.GetGeometry(conn, xproto.Drawable(w.ID)).Reply()
	if err != nil {
		return nil, fmt.Errorf("window %d is gone: %w", w.ID, err)
	}
	return p.grab(conn, xproto.Drawable(w.ID), 0, 0, geom.Width, geom.Height)
}

func (p *x11Platform) grab(conn *xgb.Conn, d xproto.Drawable, x, y int16, width, height uint16) (*image.RGBA, error) {
	if width == 0 || height == 0 {
		return nil, errors.New("empty capture area")
	}
	reply, err := xproto.GetImage(conn, xproto.ImageFormatZPixmap, d, x, y, width, height, 0xffffffff).Reply()
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	w, h := int(width), int(height)
	if len(reply.Data) < w*h*4 {
		return nil, fmt.Errorf("unsupported pixel format: depth %d, %d bytes for %dx%d", reply.Depth, len(reply.Data), w, h)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	src := reply.Data
	for i := 0; i < w*h; i++ {
		px := src[i*4 : i*4+4]
		dst := img.Pix[i*4 : i*4+4]
		if p.lsbFirst {
			dst[0], dst[1], dst[2] = px[2], px[1], px[0]
		} else {
			dst[0], dst[1], dst[2] = px[1], px[2], px[3]
		}
		dst[3] = 0xff
	}
	return img, nil
}

func (p *x11Platform) CloseWindow(w Window) error {
	conn, err := p.connect()
	if err != nil {
		return err
	}
	protocols, err := p.atom(conn, "WM_PROTOCOLS")
	if err != nil {
		return err
	}
	deleteWindow, err := p.atom(conn, "WM_DELETE_WINDOW")
	if err != nil {
		return err
	}
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: xproto.Window(w.ID),
		Type:   protocols,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{uint32(deleteWindow), xproto.TimeCurrentTime, 0, 0, 0}),
	}
	if err := xproto.SendEventChecked(conn, false, xproto.Window(w.ID), xproto.EventMaskNoEvent, string(ev.Bytes())).Check(); err != nil {
		return fmt.Errorf("send WM_DELETE_WINDOW: %w", err)
	}
	return nil
}
