// Package capture enumerates displays and top-level windows and grabs their
// pixels.
//
// A Platform is the OS-specific adapter. It is synchronous and may block for
// a long time, so callers go through a Service, which runs every platform
// call on a bridge.Pool, resolves user-supplied indexes and ids against a
// fresh enumeration, and PNG-encodes captured images.
//
// On Linux the adapter speaks the X11 protocol directly. Every other OS gets
// an adapter that fails with ErrUnsupported.
package capture
