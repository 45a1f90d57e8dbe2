package capture

// Monitor is a physical display as seen at enumeration time. Index is the
// position in that enumeration and is only meaningful until the display
// layout changes.
type Monitor struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	X         int32  `json:"x"`
	Y         int32  `json:"y"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	IsPrimary bool   `json:"is_primary"`
}

// Window is a top-level window. ID is stable while the window is open and
// may be reused by the platform after it closes.
type Window struct {
	ID          uint32 `json:"id"`
	Title       string `json:"title"`
	AppName     string `json:"app_name"`
	X           int32  `json:"x"`
	Y           int32  `json:"y"`
	Width       uint32 `json:"width"`
	Height      uint32 `json:"height"`
	IsMinimized bool   `json:"is_minimized"`
	IsMaximized bool   `json:"is_maximized"`
}

// EncodedImage is a captured image ready to be placed in a tool result.
type EncodedImage struct {
	// Data is the base64 encoding of the image bytes.
	Data     string
	MimeType string
	Width    int
	Height   int
}
