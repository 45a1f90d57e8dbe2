package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/gabriel-vasile/mimetype"
)

// EncodePNG encodes img as PNG and returns it base64 encoded together with
// its detected MIME type.
func EncodePNG(img image.Image) (EncodedImage, error) {
	if img == nil {
		return EncodedImage{}, fmt.Errorf("nil image")
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return EncodedImage{}, err
	}

	mt := mimetype.Detect(buf.Bytes())
	if !mt.Is("image/png") {
		return EncodedImage{}, fmt.Errorf("encoder produced %s, want image/png", mt.String())
	}

	b := img.Bounds()
	return EncodedImage{
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType: mt.String(),
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}
