package scan

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	_ "golang.org/x/image/webp"
)

// Decoder finds a QR code in an image.
type Decoder interface {
	Decode(img image.Image) (string, bool)
}

// ZXingDecoder decodes dark-on-light QR codes. Inverted codes are not attempted.
type ZXingDecoder struct {
	mu     sync.Mutex
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder returns a decoder. It is safe for concurrent use.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		reader: qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode returns the text of the first QR code in img. Any reader failure counts as no detection.
func (d *ZXingDecoder) Decode(img image.Image) (string, bool) {
	if img == nil {
		return "", false
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.reader.Decode(bmp, d.hints)
	if err != nil {
		return "", false
	}
	return res.GetText(), true
}

// MaxFrameEdge bounds the longest side of a decoded frame.
const MaxFrameEdge = 1600

// DecodeFrame reads a JPEG, PNG, GIF, BMP, TIFF or WebP image, applies EXIF orientation and
// shrinks it to MaxFrameEdge.
func DecodeFrame(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > MaxFrameEdge || b.Dy() > MaxFrameEdge {
		img = imaging.Fit(img, MaxFrameEdge, MaxFrameEdge, imaging.Linear)
	}
	return img, nil
}
