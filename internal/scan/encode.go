package scan

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// EncodePNG renders p as a QR code PNG of size x size pixels.
func EncodePNG(p Payload, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	text, err := p.Text()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
