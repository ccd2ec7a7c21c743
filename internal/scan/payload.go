// Package scan turns camera frames into attendance payloads.
package scan

import (
	"errors"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"snapattend/internal/apperrors"
)

// Payload is the content of a session QR code.
type Payload struct {
	SessionID string `json:"sessionId"`
	QRToken   string `json:"qrId"`
}

type wirePayload struct {
	SessionID *string `json:"sessionId"`
	QRToken   *string `json:"qrId"`
}

// ParsePayload parses decoded QR text. The text must be a single JSON object holding exactly
// the two string fields, both non-empty. Field values are returned as encoded.
func ParsePayload(text string) (Payload, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var w wirePayload
	if err := dec.Decode(&w); err != nil {
		return Payload{}, apperrors.Wrap(apperrors.ErrMalformedPayload, err)
	}
	var rest json.RawMessage
	if err := dec.Decode(&rest); !errors.Is(err, io.EOF) {
		return Payload{}, apperrors.Wrap(apperrors.ErrMalformedPayload, errors.New("trailing data after payload"))
	}
	if w.SessionID == nil || w.QRToken == nil {
		return Payload{}, apperrors.Wrap(apperrors.ErrMalformedPayload, errors.New("missing sessionId or qrId"))
	}
	p := Payload{SessionID: *w.SessionID, QRToken: *w.QRToken}
	if p.SessionID == "" || p.QRToken == "" {
		return Payload{}, apperrors.Wrap(apperrors.ErrMalformedPayload, errors.New("empty sessionId or qrId"))
	}
	return p, nil
}

// Text is the QR content for p.
func (p Payload) Text() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
