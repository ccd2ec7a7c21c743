package handler

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"snapattend/internal/apperrors"
	"snapattend/internal/scan"
)

// MaxFrameBytes bounds uploaded scan frames.
const MaxFrameBytes = 8 << 20

var (
	errNoQRCode     = apperrors.WithMessage(apperrors.ErrValidation, "No QR code found in the image.")
	errInvalidImage = apperrors.WithMessage(apperrors.ErrValidation, "The image could not be read.")
)

// frameBytes reads a multipart "file" or a JSON {"data": "<base64 data URL>"} body.
func frameBytes(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFrameBytes)

	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, apperrors.WithMessage(apperrors.ErrValidation, "file field required")
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, apperrors.WithMessage(apperrors.ErrValidation, `provide {"data": "<base64 data URL>"}`)
	}
	data := body.Data
	if strings.HasPrefix(data, "data:") {
		_, rest, ok := strings.Cut(data, ",")
		if !ok {
			return nil, errInvalidImage
		}
		data = rest
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errInvalidImage
	}
	return raw, nil
}

// DecodeScan decodes a frame captured by a client that cannot run the decoder itself.
func (h *Handler) DecodeScan(c *gin.Context) {
	raw, err := frameBytes(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = apperrors.New(apperrors.CodeValidation, http.StatusRequestEntityTooLarge, "The image is too large.")
		}
		h.observeDecode("invalid_image")
		respondError(c, err)
		return
	}

	img, err := scan.DecodeFrame(bytes.NewReader(raw))
	if err != nil {
		h.observeDecode("invalid_image")
		respondError(c, errInvalidImage)
		return
	}
	text, found := h.decoder.Decode(img)
	if !found {
		h.observeDecode("none")
		respondError(c, errNoQRCode)
		return
	}
	payload, err := scan.ParsePayload(text)
	if err != nil {
		h.observeDecode("malformed")
		h.logger.Debug("scan payload rejected", zap.Error(err))
		respondError(c, err)
		return
	}
	h.observeDecode("ok")
	c.JSON(http.StatusOK, gin.H{"success": true, "payload": payload})
}

func (h *Handler) observeDecode(result string) {
	if h.observer != nil {
		h.observer.ObserveDecode(result)
	}
}
