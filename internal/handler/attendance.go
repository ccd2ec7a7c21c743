package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"snapattend/internal/apperrors"
	"snapattend/internal/attendance"
	"snapattend/internal/auth"
	"snapattend/internal/scan"
)

// ---------- Auth ----------

type sessionRequest struct {
	IDToken  string `json:"id_token" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
}

// CreateAuthSession trades a provider ID token for an access token.
func (h *Handler) CreateAuthSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.WithMessage(apperrors.ErrValidation, "id_token and device_id are required"))
		return
	}
	login, err := h.sessions.Exchange(c.Request.Context(), req.IDToken, req.DeviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, login)
}

// Logout starts the login cooldown of the caller.
func (h *Handler) Logout(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	cd, err := h.sessions.Logout(c.Request.Context(), claims)
	if err != nil {
		respondError(c, err)
		return
	}
	body := gin.H{"success": true}
	if !cd.Until.IsZero() {
		body["cooldown_until"] = cd.Until.UTC()
	}
	c.JSON(http.StatusOK, body)
}

// ---------- Attendance ----------

type attendanceRequest struct {
	SessionID     string     `json:"session_id"`
	QRToken       string     `json:"qr_id"`
	ScanTimestamp *time.Time `json:"scan_timestamp"`
	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
	FullName      *string    `json:"full_name"`
	Phone         *string    `json:"phone"`
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	return nonEmpty(*p)
}

// SubmitAttendance runs the validation procedure for the authenticated student. The body is
// always an outcome: {success, message, code}.
func (h *Handler) SubmitAttendance(c *gin.Context) {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		respondError(c, apperrors.ErrUnauthorized)
		return
	}
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(apperrors.ErrInvalidSubmission, err))
		return
	}

	sub := attendance.Submission{
		SessionID: strings.TrimSpace(req.SessionID),
		QRToken:   strings.TrimSpace(req.QRToken),
		StudentID: claims.Subject,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		FullName:  trimmed(req.FullName),
		Email:     nonEmpty(claims.Email),
		Phone:     trimmed(req.Phone),
	}
	if sub.FullName == nil {
		sub.FullName = nonEmpty(claims.Name)
	}
	if req.ScanTimestamp != nil {
		sub.ScanTimestamp = *req.ScanTimestamp
	}

	out := h.att.Submit(c.Request.Context(), sub)
	status := http.StatusCreated
	if !out.Success {
		status = apperrors.StatusFor(out.Code)
	}
	c.JSON(status, out)
}

// ---------- Sessions ----------

type openSessionRequest struct {
	ClassID    string `json:"class_id"`
	TTLSeconds int    `json:"ttl_seconds" binding:"omitempty,min=10,max=86400"`
}

type sessionResponse struct {
	Session *attendance.Session `json:"session"`
	Payload scan.Payload        `json:"payload"`
	QRURL   string              `json:"qr_url"`
}

// OpenSession issues a session for the calling teacher.
func (h *Handler) OpenSession(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	var req openSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.WithMessage(apperrors.ErrValidation, "ttl_seconds must be between 10 and 86400"))
			return
		}
	}
	s, err := h.att.CreateSession(c.Request.Context(), attendance.SessionRequest{
		TeacherID: claims.Subject,
		ClassID:   strings.TrimSpace(req.ClassID),
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if h.observer != nil {
		h.observer.SessionOpened()
	}
	c.JSON(http.StatusCreated, sessionResponse{
		Session: s,
		Payload: scan.Payload{SessionID: s.ID, QRToken: s.QRToken},
		QRURL:   "/v1/sessions/" + s.ID + "/qr.png",
	})
}

// ownedSession loads the :id session and checks that the caller opened it.
func (h *Handler) ownedSession(c *gin.Context) (*attendance.Session, bool) {
	s, err := h.att.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	claims, _ := auth.ClaimsFrom(c)
	if s.TeacherID != nil && *s.TeacherID != claims.Subject {
		respondError(c, apperrors.ErrForbidden)
		return nil, false
	}
	return s, true
}

// SessionQR renders the QR code students scan.
func (h *Handler) SessionQR(c *gin.Context) {
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	size := 512
	if v, ok := c.GetQuery("size"); ok {
		var q struct {
			Size int `form:"size" binding:"min=128,max=2048"`
		}
		if err := c.ShouldBindQuery(&q); err != nil {
			respondError(c, apperrors.WithMessage(apperrors.ErrValidation, "size must be between 128 and 2048, got "+v))
			return
		}
		size = q.Size
	}
	png, err := scan.EncodePNG(scan.Payload{SessionID: s.ID, QRToken: s.QRToken}, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// SessionRecords lists the stored records of a session.
func (h *Handler) SessionRecords(c *gin.Context) {
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	records, err := h.att.Records(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": s.ID, "count": len(records), "records": records})
}

// SessionLive returns the Redis roster kept by the worker.
func (h *Handler) SessionLive(c *gin.Context) {
	if h.roster == nil {
		respondError(c, apperrors.WithMessage(apperrors.ErrResourceUnavailable, "live roster is not configured"))
		return
	}
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	entries, err := h.roster.List(c.Request.Context(), s.ID)
	if err != nil {
		respondError(c, apperrors.Wrap(apperrors.ErrInternal, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.ID,
		"expires_at": s.ExpiresAt,
		"count":      len(entries),
		"students":   entries,
	})
}

// ---------- Students ----------

// Me returns the stored profile of the calling student.
func (h *Handler) Me(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	st, err := h.att.Student(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
