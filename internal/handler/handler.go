package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"snapattend/internal/apperrors"
	"snapattend/internal/attendance"
	"snapattend/internal/auth"
	"snapattend/internal/queue"
	"snapattend/internal/scan"
)

// Attendance is the attendance service as seen by the API.
type Attendance interface {
	Submit(ctx context.Context, sub attendance.Submission) attendance.Outcome
	CreateSession(ctx context.Context, req attendance.SessionRequest) (*attendance.Session, error)
	Session(ctx context.Context, id string) (*attendance.Session, error)
	Records(ctx context.Context, sessionID string) ([]attendance.Record, error)
	Student(ctx context.Context, id string) (*attendance.Student, error)
}

// Sessions exchanges ID tokens and handles logout.
type Sessions interface {
	Exchange(ctx context.Context, idToken, deviceID string) (auth.Login, error)
	Logout(ctx context.Context, claims auth.Claims) (auth.Cooldown, error)
}

// Roster reads live session rosters.
type Roster interface {
	List(ctx context.Context, sessionID string) ([]queue.RosterEntry, error)
}

// Observer receives API level counters.
type Observer interface {
	SessionOpened()
	ObserveDecode(result string)
}

// Pinger reports the health of a dependency.
type Pinger interface {
	Healthy(ctx context.Context) bool
}

// Deps are the collaborators of the handlers. Roster, Observer and Redis may be nil.
type Deps struct {
	Attendance Attendance
	Sessions   Sessions
	Roster     Roster
	Decoder    scan.Decoder
	Observer   Observer
	DB         Pinger
	Redis      Pinger
	Logger     *zap.Logger
}

type Handler struct {
	att      Attendance
	sessions Sessions
	roster   Roster
	decoder  scan.Decoder
	observer Observer
	db       Pinger
	redis    Pinger
	logger   *zap.Logger
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Decoder == nil {
		d.Decoder = scan.NewZXingDecoder()
	}
	return &Handler{
		att:      d.Attendance,
		sessions: d.Sessions,
		roster:   d.Roster,
		decoder:  d.Decoder,
		observer: d.Observer,
		db:       d.DB,
		redis:    d.Redis,
		logger:   d.Logger,
	}
}

func respondError(c *gin.Context, err error) {
	e := apperrors.FromError(err)
	if e.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(e.Status, e.Response())
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbHealthy := h.db != nil && h.db.Healthy(ctx)
	body := gin.H{"status": "ok", "db": dbHealthy}
	status := http.StatusOK
	if !dbHealthy {
		status = http.StatusServiceUnavailable
	}
	if h.redis != nil {
		redisHealthy := h.redis.Healthy(ctx)
		body["redis"] = redisHealthy
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
