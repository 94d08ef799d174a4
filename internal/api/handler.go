package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/askwhyharsh/sonar/internal/permission"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/internal/radar"
	"github.com/askwhyharsh/sonar/internal/ratelimit"
	"github.com/askwhyharsh/sonar/internal/session"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/askwhyharsh/sonar/pkg/response"
	"github.com/askwhyharsh/sonar/pkg/validator"
	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	sessionService session.SessionService
	registry       *radar.Registry
	rateLimiter    ratelimit.RateLimiter
	validator      validator.Validator
	pinger         Pinger
	logger         logger.Logger
}

type SessionResponse struct {
	SessionID   string `json:"session_id"`
	Username    string `json:"username"`
	ChangesLeft int    `json:"changes_left"`
	MaxChanges  int    `json:"max_changes"`
	CreatedAt   string `json:"created_at"`
}

type NearbyResponse struct {
	Users           []proximity.TrackedUser `json:"users"`
	Count           int                     `json:"count"`
	HasRealLocation bool                    `json:"has_real_location"`
	Tracking        bool                    `json:"tracking"`
	Permission      permission.State        `json:"permission"`
}

// NewHandler builds the REST handlers. pinger may be nil.
func NewHandler(sessionService session.SessionService, registry *radar.Registry, rateLimiter ratelimit.RateLimiter, validator validator.Validator, pinger Pinger, log logger.Logger) *Handler {
	return &Handler{
		sessionService: sessionService,
		registry:       registry,
		rateLimiter:    rateLimiter,
		validator:      validator,
		pinger:         pinger,
		logger:         log,
	}
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		SessionID:   s.ID,
		Username:    s.Username,
		ChangesLeft: s.RemainingChanges(),
		MaxChanges:  s.MaxUsernameChanges,
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// POST /api/session/create
func (h *Handler) CreateSession(c *gin.Context) {
	ip := c.ClientIP()
	ctx := c.Request.Context()

	allowed, err := h.rateLimiter.AllowSessionCreation(ctx, ip)
	if err != nil {
		h.logger.Error("Session rate limit check failed", "ip", ip, "error", err)
		c.JSON(http.StatusInternalServerError, response.Error("Failed to check rate limit", "INTERNAL_ERROR"))
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, response.Error("Rate limit exceeded", "RATE_LIMIT"))
		return
	}

	s, err := h.sessionService.Create(ctx, ip)
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, response.Error("Failed to create session", "INTERNAL_ERROR"))
		return
	}

	c.JSON(http.StatusCreated, response.Success(toSessionResponse(s)))
}

// PATCH /api/session/username
func (h *Handler) UpdateUsername(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error("Invalid request", "INVALID_REQUEST"))
		return
	}

	if err := h.validator.ValidateUsername(req.Username); err != nil {
		respondError(c, err)
		return
	}

	s, err := h.sessionService.UpdateUsername(c.Request.Context(), sessionID(c), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(toSessionResponse(s)))
}

// POST /api/radar/initialize
func (h *Handler) InitializeRadar(c *gin.Context) {
	h.withRadar(c, func(ctx context.Context, o *radar.Orchestrator) error {
		return o.Initialize(ctx, sessionID(c))
	})
}

// POST /api/radar/tracking/start
func (h *Handler) StartTracking(c *gin.Context) {
	h.withRadar(c, func(ctx context.Context, o *radar.Orchestrator) error {
		return o.StartTracking(ctx, sessionID(c))
	})
}

// POST /api/radar/tracking/stop
func (h *Handler) StopTracking(c *gin.Context) {
	h.withRadar(c, func(_ context.Context, o *radar.Orchestrator) error {
		return o.StopTracking()
	})
}

// POST /api/radar/refresh
func (h *Handler) Refresh(c *gin.Context) {
	h.withRadar(c, func(ctx context.Context, o *radar.Orchestrator) error {
		return o.RefreshNow(ctx)
	})
}

// GET /api/radar/nearby
func (h *Handler) GetNearbyUsers(c *gin.Context) {
	o, ok := h.radarFor(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, apperrors.ErrInvalidLimit)
			return
		}
		if err := h.validator.ValidateLimit(n); err != nil {
			respondError(c, err)
			return
		}
		limit = n
	}

	resp, err := snapshot(o)
	if err != nil {
		respondError(c, err)
		return
	}
	if limit > 0 && len(resp.Users) > limit {
		resp.Users = resp.Users[:limit]
		resp.Count = limit
	}

	c.JSON(http.StatusOK, response.Success(resp))
}

// GET /api/radar/permission
func (h *Handler) GetPermission(c *gin.Context) {
	o, ok := h.radarFor(c)
	if !ok {
		return
	}

	state, err := o.CheckPermission(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"permission": state}))
}

// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":         "ok",
		"time":           time.Now().UTC().Format(time.RFC3339),
		"radar_sessions": h.registry.Len(),
	}

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	c.JSON(status, body)
}

// withRadar runs op against the session's orchestrator and answers with the
// resulting list. A failed op still answers with its error.
func (h *Handler) withRadar(c *gin.Context, op func(ctx context.Context, o *radar.Orchestrator) error) {
	o, ok := h.radarFor(c)
	if !ok {
		return
	}

	if err := op(c.Request.Context(), o); err != nil {
		respondError(c, err)
		return
	}

	resp, err := snapshot(o)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(resp))
}

func (h *Handler) radarFor(c *gin.Context) (*radar.Orchestrator, bool) {
	o, ok := h.registry.Get(sessionID(c))
	if !ok {
		respondError(c, apperrors.ErrRadarNotActive)
		return nil, false
	}
	return o, true
}

func snapshot(o *radar.Orchestrator) (NearbyResponse, error) {
	users, hasReal, err := o.Nearby()
	if err != nil {
		return NearbyResponse{}, err
	}
	tracking, err := o.Tracking()
	if err != nil {
		return NearbyResponse{}, err
	}
	if users == nil {
		users = []proximity.TrackedUser{}
	}
	return NearbyResponse{
		Users:           users,
		Count:           len(users),
		HasRealLocation: hasReal,
		Tracking:        tracking,
		Permission:      o.Permission(),
	}, nil
}
