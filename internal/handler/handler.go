// Package handler exposes the engine over HTTP and WebSocket using gin.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"focusattend/internal/auth"
	"focusattend/internal/challenge"
	"focusattend/internal/cloudinary"
	"focusattend/internal/config"
	"focusattend/internal/errs"
	"focusattend/internal/participant"
	"focusattend/internal/record"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

// Records is the slice of the record repository the API needs.
type Records interface {
	ListRecentByOwner(ctx context.Context, ownerID string, limit int) ([]record.Record, error)
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]record.Record, error)
	Hide(ctx context.Context, recordID, viewerID string) error
}

// Handler wires the engine components into gin routes.
type Handler struct {
	cfg       config.App
	store     rtstore.Store
	sessions  *session.Manager
	scheduler *session.Scheduler
	tracker   *participant.Tracker
	registry  *challenge.Registry
	records   Records
	cdn       *cloudinary.Client
	log       *zap.Logger
}

// New creates the handler. cdn may be nil when Cloudinary is not configured.
func New(cfg config.App, store rtstore.Store, sessions *session.Manager, scheduler *session.Scheduler,
	tracker *participant.Tracker, registry *challenge.Registry, records Records,
	cdn *cloudinary.Client, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		scheduler: scheduler,
		tracker:   tracker,
		registry:  registry,
		records:   records,
		cdn:       cdn,
		log:       log,
	}
}

// Register mounts every route on the router.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/v1/auth/token", h.issueToken)

	authed := r.Group("/", auth.UserAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))

	owner := authed.Group("/", auth.RequireRole(auth.RoleOwner))
	owner.POST("/v1/sessions", h.createSession)
	owner.POST("/v1/sessions/:id/stop", h.stopSession)

	authed.GET("/v1/sessions/active", h.listActive)
	authed.GET("/v1/sessions/:id", h.getSession)

	part := authed.Group("/", auth.RequireRole(auth.RoleParticipant))
	part.POST("/v1/sessions/:id/join", h.joinSession)
	part.POST("/v1/sessions/:id/snapshot", h.uploadSnapshot)
	part.POST("/v1/sessions/:id/focus/enter", h.enterFocus)
	part.POST("/v1/sessions/:id/focus/verify", h.verifyCode)
	part.POST("/v1/sessions/:id/focus/exit", h.exitFocus)
	part.GET("/v1/sessions/:id/focus", h.focusState)

	authed.GET("/v1/records/recent", h.recentRecords)
	authed.POST("/v1/records/:id/hide", h.hideRecord)

	authed.GET("/ws/sessions/:id", h.watchSession)
}

func (h *Handler) issueToken(c *gin.Context) {
	var req struct {
		UserID  string `json:"userId" binding:"required"`
		Role    string `json:"role" binding:"required"`
		Name    string `json:"name"`
		Contact string `json:"contact"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, err := auth.Issue(req.UserID, req.Role, req.Name, req.Contact,
		h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"accessExp":    pair.AccessExp,
		"refreshExp":   pair.RefreshExp,
	})
}

// abortWithError maps sentinel errors to HTTP codes.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrEmptyCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, errs.ErrSessionEnded):
		c.JSON(http.StatusGone, gin.H{"error": "session ended"})
	case errors.Is(err, errs.ErrWrongCode):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrChallengeOver):
		c.JSON(http.StatusConflict, gin.H{"error": "challenge already resolved"})
	case errors.Is(err, errs.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
