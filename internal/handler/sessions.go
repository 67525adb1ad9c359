package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"focusattend/internal/auth"
	"focusattend/internal/geo"
	"focusattend/internal/metrics"
	"focusattend/internal/participant"
	"focusattend/internal/session"
)

type sessionView struct {
	ID               string     `json:"id"`
	Code             string     `json:"code,omitempty"`
	OwnerID          string     `json:"ownerId"`
	Label            string     `json:"label"`
	ThresholdMinutes int        `json:"thresholdMinutes"`
	RadiusMeters     int        `json:"radiusMeters"`
	OwnerLocation    *geo.Point `json:"ownerLocation,omitempty"`
	Status           string     `json:"status"`
	CreatedAt        int64      `json:"createdAt,omitempty"`
	EndsAtMs         int64      `json:"endsAtMs"`
}

// sessionToView hides the shareable code from anyone but the owner.
func sessionToView(s session.Session, viewerID string) sessionView {
	v := sessionView{
		ID:               s.ID,
		OwnerID:          s.OwnerID,
		Label:            s.Label,
		ThresholdMinutes: s.ThresholdMinutes,
		RadiusMeters:     s.RadiusMeters,
		OwnerLocation:    s.OwnerLocation,
		Status:           string(s.Status),
		CreatedAt:        s.CreatedAt,
		EndsAtMs:         s.EndsAtMs,
	}
	if s.OwnerID == viewerID {
		v.Code = s.Code
	}
	return v
}

func (h *Handler) createSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req struct {
		Label            string     `json:"label" binding:"required"`
		ThresholdMinutes int        `json:"thresholdMinutes" binding:"required"`
		RadiusMeters     int        `json:"radiusMeters" binding:"required"`
		OwnerLocation    *geo.Point `json:"ownerLocation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.sessions.Create(c.Request.Context(), claims.Subject, req.Label,
		req.ThresholdMinutes, req.RadiusMeters, req.OwnerLocation)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.scheduler.Track(sess)
	metrics.SessionsStarted.Inc()
	c.JSON(http.StatusCreated, sessionToView(sess, claims.Subject))
}

func (h *Handler) stopSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	id := c.Param("id")

	sess, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if sess.OwnerID != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the session owner"})
		return
	}

	// Optional owner status overrides collected on the summary screen.
	var req struct {
		Overrides map[string]string `json:"overrides"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.sessions.Stop(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	h.scheduler.SessionStopped(c.Request.Context(), id, req.Overrides)
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *Handler) getSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionToView(sess, claims.Subject))
}

func (h *Handler) listActive(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	sessions, err := h.sessions.ListActive(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionToView(s, claims.Subject))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (h *Handler) joinSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req struct {
		Location *geo.Point `json:"location"`
		ImageRef *string    `json:"imageRef"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	p, err := h.tracker.Join(c.Request.Context(), c.Param("id"), claims.Subject, participant.Profile{
		DisplayName:   claims.Name,
		ContactHandle: claims.Contact,
		ImageRef:      req.ImageRef,
	}, req.Location)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) uploadSnapshot(c *gin.Context) {
	if h.cdn == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "snapshot upload not configured"})
		return
	}
	var req struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.cdn.UploadSnapshot(c.Request.Context(), c.Param("id"), req.Data)
	if err != nil {
		h.log.Warn("snapshot upload failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imageRef": res.SecureURL})
}
