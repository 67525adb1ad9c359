package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"focusattend/internal/auth"
	"focusattend/internal/record"
)

// recentRecords lists the viewer's newest records: owners see sessions they
// ran, participants see sessions they appeared in. Hidden records stay out.
func (h *Handler) recentRecords(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "record store unavailable"})
		return
	}
	claims, _ := auth.FromContext(c)
	limit := h.cfg.RecentRecordLimit

	var (
		records []record.Record
		err     error
	)
	if claims.Role == auth.RoleOwner {
		records, err = h.records.ListRecentByOwner(c.Request.Context(), claims.Subject, limit)
	} else {
		records, err = h.records.ListRecentByUser(c.Request.Context(), claims.Subject, limit)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	if records == nil {
		records = []record.Record{}
	}
	// HiddenBy is bookkeeping, not response payload.
	for i := range records {
		records[i].HiddenBy = nil
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// hideRecord removes the record from the viewer's lists only.
func (h *Handler) hideRecord(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "record store unavailable"})
		return
	}
	claims, _ := auth.FromContext(c)
	if err := h.records.Hide(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "hidden"})
}
