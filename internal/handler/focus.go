package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"focusattend/internal/auth"
	"focusattend/internal/errs"
)

func (h *Handler) enterFocus(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	ch, err := h.registry.Enter(c.Request.Context(), c.Param("id"), claims.Subject)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch.Snapshot())
}

func (h *Handler) verifyCode(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	ch, ok := h.registry.Get(c.Param("id"), claims.Subject)
	if !ok {
		abortWithError(c, errs.ErrNotFound)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := ch.Submit(c.Request.Context(), req.Code)
	snap := ch.Snapshot()
	if err != nil {
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, errs.ErrEmptyCode), errors.Is(err, errs.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, errs.ErrChallengeOver):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "challenge": snap})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) exitFocus(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	if err := h.registry.Exit(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "exited"})
}

func (h *Handler) focusState(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	ch, ok := h.registry.Get(c.Param("id"), claims.Subject)
	if !ok {
		abortWithError(c, errs.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, ch.Snapshot())
}
