package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

// ClearCache drops every cached embedding and records who did it.
func (h *Handler) ClearCache(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	n, err := h.Cache.Clear(ctx)
	if err != nil {
		h.Log.WithError(err).Warn("cache clear incomplete")
	}
	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		ActorKey:  caller.ExternalKey,
		Action:    model.AuditCacheClear,
		Detail:    fmt.Sprintf("%d keys", n),
		CreatedAt: h.Clock.Now().UTC(),
	}
	if err := h.uow().Audit().Append(ctx, entry); err != nil {
		h.respondError(c, apperror.StoreUnavailable(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

// ListAudit returns the newest audit entries, ?limit= defaults to 50.
func (h *Handler) ListAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		h.respondError(c, invalid("limit must be between 1 and 500"))
		return
	}
	entries, err := h.uow().Audit().List(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, apperror.StoreUnavailable(err))
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
