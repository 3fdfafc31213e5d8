package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/apperror"
	"faceattend/internal/model"
)

// Analytics summarizes the caller's attendance. Administrators may ask for
// another identity with ?external_key=.
func (h *Handler) Analytics(c *gin.Context) {
	ident, ok := h.subject(c)
	if !ok {
		return
	}
	a, err := h.Ledger.Analytics(c.Request.Context(), h.uow(), ident.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"external_key": ident.ExternalKey, "analytics": a})
}

// History lists attendance records between ?from= and ?to= (YYYY-MM-DD),
// newest first. Both default to the last 30 days.
func (h *Handler) History(c *gin.Context) {
	ident, ok := h.subject(c)
	if !ok {
		return
	}
	from, err := parseDate(c.Query("from"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	recs, err := h.Ledger.History(c.Request.Context(), h.uow(), ident.ID, from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"external_key": ident.ExternalKey, "records": recs})
}

// subject resolves whose attendance is being read.
func (h *Handler) subject(c *gin.Context) (model.Identity, bool) {
	caller, ok := h.caller(c)
	if !ok {
		return model.Identity{}, false
	}
	key := caller.ExternalKey
	if other := strings.TrimSpace(c.Query("external_key")); other != "" && other != key {
		if !caller.IsAdmin() {
			h.respondError(c, apperror.ErrForbidden)
			return model.Identity{}, false
		}
		key = other
	}
	ident, err := h.uow().Identities().GetByExternalKey(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, apperror.StoreUnavailable(err))
		return model.Identity{}, false
	}
	return ident, true
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, invalid("dates must look like 2006-01-02")
	}
	return d, nil
}
