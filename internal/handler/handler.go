// Package handler exposes the HTTP API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"faceattend/internal/apperror"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/cache"
	"faceattend/internal/clock"
	"faceattend/internal/enroll"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logger"
	"faceattend/internal/match"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

// DefaultMaxUpload bounds request bodies carrying images.
const DefaultMaxUpload = 10 << 20

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) bool

// Deps wires the handler to the core.
type Deps struct {
	Sessions  store.Sessions
	Workflow  *enroll.Workflow
	Engine    *match.Engine
	Ledger    *attendance.Ledger
	Provider  enroll.Provider
	Cache     cache.Cache
	Clock     clock.Clock
	TempDir   string
	MaxUpload int64
	Checks    map[string]Check
	Log       logrus.FieldLogger
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if d.MaxUpload <= 0 {
		d.MaxUpload = DefaultMaxUpload
	}
	d.Clock = clock.OrReal(d.Clock)
	d.Log = logger.OrStandard(d.Log)
	return &Handler{Deps: d}
}

// Register mounts all routes. authn must set the caller (auth.Bearer).
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1", authn)
	v1.POST("/faces/enroll", h.EnrollSelf)
	v1.POST("/identities/:key/faces", h.EnrollOnBehalf)
	v1.GET("/faces/me", h.ListMyFaces)
	v1.DELETE("/faces/:id", h.DeleteFace)

	v1.POST("/match", h.Match)
	v1.POST("/match/camera", h.MatchCamera)

	v1.POST("/attendance/checkin", h.CheckIn)
	v1.GET("/attendance/analytics", h.Analytics)
	v1.GET("/attendance/me", h.History)

	admin := v1.Group("/admin", auth.RequireAdmin())
	admin.DELETE("/cache", h.ClearCache)
	admin.GET("/audit", h.ListAudit)
}

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) uow() store.UnitOfWork { return h.Sessions.Session() }

func (h *Handler) caller(c *gin.Context) (model.Caller, bool) {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		h.respondError(c, apperror.ErrUnauthorized)
	}
	return caller, ok
}

// respondError maps err to {"error": {"code", "message"}}.
func (h *Handler) respondError(c *gin.Context, err error) {
	appErr := apperror.From(err)
	body := gin.H{"code": appErr.Code, "message": appErr.Message}
	var qe *apperror.QualityError
	if errors.As(err, &qe) {
		body["score"] = qe.Score
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.Log.WithError(err).WithFields(logrus.Fields{
			"request_id": httpmiddleware.RequestIDFrom(c.Request.Context()),
			"path":       c.Request.URL.Path,
		}).Error("request failed")
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{"error": body})
}

func invalid(msg string) error {
	return apperror.New(apperror.CodeInvalidInput, msg, apperror.ErrInvalidInput.HTTPStatus)
}
