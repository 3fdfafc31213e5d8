package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"faceattend/internal/apperror"
	"faceattend/internal/blob"
	"faceattend/internal/embedding"
	"faceattend/internal/match"
)

type cameraRequest struct {
	Image     string   `json:"image" binding:"required"`
	Threshold *float64 `json:"threshold"`
}

const thresholdRange = "threshold must be greater than 0 and at most 1"

// Match ranks an uploaded image (multipart "file") against all enrolled faces.
func (h *Handler) Match(c *gin.Context) {
	out, err := h.matchRequest(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// MatchCamera ranks a base64 camera frame, optionally a data URL.
func (h *Handler) MatchCamera(c *gin.Context) {
	req, err := h.bindCamera(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	frame, err := req.frame()
	if err != nil {
		h.respondError(c, err)
		return
	}
	out, err := h.matchImage(c.Request.Context(), bytes.NewReader(frame), ".jpg", req.threshold())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CheckIn matches the presented face and marks attendance for the best
// identity. Accepts the same bodies as Match and MatchCamera.
func (h *Handler) CheckIn(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var (
		out match.Outcome
		err error
	)
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req cameraRequest
		if req, err = h.bindCamera(c); err == nil {
			var frame []byte
			if frame, err = req.frame(); err == nil {
				out, err = h.matchImage(c.Request.Context(), bytes.NewReader(frame), ".jpg", req.threshold())
			}
		}
	} else {
		out, err = h.matchRequest(c)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !out.Matched {
		c.JSON(http.StatusOK, gin.H{"matched": false, "match": out})
		return
	}

	ctx := c.Request.Context()
	uow := h.uow()
	ident, err := uow.Identities().GetByID(ctx, out.Best.IdentityID)
	if err != nil {
		h.respondError(c, apperror.StoreUnavailable(err))
		return
	}
	res, err := h.Ledger.Mark(ctx, uow, ident, caller.ExternalKey)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "match": out, "attendance": res})
}

func (h *Handler) matchRequest(c *gin.Context) (match.Outcome, error) {
	threshold, err := parseThreshold(c.Query("threshold"))
	if err != nil {
		return match.Outcome{}, err
	}
	up, closeFn, err := h.formImage(c)
	if err != nil {
		return match.Outcome{}, err
	}
	defer closeFn()
	ext := filepath.Ext(up.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	return h.matchImage(c.Request.Context(), up.Body, ext, threshold)
}

// matchImage spools the image to a temp file for the provider, which is
// removed on every path.
func (h *Handler) matchImage(ctx context.Context, r io.Reader, ext string, threshold float64) (match.Outcome, error) {
	path, cleanup, err := blob.TempFile(h.TempDir, "query-*"+ext, r)
	defer cleanup()
	if err != nil {
		return match.Outcome{}, apperror.Wrap(err, apperror.CodeInternalError, "failed to buffer image", http.StatusInternalServerError)
	}

	extr, err := h.Provider.Embed(ctx, path)
	if err != nil {
		return match.Outcome{}, apperror.ProviderUnavailable(err)
	}
	if extr == nil || len(extr.Vector) == 0 {
		return match.Outcome{}, apperror.ErrNoFaceDetected
	}
	if len(extr.Vector) > embedding.MaxDimension {
		return match.Outcome{}, apperror.ErrEmbeddingExtractionFailed
	}
	return h.Engine.Match(ctx, h.uow(), extr.Vector, threshold)
}

func parseThreshold(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil || t <= 0 || t > 1 {
		return 0, invalid(thresholdRange)
	}
	return t, nil
}

// bindCamera decodes a JSON camera body. The body may hold a base64 frame
// of at most MaxUpload decoded bytes.
func (h *Handler) bindCamera(c *gin.Context) (cameraRequest, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUpload/3*4+4096)
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, invalid("image too large")
		}
		return req, invalid(`provide {"image": "<base64 data URL>"}`)
	}
	if req.Threshold != nil && (*req.Threshold <= 0 || *req.Threshold > 1) {
		return req, invalid(thresholdRange)
	}
	return req, nil
}

func (r cameraRequest) threshold() float64 {
	if r.Threshold == nil {
		return 0
	}
	return *r.Threshold
}

func (r cameraRequest) frame() ([]byte, error) {
	return decodeFrame(r.Image)
}

func decodeFrame(image string) ([]byte, error) {
	if _, data, ok := strings.Cut(image, ","); ok && strings.HasPrefix(image, "data:") {
		image = data
	}
	frame, err := base64.StdEncoding.DecodeString(strings.TrimSpace(image))
	if err != nil || len(frame) == 0 {
		return nil, invalid("image is not valid base64")
	}
	return frame, nil
}
