package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"faceattend/internal/enroll"
)

// EnrollSelf adds a face sample for the caller. Expects multipart field "file".
func (h *Handler) EnrollSelf(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	up, closeFn, err := h.formImage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer closeFn()

	res, err := h.Workflow.SelfEnroll(c.Request.Context(), h.uow(), caller, up)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// EnrollOnBehalf adds a face sample for the identity in the path, creating
// it from the optional "name" and "email" form fields when unknown.
func (h *Handler) EnrollOnBehalf(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	up, closeFn, err := h.formImage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer closeFn()

	profile := enroll.Profile{
		Name:  strings.TrimSpace(c.PostForm("name")),
		Email: strings.TrimSpace(c.PostForm("email")),
	}
	res, err := h.Workflow.ProvisionOnBehalf(c.Request.Context(), h.uow(), caller, c.Param("key"), profile, up)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListMyFaces(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	samples, err := h.Workflow.ListMine(c.Request.Context(), h.uow(), caller)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"faces": samples, "count": len(samples)})
}

func (h *Handler) DeleteFace(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.Workflow.DeleteSample(c.Request.Context(), h.uow(), caller, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// formImage opens the multipart "file" field.
func (h *Handler) formImage(c *gin.Context) (enroll.Upload, func(), error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUpload)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return enroll.Upload{}, func() {}, invalid("image too large")
		}
		return enroll.Upload{}, func() {}, invalid("file field required")
	}
	return enroll.Upload{Filename: header.Filename, Body: file}, func() { file.Close() }, nil
}
