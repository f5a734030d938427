package controllers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CUknot/yolo_backend/photos"
)

const maxPhotoBytes = 10 << 20

// UploadPhoto godoc
// @Summary Upload a photo
// @Description Stores the multipart "photo" file and returns its key
// @Tags photos
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param photo formData file true "Image"
// @Success 201 {object} map[string]string "Stored key"
// @Failure 400 {object} map[string]string "Missing file"
// @Failure 503 {object} map[string]string "Photo storage not configured"
// @Router /api/upload [post]
func (h *Handler) UploadPhoto(c *gin.Context) {
	if h.photos == nil {
		h.respondError(c, photos.ErrNotConfigured)
		return
	}

	header, err := c.FormFile("photo")
	if err != nil {
		h.badRequest(c, fmt.Errorf("photo file is required"))
		return
	}
	if header.Size > maxPhotoBytes {
		h.badRequest(c, fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes))
		return
	}

	file, err := header.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	key, err := h.photos.Upload(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

// SignedURL godoc
// @Summary Get a temporary download URL for a photo
// @Tags photos
// @Produce json
// @Security BearerAuth
// @Param key path string true "Photo key"
// @Success 200 {object} map[string]string "Signed URL"
// @Failure 503 {object} map[string]string "Photo storage not configured"
// @Router /api/signed-url/{key} [get]
func (h *Handler) SignedURL(c *gin.Context) {
	if h.photos == nil {
		h.respondError(c, photos.ErrNotConfigured)
		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		h.badRequest(c, fmt.Errorf("key is required"))
		return
	}

	url, err := h.photos.SignedURL(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
