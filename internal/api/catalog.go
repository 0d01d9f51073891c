package api

import (
	"io"
	"net/http"
	"strings"

	"design-marketplace/internal/service"

	"github.com/gin-gonic/gin"
)

// uploadDesign handles multipart POST /api/v1/designs
func (h *Handler) uploadDesign(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, service.MaxDesignFileSize+1<<20)

	in := service.UploadDesignInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Price:       c.PostForm("price"),
	}

	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}
		defer f.Close()

		// One byte past the limit is enough for the service to reject the upload.
		in.Data, err = io.ReadAll(io.LimitReader(f, service.MaxDesignFileSize+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}
		in.FileName = fh.Filename
	}

	design, err := h.deps.Designs.UploadDesign(c.Request.Context(), caller(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"design": design})
}

// getDesign handles GET /api/v1/designs/:id
func (h *Handler) getDesign(c *gin.Context) {
	design, err := h.deps.Designs.GetDesign(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, design)
}

// getTransaction handles GET /api/v1/transactions/:id
func (h *Handler) getTransaction(c *gin.Context) {
	tx, err := h.deps.Transactions.GetTransaction(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// serveFile handles GET /files/*path
func (h *Handler) serveFile(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" || strings.Contains(path, "..") {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	blob, err := h.deps.Files.Get(c.Request.Context(), path)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
}
