package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/repository"
	"github.com/framehost/authcore/internal/transport/http/middleware"
	"github.com/framehost/authcore/internal/usecase"
)

const listLimit = 100

// ImageHandler exposes the image endpoints. Thin by design: the interesting
// work happens in the gateway's upload screening; storage and listing are
// pass-throughs.
type ImageHandler struct {
	gateway   *usecase.AuthorizationGateway
	moderator *usecase.ContentModerator
	uploads   port.UploadRepository
	store     port.ObjectStore
	maxBytes  int64
	logger    *zap.Logger
}

// NewImageHandler constructs ImageHandler.
func NewImageHandler(gateway *usecase.AuthorizationGateway, moderator *usecase.ContentModerator, uploads port.UploadRepository, store port.ObjectStore, maxBytes int64, log *zap.Logger) *ImageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &ImageHandler{
		gateway:   gateway,
		moderator: moderator,
		uploads:   uploads,
		store:     store,
		maxBytes:  maxBytes,
		logger:    log,
	}
}

// RegisterRoutes binds the image routes. Uploads sit under the upload quota
// class; reads and deletes count against the cheaper API class.
func (h *ImageHandler) RegisterRoutes(r *gin.RouterGroup, uploadGate, apiGate gin.HandlerFunc) {
	r.POST("", uploadGate, h.upload)
	r.GET("", apiGate, h.list)
	r.DELETE("/:id", apiGate, h.remove)
}

func (h *ImageHandler) upload(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	if c.Request.ContentLength > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, NewErrorResponse(c, "upload exceeds size limit"))
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "failed to read upload"))
		return
	}
	if int64(len(data)) > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, NewErrorResponse(c, "upload exceeds size limit"))
		return
	}

	imageID := uuid.NewString()
	declared := header.Header.Get("Content-Type")

	result, verdict, err := h.gateway.ScreenUpload(c.Request.Context(), identity.ID, imageID, header.Filename, declared, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "upload screening failed"))
		return
	}
	if !verdict.Allowed {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "upload rejected by content screening"))
		return
	}

	objectKey := fmt.Sprintf("%s/%s", identity.ID, imageID)
	if err := h.store.Put(c.Request.Context(), objectKey, data, string(result.Sniffed)); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to store upload"))
		return
	}

	upload := domain.Upload{
		ID:         imageID,
		IdentityID: identity.ID,
		Filename:   header.Filename,
		SizeBytes:  int64(len(data)),
		Mime:       result.Sniffed,
		ObjectKey:  objectKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.uploads.Create(c.Request.Context(), upload); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to record upload"))
		return
	}

	// Pattern heuristics run off the request path and never block the
	// response. The gin context is pooled and reused once the handler
	// returns, so everything the goroutine needs is captured here.
	analysisCtx := context.WithoutCancel(c.Request.Context())
	go func(ctx context.Context, id string) {
		if err := h.moderator.AnalyzePatterns(ctx, id); err != nil {
			h.logger.Warn("pattern analysis failed", zap.String("identity_id", id), zap.Error(err))
		}
	}(analysisCtx, identity.ID)

	c.JSON(http.StatusCreated, newUploadResponse(upload))
}

func (h *ImageHandler) list(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	uploads, err := h.uploads.ListByIdentity(c.Request.Context(), identity.ID, listLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list images"))
		return
	}

	out := make([]UploadResponse, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, newUploadResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"images": out})
}

func (h *ImageHandler) remove(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	upload, err := h.uploads.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, NewErrorResponse(c, "image not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load image"))
		return
	}
	if upload.IdentityID != identity.ID {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "image not found"))
		return
	}

	if err := h.store.Delete(c.Request.Context(), upload.ObjectKey); err != nil {
		h.logger.Warn("delete object failed", zap.String("object_key", upload.ObjectKey), zap.Error(err))
	}

	if err := h.uploads.Delete(c.Request.Context(), upload.ID); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to delete image"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "image deleted"})
}
