// Package handler provides the HTTP handlers for annotation, auth and
// image operations.
package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/auth"
	"github.com/map-annotator/backend/internal/blob"
	"github.com/map-annotator/backend/internal/cache"
	"github.com/map-annotator/backend/internal/database"
	"github.com/map-annotator/backend/internal/models"
)

// maxImageBytes caps marker imagery uploads.
const maxImageBytes = 5 << 20

// Handler provides HTTP handlers for annotation operations.
type Handler struct {
	repo   database.Repository
	cache  cache.Cache
	auth   *auth.Service
	blobs  blob.Store
	logger *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(repo database.Repository, cache cache.Cache, authSvc *auth.Service, blobs blob.Store, logger *zap.Logger) *Handler {
	return &Handler{
		repo:   repo,
		cache:  cache,
		auth:   authSvc,
		blobs:  blobs,
		logger: logger,
	}
}

// RegisterRoutes registers all routes on the given router group. Annotation
// and image routes require a valid session token.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/signup", h.SignUp)
	rg.POST("/auth/signin", h.SignIn)
	rg.POST("/auth/signout", h.SignOut)

	protected := rg.Group("", auth.Middleware(h.auth))
	protected.POST("/annotations", h.Create)
	protected.GET("/annotations", h.GetAll)
	protected.GET("/annotations/:id", h.GetByID)
	protected.PUT("/annotations/:id", h.Update)
	protected.PATCH("/annotations/:id", h.Update)
	protected.DELETE("/annotations/:id", h.Delete)
	protected.POST("/images", h.UploadImage)
}

// SignUp registers a new account.
func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.auth.SignUp(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPasswordMismatch):
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "passwords do not match",
			})
		case errors.Is(err, models.ErrEmailTaken):
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error:   "email_taken",
				Message: "email already registered",
			})
		default:
			h.logger.Error("Sign-up failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "internal_error",
				Message: "failed to sign up",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// SignIn authenticates an email/password pair.
func (h *Handler) SignIn(c *gin.Context) {
	var req models.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.auth.SignIn(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "invalid_credentials",
				Message: "invalid email or password",
			})
			return
		}
		h.logger.Error("Sign-in failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: "failed to sign in",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SignOut invalidates the caller's token.
func (h *Handler) SignOut(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "missing or malformed Authorization header",
		})
		return
	}

	if err := h.auth.SignOut(c.Request.Context(), parts[1]); err != nil {
		// A denylist outage is a server fault; only verification failures
		// mean the caller's token was bad.
		if errors.Is(err, models.ErrSignOutUnavailable) {
			h.logger.Error("Sign-out could not be recorded", zap.Error(err))
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "internal_error",
				Message: "failed to sign out",
			})
			return
		}
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "unauthorized",
			Message: "invalid token",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// Create handles the creation of a new annotation.
func (h *Handler) Create(c *gin.Context) {
	var req models.CreateAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid create request", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	if msg, ok := validateAnnotationFields(req.Latitude, req.Longitude, &req.IconCategory); !ok {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: msg,
		})
		return
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "end date must not be before start date",
		})
		return
	}

	ctx := c.Request.Context()
	annotation, err := h.repo.Create(ctx, &req)
	if err != nil {
		h.logger.Error("Failed to create annotation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: "failed to create annotation",
		})
		return
	}

	// Cache the new annotation
	_ = h.cache.Set(ctx, annotation)

	c.JSON(http.StatusCreated, models.AnnotationResponse{Data: *annotation})
}

// GetAll handles retrieving all annotations. The response is unfiltered by
// expiry; clients drop expired markers when they load.
func (h *Handler) GetAll(c *gin.Context) {
	ctx := c.Request.Context()

	// Try cache first
	annotations, found, err := h.cache.GetAll(ctx)
	if err == nil && found {
		h.logger.Debug("Returning cached annotations")
		c.JSON(http.StatusOK, models.AnnotationsResponse{Data: annotations})
		return
	}

	// Cache miss, get from database
	annotations, err = h.repo.GetAll(ctx)
	if err != nil {
		h.logger.Error("Failed to get annotations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: "failed to retrieve annotations",
		})
		return
	}

	// Update cache
	_ = h.cache.SetAll(ctx, annotations)

	c.JSON(http.StatusOK, models.AnnotationsResponse{Data: annotations})
}

// GetByID handles retrieving a single annotation by ID.
func (h *Handler) GetByID(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	// Try cache first
	annotation, err := h.cache.Get(ctx, id)
	if err == nil && annotation != nil {
		h.logger.Debug("Returning cached annotation", zap.String("id", id))
		c.JSON(http.StatusOK, models.AnnotationResponse{Data: *annotation})
		return
	}

	// Cache miss, get from database
	annotation, err = h.repo.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("Failed to get annotation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: "failed to retrieve annotation",
		})
		return
	}

	if annotation == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "annotation not found",
		})
		return
	}

	// Update cache
	_ = h.cache.Set(ctx, annotation)

	c.JSON(http.StatusOK, models.AnnotationResponse{Data: *annotation})
}

// Update handles updating an existing annotation.
func (h *Handler) Update(c *gin.Context) {
	id := c.Param("id")

	var req models.UpdateAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid update request", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	if req.Title != nil && *req.Title == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "title must not be empty",
		})
		return
	}
	if req.IconCategory != nil && !req.IconCategory.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "unknown icon category",
		})
		return
	}

	ctx := c.Request.Context()

	// The window check must hold for the merged record, so patches that
	// touch either date are validated against the existing annotation.
	if req.StartDate != nil || req.EndDate != nil {
		existing, err := h.repo.GetByID(ctx, id)
		if err != nil {
			h.logger.Error("Failed to get annotation", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Error:   "internal_error",
				Message: "failed to update annotation",
			})
			return
		}
		if existing == nil {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "annotation not found",
			})
			return
		}

		start, end := existing.StartDate, existing.EndDate
		if req.StartDate != nil {
			start = req.StartDate
		}
		if req.EndDate != nil {
			end = req.EndDate
		}
		if start != nil && end != nil && end.Before(*start) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_request",
				Message: "end date must not be before start date",
			})
			return
		}
	}

	annotation, err := h.repo.Update(ctx, id, &req)
	if err != nil {
		h.logger.Error("Failed to update annotation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: "failed to update annotation",
		})
		return
	}

	if annotation == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "annotation not found",
		})
		return
	}

	// Update cache
	_ = h.cache.Set(ctx, annotation)

	c.JSON(http.StatusOK, models.AnnotationResponse{Data: *annotation})
}

// Delete handles deleting an annotation. Deleting an unknown id is reported
// as not found rather than treated as an idempotent success.
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	err := h.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "not_found",
				Message: "annotation not found",
			})
			return
		}

		h.logger.Error("Failed to delete annotation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: "failed to delete annotation",
		})
		return
	}

	// Remove from cache
	_ = h.cache.Delete(ctx, id)

	c.Status(http.StatusNoContent)
}

// UploadImage stores marker imagery and returns the URL it is served from.
func (h *Handler) UploadImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "missing image file",
		})
		return
	}
	defer file.Close()

	if header.Size > maxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
			Error:   "too_large",
			Message: "image exceeds maximum size",
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: "failed to read image",
		})
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = header.Filename
	}

	url, err := h.blobs.Put(c.Request.Context(), name, data)
	if err != nil {
		h.logger.Error("Failed to store image", zap.String("name", name), zap.Error(err))
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_request",
			Message: "failed to store image",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// validateAnnotationFields checks coordinate bounds and icon category
// membership for create requests.
func validateAnnotationFields(lat, lng float64, icon *models.IconCategory) (string, bool) {
	a := models.Annotation{Latitude: lat, Longitude: lng}
	if err := a.ValidateCoordinate(); err != nil {
		return err.Error(), false
	}
	if icon != nil && !icon.Valid() {
		return "unknown icon category", false
	}
	return "", true
}
