package http

import (
	stderrors "errors"
	"net/http"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/pkg/errors"
	"livemap/pkg/protocol"
	"livemap/pkg/validation"

	"github.com/gin-gonic/gin"
)

// LocationHandler is the REST surface for clients without a live
// WebSocket: position reports, catch-up pulls and consent management.
// Reports submitted here flow through the same dispatcher as WebSocket
// reports, so connected viewers still get pushes.
type LocationHandler struct {
	dispatch  ports.DispatchService
	locations ports.LocationService
	consent   ports.ConsentService
}

func NewLocationHandler(
	dispatch ports.DispatchService,
	locations ports.LocationService,
	consent ports.ConsentService,
) *LocationHandler {
	return &LocationHandler{
		dispatch:  dispatch,
		locations: locations,
		consent:   consent,
	}
}

func (h *LocationHandler) SetupRoutes(api *gin.RouterGroup) {
	loc := api.Group("/location")
	{
		loc.POST("/update", h.UpdateLocation)
		loc.GET("/friends", h.GetFriends)
		loc.POST("/toggle", h.ToggleSharing)
		loc.POST("/share-with", h.ShareWith)
		loc.POST("/stop-sharing-with", h.StopSharingWith)
		loc.GET("/my-sharing", h.MySharing)
	}
}

type UpdateLocationRequest struct {
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	AccuracyMeters float64    `json:"accuracy_meters"`
	CapturedAt     *time.Time `json:"captured_at"`
}

type ToggleSharingRequest struct {
	Enabled bool `json:"enabled"`
}

type ConsentRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
}

// UpdateLocation accepts a position report over REST. Reports without a
// capture time get stamped with the receive time; a stale report is a
// silent success, matching the push path.
func (h *LocationHandler) UpdateLocation(c *gin.Context) {
	userID := currentUserID(c)

	var req UpdateLocationRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := validation.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateAccuracy(req.AccuracyMeters); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	capturedAt := time.Now()
	if req.CapturedAt != nil {
		if err := validation.ValidateCapturedAt(*req.CapturedAt, capturedAt); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
		capturedAt = *req.CapturedAt
	}

	sample := domain.LocationSample{
		UserID:         userID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.AccuracyMeters,
		CapturedAt:     capturedAt,
	}

	if err := h.dispatch.Dispatch(c.Request.Context(), sample); err != nil {
		c.Error(fromDomainError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetFriends returns the latest sample of every user visible to the
// caller, staleness flagged. The response carries the same shape as the
// WebSocket all_locations message so clients reconcile both paths with
// one code path.
func (h *LocationHandler) GetFriends(c *gin.Context) {
	userID := currentUserID(c)

	samples, err := h.locations.SamplesForViewer(c.Request.Context(), userID)
	if err != nil {
		c.Error(fromDomainError(err))
		return
	}

	locations := make([]protocol.LocationUpdate, 0, len(samples))
	for _, vs := range samples {
		locations = append(locations, protocol.LocationUpdate{
			OwnerID:        string(vs.UserID),
			OwnerName:      vs.OwnerName,
			OwnerAvatar:    vs.OwnerAvatar,
			Latitude:       vs.Latitude,
			Longitude:      vs.Longitude,
			AccuracyMeters: vs.AccuracyMeters,
			CapturedAt:     vs.CapturedAt,
			IsStale:        vs.IsStale,
		})
	}

	c.JSON(http.StatusOK, gin.H{"locations": locations})
}

func (h *LocationHandler) ToggleSharing(c *gin.Context) {
	userID := currentUserID(c)

	var req ToggleSharingRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := h.consent.SetSharing(c.Request.Context(), userID, req.Enabled); err != nil {
		c.Error(fromDomainError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

func (h *LocationHandler) ShareWith(c *gin.Context) {
	userID := currentUserID(c)

	viewer, ok := h.bindConsentTarget(c)
	if !ok {
		return
	}

	if err := h.consent.ShareWith(c.Request.Context(), userID, viewer); err != nil {
		c.Error(fromDomainError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *LocationHandler) StopSharingWith(c *gin.Context) {
	userID := currentUserID(c)

	viewer, ok := h.bindConsentTarget(c)
	if !ok {
		return
	}

	if err := h.consent.StopSharingWith(c.Request.Context(), userID, viewer); err != nil {
		c.Error(fromDomainError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *LocationHandler) MySharing(c *gin.Context) {
	userID := currentUserID(c)

	overview, err := h.locations.MySharing(c.Request.Context(), userID)
	if err != nil {
		c.Error(fromDomainError(err))
		return
	}

	c.JSON(http.StatusOK, overview)
}

func (h *LocationHandler) bindConsentTarget(c *gin.Context) (domain.UserID, bool) {
	var req ConsentRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return "", false
	}
	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.UserID(req.UserID), true
}

// currentUserID reads the identity the auth middleware stored.
func currentUserID(c *gin.Context) domain.UserID {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(domain.UserID); ok {
			return id
		}
	}
	return ""
}

// fromDomainError maps core errors to transport errors. ErrStaleSample
// is deliberately absent; the dispatcher swallows it as a silent success.
func fromDomainError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, domain.ErrInvalidTarget):
		return errors.NewInvalidInputError("invalid target user")
	case stderrors.Is(err, domain.ErrSampleNotFound):
		return errors.NewNotFoundError("location")
	case stderrors.Is(err, domain.ErrUserNotFound):
		return errors.NewNotFoundError("user")
	case stderrors.Is(err, domain.ErrSharingDisabled):
		return errors.NewForbiddenError("sharing is disabled")
	default:
		return errors.WrapError(err, errors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}
