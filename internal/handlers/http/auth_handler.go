package http

import (
	"net/http"
	"strings"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/internal/core/services"
	"livemap/pkg/errors"
	"livemap/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues development tokens and records the user's display
// profile. Production deployments put a real identity provider in front
// and only the profile upsert survives.
type AuthHandler struct {
	authService services.AuthService
	directory   ports.UserDirectory
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, directory ports.UserDirectory, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		directory:   directory,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/login", h.Login)
	}
}

type LoginRequest struct {
	UserID string `json:"user_id" binding:"required,max=100"`
	Name   string `json:"name" binding:"max=100"`
	Avatar string `json:"avatar" binding:"max=512"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Name = strings.TrimSpace(req.Name)

	if err := validation.ValidateUserID(req.UserID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	userID := domain.UserID(req.UserID)
	if err := h.directory.PutUser(c.Request.Context(), domain.User{
		ID:     userID,
		Name:   req.Name,
		Avatar: req.Avatar,
	}); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to store user profile", http.StatusInternalServerError))
		return
	}

	accessToken, err := h.authService.GenerateToken(userID, req.Name)
	if err != nil {
		c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      userID,
		"name":         req.Name,
		"access_token": accessToken,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
