package handlers

import (
	"net/http"

	"extranet-system/internal/gateway/middleware"
	"extranet-system/internal/services/users"

	"github.com/gin-gonic/gin"
)

type AuthHTTPHandler struct {
	users *users.Service
}

func NewAuthHTTPHandler(users *users.Service) *AuthHTTPHandler {
	return &AuthHTTPHandler{users: users}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type ChangeOwnPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

func (h *AuthHTTPHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.users.Login(ctx, req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("login successful", res))
}

// RequestPasswordReset answers the same way whether or not the address is
// known.
func (h *AuthHTTPHandler) RequestPasswordReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.users.RequestPasswordReset(ctx, req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, successResponse("if the address is known, an administrator will contact you", nil))
}

func (h *AuthHTTPHandler) ChangeOwnPassword(c *gin.Context) {
	var req ChangeOwnPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format", "INVALID_REQUEST"))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.users.ChangeOwnPassword(ctx, middleware.UserID(c), req.CurrentPassword, req.Password, req.PasswordConfirm); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("password changed", nil))
}
