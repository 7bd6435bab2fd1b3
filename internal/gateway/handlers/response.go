package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"extranet-system/internal/services/archive"
	"extranet-system/internal/services/cart"
	"extranet-system/internal/services/orders"
	"extranet-system/internal/services/users"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const requestTimeout = 10 * time.Second

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

func errorResponse(message, code string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Error:   code,
	}
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid "+name, "INVALID_ID"))
		return 0, false
	}
	return id, true
}

// respondError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func respondError(c *gin.Context, err error) {
	var verr *users.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Message: "validation failed",
			Error:   "VALIDATION_FAILED",
			Data:    verr.Fields,
		})
	case errors.Is(err, archive.ErrArchiveNotFound),
		errors.Is(err, archive.ErrOrderNotFound),
		errors.Is(err, archive.ErrUserNotFound),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, users.ErrUserNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error(), "NOT_FOUND"))
	case errors.Is(err, archive.ErrExpired):
		c.JSON(http.StatusGone, errorResponse("the restore period is over, the archive has been removed", "EXPIRED"))
	case errors.Is(err, archive.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error(), "CONFLICT"))
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorResponse(err.Error(), "INVALID_CREDENTIALS"))
	case errors.Is(err, orders.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "EMPTY_CART"))
	case errors.Is(err, orders.ErrNoClient):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "NO_CLIENT"))
	case errors.Is(err, cart.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "INVALID_QUANTITY"))
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal server error", "INTERNAL_ERROR"))
	}
}
