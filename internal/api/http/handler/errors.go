package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EternisAI/silo-config/internal/auth"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/rotation"
	"github.com/EternisAI/silo-config/pkg/configapi"
	"github.com/EternisAI/silo-config/pkg/settings"
)

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, registration.ErrAuthenticationFailure):
		return http.StatusUnauthorized, "authentication failed"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, registration.ErrUnknownClient):
		return http.StatusNotFound, "client is not registered"
	case errors.Is(err, rotation.ErrStaleRotation):
		return http.StatusConflict, err.Error()
	case errors.Is(err, rotation.ErrSameSecret),
		errors.Is(err, registration.ErrInvalidRequest),
		errors.Is(err, settings.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err)
	}
	_ = c.Error(err)
	c.JSON(status, configapi.ErrorResponse{Error: msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, configapi.ErrorResponse{Error: err.Error()})
}
