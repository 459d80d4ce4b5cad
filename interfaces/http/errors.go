package http

import (
	"errors"
	"net/http"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

// StatusFor maps a usecase error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidOrExpiredState),
		errors.Is(err, model.ErrInvalidCallbackURL),
		errors.Is(err, model.ErrTokenExchangeFailed):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAccountNotFoundOrAccessDenied),
		errors.Is(err, model.ErrPostNotFoundOrAccessDenied):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNoLinkedAccounts),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrPublishNotSupportedForPlatform),
		errors.Is(err, model.ErrUnknownPlatform):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrRefreshUnavailable),
		errors.Is(err, model.ErrRefreshFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the mapped status. Internal errors are logged and not echoed.
func abortWithError(ctx *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.GetLogger().WithField("path", ctx.FullPath()).WithField("error", err).Error("Request failed")
		ctx.AbortWithStatusJSON(status, gin.H{"error": "internal server error"})
		return
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func currentUser(ctx *gin.Context) (string, bool) {
	userID := ctx.GetString("user_id")
	if userID == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: missing user_id"})
		return "", false
	}
	return userID, true
}
