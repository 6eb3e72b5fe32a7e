package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cidadao-ai/vigia/pkg/services"
)

// abortWithError writes the uniform error body.
func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// mapServiceError translates service-layer errors to HTTP responses.
func mapServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "investigation not found")
	case errors.Is(err, services.ErrInvalidTransition):
		abortWithError(c, http.StatusConflict, "investigation is in a state that does not allow this operation")
	case errors.Is(err, services.ErrConcurrentModification):
		abortWithError(c, http.StatusConflict, "investigation was modified concurrently, retry")
	case services.IsValidationError(err):
		abortWithError(c, http.StatusBadRequest, err.Error())
	default:
		abortWithError(c, http.StatusInternalServerError, "internal error")
	}
}
