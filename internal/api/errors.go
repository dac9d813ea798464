package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/pneumaticqc/internal/qcerr"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, qcerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, qcerr.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, qcerr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, qcerr.ErrNoActiveModel):
		return http.StatusPreconditionFailed
	case errors.Is(err, qcerr.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
