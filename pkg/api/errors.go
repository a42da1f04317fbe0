package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sagekit/sage/pkg/services"
)

// mapServiceError writes the HTTP error response for a service-layer error.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: validErr.Error()})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "job not found"})
		return
	}
	if errors.Is(err, services.ErrJobNotTerminal) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "job has not finished"})
		return
	}
	if errors.Is(err, services.ErrJobTerminal) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "job already finished"})
		return
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
