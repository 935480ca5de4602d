package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/devices"
	"github.com/xkilldash9x/humshakals/internal/orchestrator"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func message(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, Response{Success: true, Message: msg})
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: err.Error()})
}

// failFor maps domain errors onto HTTP status codes.
func failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownDevice), errors.Is(err, devices.ErrNotFound):
		fail(c, http.StatusNotFound, err)
	case errors.Is(err, devices.ErrDuplicate), errors.Is(err, browser.ErrNotAvailable):
		fail(c, http.StatusConflict, err)
	case errors.Is(err, devices.ErrNotCustom), errors.Is(err, schemas.ErrInvalidDevice):
		fail(c, http.StatusBadRequest, err)
	case errors.Is(err, browser.ErrClosed):
		fail(c, http.StatusGone, err)
	default:
		fail(c, http.StatusInternalServerError, err)
	}
}
