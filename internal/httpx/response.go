package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/edufund/supportchat/backend/internal/apperr"
	"github.com/edufund/supportchat/backend/internal/utils"
)

func OK(c *gin.Context, v any) {
	c.JSON(200, v)
}

func Created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// Status maps an error onto its HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, apperr.ErrTimeout) && !errors.Is(err, apperr.ErrAuth):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Fail renders err with its mapped status. Internal errors are not echoed to the client.
func Fail(c *gin.Context, err error) {
	code := Status(err)
	_ = c.Error(err)
	if code == http.StatusInternalServerError {
		Err(c, code, "internal server error")
		return
	}
	Err(c, code, err.Error())
}

// Bind decodes the JSON body into v. On failure it renders a 400 and returns false.
func Bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return false
		}
		Err(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
