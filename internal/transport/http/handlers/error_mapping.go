package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/incplusplus/thermostat-accounts/internal/infra/security"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondPasswordError reports policy violations with their own message so
// the console can tell the user what to change.
func respondPasswordError(c *gin.Context, err error, cases []ErrorCase, fallbackMessage string) {
	var violation *security.PasswordValidationError
	if errors.Is(err, usecase.ErrPasswordPolicy) && errors.As(err, &violation) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, violation.Message))
		return
	}
	RespondWithMappedError(c, err, append(cases,
		ErrorCase{Err: usecase.ErrPasswordPolicy, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
		ErrorCase{Err: usecase.ErrPasswordMismatch, Status: http.StatusBadRequest, Message: "passwords do not match"},
	), http.StatusInternalServerError, fallbackMessage)
}
