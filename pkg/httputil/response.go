package httputil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/opd-queue/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    int                    `json:"code"`
	Reason  string                 `json:"reason"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// FieldError describes one failed binding rule.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithCreated sends a 201 success response
func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError sends an error response. Errors that are not AppErrors
// are reported as internal without leaking their text.
func RespondWithError(c *gin.Context, err error) {
	appErr := ToAppError(err)
	status := appErr.StatusCode()

	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    status,
			Reason:  appErr.Reason,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

// ToAppError normalizes err into the API error taxonomy.
func ToAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return bindingError(verrs)
	}
	return apperrors.Internal(err)
}

// BindError wraps a request binding failure. Malformed JSON becomes a plain
// validation error; rule failures carry the offending fields.
func BindError(err error) *apperrors.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return bindingError(verrs)
	}
	return apperrors.BadRequest("malformed request body", err)
}

func bindingError(verrs validator.ValidationErrors) *apperrors.AppError {
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "queue_action" {
			return apperrors.InvalidAction(fmt.Sprint(fe.Value()))
		}
		fields = append(fields, FieldError{Field: fe.Field(), Tag: fe.Tag()})
	}
	return apperrors.BadRequest("request validation failed", verrs).WithDetail("fields", fields)
}
