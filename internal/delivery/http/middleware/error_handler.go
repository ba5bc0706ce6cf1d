package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/syncd/syncd/pkg/errors"
)

// ErrorHandler converts any error left on the gin context by a handler
// into a consistent JSON error response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			RespondWithError(c, c.Errors.Last().Err)
		}
	}
}

// RespondWithError writes err as a JSON error response and aborts the
// request. Handlers call this directly instead of c.JSON for error paths.
func RespondWithError(c *gin.Context, err error) {
	var constraintErr *errors.ConstraintError
	if stderrors.As(err, &constraintErr) {
		c.JSON(constraintErr.HTTPStatus, errorBody(constraintErr.AppError))
		c.Abort()
		return
	}

	var backoffErr *errors.BackoffError
	if stderrors.As(err, &backoffErr) {
		c.Header("Retry-After", backoffErr.NotBefore.UTC().Format(http.TimeFormat))
		c.JSON(backoffErr.HTTPStatus, errorBody(backoffErr.AppError))
		c.Abort()
		return
	}

	var dispatchErr *errors.DispatchError
	if stderrors.As(err, &dispatchErr) {
		c.JSON(dispatchErr.HTTPStatus, errorBody(dispatchErr.AppError))
		c.Abort()
		return
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, errorBody(appErr))
		c.Abort()
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error": gin.H{
			"code":    errors.ErrCodeInternal,
			"message": "an unexpected error occurred",
		},
	})
	c.Abort()
}

func errorBody(err *errors.AppError) gin.H {
	body := gin.H{
		"success": false,
		"error": gin.H{
			"code":    err.Code,
			"message": err.Message,
		},
	}
	if err.Details != "" {
		body["error"].(gin.H)["details"] = err.Details
	}
	return body
}

// RespondWithNotFound is a helper for not-found errors.
func RespondWithNotFound(c *gin.Context, resource string) {
	RespondWithError(c, errors.ErrNotFound(resource))
}

// RespondWithBadRequest is a helper for malformed-request errors.
func RespondWithBadRequest(c *gin.Context, message string) {
	RespondWithError(c, errors.ErrBadRequest(message))
}
