package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/lordvitaly/lvchat/pkg/errors"
)

// Response defines the uniform API envelope returned by every endpoint.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// OK writes a 200 success response without a payload.
func OK(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true})
}

// Error writes a JSON error response derived from an AppError. Server errors carry
// the internal cause so operators can diagnose storage failures from the response.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	message := appErr.Message
	if status >= http.StatusInternalServerError {
		message = appErr.Error()
	}

	c.JSON(status, Response{
		Success: false,
		Error:   message,
	})
}

// Abort writes an error response and stops the middleware chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
