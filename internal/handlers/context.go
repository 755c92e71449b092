package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/services"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// userIDFrom reads the user_id query parameter, defaulting to "default".
func userIDFrom(c *gin.Context) string {
	return services.NormaliseUserID(c.Query("user_id"))
}
