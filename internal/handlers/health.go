package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lordvitaly/lvchat/internal/store"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
	"github.com/lordvitaly/lvchat/pkg/logger"
	"github.com/lordvitaly/lvchat/pkg/response"
)

const healthTimeout = 2 * time.Second

// Health reports liveness of the storage medium. Backends without a Pinger
// are assumed healthy.
func Health(backend store.Store) gin.HandlerFunc {
	pinger, _ := backend.(store.Pinger)
	return func(c *gin.Context) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(requestContext(c), healthTimeout)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				logger.WithModule("handlers").Warn("storage health check failed", zap.Error(err))
				response.Error(c, apperrors.New("STORAGE_UNAVAILABLE", "Storage unavailable", http.StatusServiceUnavailable).WithInternal(err))
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
