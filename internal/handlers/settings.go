package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/services"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
	"github.com/lordvitaly/lvchat/pkg/response"
)

type SettingsHandler struct {
	svc *services.SettingsService
}

func NewSettingsHandler(svc *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{svc: svc}
}

// GET /api/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	data, err := h.svc.Get(requestContext(c), userIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// POST /api/settings
func (h *SettingsHandler) Save(c *gin.Context) {
	var input services.Settings
	if err := c.ShouldBindJSON(&input); err != nil || input == nil {
		response.Error(c, apperrors.NewBadRequest("invalid JSON payload"))
		return
	}

	settings, err := h.svc.Save(requestContext(c), userIDFrom(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}
