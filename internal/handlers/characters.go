package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/services"
	apperrors "github.com/lordvitaly/lvchat/pkg/errors"
	"github.com/lordvitaly/lvchat/pkg/response"
)

type CharacterHandler struct {
	svc *services.CharacterService
}

func NewCharacterHandler(svc *services.CharacterService) *CharacterHandler {
	return &CharacterHandler{svc: svc}
}

// GET /api/characters
func (h *CharacterHandler) List(c *gin.Context) {
	names, err := h.svc.List(requestContext(c), userIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"character_names": names})
}

// GET /api/characters/:name
func (h *CharacterHandler) Get(c *gin.Context) {
	data, err := h.svc.Get(requestContext(c), c.Param("name"), userIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// POST /api/characters
func (h *CharacterHandler) Save(c *gin.Context) {
	var input services.SaveCharacterInput
	if !bindAndValidate(c, &input) {
		return
	}

	character, err := h.svc.Save(requestContext(c), userIDFrom(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, character)
}

// GET /api/get_character?name=
func (h *CharacterHandler) GetSnapshot(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		response.Error(c, apperrors.NewBadRequest("Character name not provided"))
		return
	}

	data, err := h.svc.Snapshot(requestContext(c), name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// POST /api/get_character
func (h *CharacterHandler) SaveSnapshot(c *gin.Context) {
	body, ok := readDocument(c)
	if !ok {
		return
	}

	if _, err := h.svc.SaveSnapshot(requestContext(c), body); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c)
}
