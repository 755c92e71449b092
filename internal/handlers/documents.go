package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lordvitaly/lvchat/internal/services"
	"github.com/lordvitaly/lvchat/pkg/response"
)

// DocumentHandler serves session bootstrap data and generic blobs.
type DocumentHandler struct {
	sessions *services.DocumentService
	blobs    *services.DocumentService
}

func NewDocumentHandler(sessions, blobs *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{sessions: sessions, blobs: blobs}
}

// POST /api/init
func (h *DocumentHandler) CreateSession(c *gin.Context) {
	body, ok := readDocument(c)
	if !ok {
		return
	}

	id, _, err := h.sessions.Create(requestContext(c), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session_id": id})
}

// GET /api/init/:id
func (h *DocumentHandler) GetSession(c *gin.Context) {
	data, err := h.sessions.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}

// POST /api/store_data
func (h *DocumentHandler) StoreData(c *gin.Context) {
	body, ok := readDocument(c)
	if !ok {
		return
	}

	id, _, err := h.blobs.Create(requestContext(c), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id})
}

// GET /api/get_data/:id
func (h *DocumentHandler) GetData(c *gin.Context) {
	data, err := h.blobs.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}
