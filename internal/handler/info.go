package handler

import (
	"net/http"

	"papertrade/internal/service"
)

// InfoHandler handles the exchange-info endpoint.
type InfoHandler struct {
	infoSvc *service.InfoService
}

// NewInfoHandler creates a new InfoHandler.
func NewInfoHandler(infoSvc *service.InfoService) *InfoHandler {
	return &InfoHandler{infoSvc: infoSvc}
}

// infoResponse is the JSON response for GET /info.
type infoResponse struct {
	Pairs  []string `json:"pairs"`
	Assets []string `json:"assets"`
}

// Info handles GET /info.
func (h *InfoHandler) Info(w http.ResponseWriter, r *http.Request) {
	info := h.infoSvc.Info()
	WriteJSON(w, http.StatusOK, infoResponse{Pairs: info.Pairs, Assets: info.Assets})
}
