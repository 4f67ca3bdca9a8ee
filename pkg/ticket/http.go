package ticket

import (
	"encoding/json"
	"net/http"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/response"
	"github.com/formiq/platform/pkg/gateway/middleware"
	"github.com/gorilla/mux"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/tickets", h.handleCreate).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("Invalid request body"))
		return
	}
	if err := response.ValidateStruct(req); err != nil {
		response.Error(w, err)
		return
	}

	t, err := h.service.Create(r.Context(), req)
	if err != nil {
		logger.Log.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).Error("failed to raise ticket")
		response.Error(w, response.Internal("Failed to raise the ticket"))
		return
	}

	response.Success(w, http.StatusCreated, "Ticket raised successfully", t)
}
