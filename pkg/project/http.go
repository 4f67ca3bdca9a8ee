package project

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/formiq/platform/pkg/cache"
	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/response"
	"github.com/formiq/platform/pkg/gateway/middleware"
	"github.com/gorilla/mux"
)

type createRequest struct {
	Name               string   `json:"name" validate:"required,max=100"`
	Description        string   `json:"description" validate:"max=500"`
	AuthorizedDomains  []string `json:"authorizedDomains" validate:"max=50,dive,required,max=253"`
	EmailNotifications bool     `json:"emailNotifications"`
	Email              string   `json:"email" validate:"omitempty,email"`
}

type updateRequest struct {
	Name               *string  `json:"name" validate:"omitempty,max=100"`
	Description        *string  `json:"description" validate:"omitempty,max=500"`
	AuthorizedDomains  []string `json:"authorizedDomains" validate:"omitempty,max=50,dive,required,max=253"`
	EmailNotifications *bool    `json:"emailNotifications"`
	Email              *string  `json:"email" validate:"omitempty,email"`
}

// HTTPHandler serves the owner dashboard routes. It expects to be mounted
// behind middleware.RequireOwner.
type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/projects", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/projects", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id}", h.handleUpdate).Methods(http.MethodPut)
	router.HandleFunc("/projects/{id}", h.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/projects/{id}/regenerate-keys", h.handleRegenerateKeys).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("Invalid request body"))
		return
	}
	if err := response.ValidateStruct(req); err != nil {
		response.Error(w, err)
		return
	}

	p, err := h.service.Create(r.Context(), owner, CreateInput{
		Name:               req.Name,
		Description:        req.Description,
		AuthorizedDomains:  req.AuthorizedDomains,
		EmailNotifications: req.EmailNotifications,
		Email:              req.Email,
	})
	if err != nil {
		h.writeError(w, err, "failed to create project")
		return
	}

	response.Success(w, http.StatusCreated, "Project created", p)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	rows, status, err := h.service.List(r.Context(), owner)
	if err != nil {
		h.writeError(w, err, "failed to list projects")
		return
	}

	w.Header().Set(cache.HeaderName, string(status))
	response.Success(w, http.StatusOK, "Projects retrieved", rows)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	detail, status, err := h.service.Get(r.Context(), owner, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err, "failed to load project")
		return
	}

	w.Header().Set(cache.HeaderName, string(status))
	response.Success(w, http.StatusOK, "Project retrieved", detail)
}

func (h *HTTPHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, response.BadRequest("Invalid request body"))
		return
	}
	if err := response.ValidateStruct(req); err != nil {
		response.Error(w, err)
		return
	}

	p, err := h.service.Update(r.Context(), owner, mux.Vars(r)["id"], UpdateInput{
		Name:               req.Name,
		Description:        req.Description,
		AuthorizedDomains:  req.AuthorizedDomains,
		EmailNotifications: req.EmailNotifications,
		Email:              req.Email,
	})
	if err != nil {
		h.writeError(w, err, "failed to update project")
		return
	}

	response.Success(w, http.StatusOK, "Project updated", p)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	if err := h.service.Delete(r.Context(), owner, mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err, "failed to delete project")
		return
	}

	response.Success(w, http.StatusOK, "Project deleted", nil)
}

func (h *HTTPHandler) handleRegenerateKeys(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	p, err := h.service.RegenerateKeys(r.Context(), owner, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err, "failed to regenerate project keys")
		return
	}

	response.Success(w, http.StatusOK, "Project keys regenerated", map[string]string{
		"projectId": p.ProjectID,
		"publicKey": p.PublicKey,
	})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case IsValidationError(err):
		response.Error(w, response.BadRequest("Validation failed", err.Error()))
	case errors.Is(err, ErrProjectNotFound):
		response.Error(w, response.NotFound("Project not found"))
	default:
		logger.Log.WithError(err).Error(msg)
		response.Error(w, response.Internal("Internal server error"))
	}
}
