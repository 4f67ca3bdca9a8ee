package submission

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/common/models"
	"github.com/formiq/platform/pkg/common/response"
	"github.com/formiq/platform/pkg/credential"
	"github.com/formiq/platform/pkg/gateway/middleware"
	"github.com/formiq/platform/pkg/observability/metrics"
	"github.com/formiq/platform/pkg/origin"
	"github.com/formiq/platform/pkg/project"
	"github.com/gorilla/mux"
)

// One message for every authorization failure so callers cannot tell which
// check they failed.
const forbiddenMessage = "Origin not allowed or invalid project key"

type HTTPHandler struct {
	service    *Service
	gate       *origin.Gate
	trustProxy bool
}

func NewHTTPHandler(service *Service, gate *origin.Gate, trustProxy bool) *HTTPHandler {
	return &HTTPHandler{service: service, gate: gate, trustProxy: trustProxy}
}

// RegisterPublic mounts the unauthenticated submission routes.
func (h *HTTPHandler) RegisterPublic(router *mux.Router) {
	router.HandleFunc("/submissions/project/{projectId}/submit", h.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/submissions/project/{projectId}/submit", h.handlePreflight).Methods(http.MethodOptions)
}

// Register mounts the owner routes; the router must carry RequireOwner.
func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/submissions/{submissionId}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/submissions/{submissionId}", h.handleDelete).Methods(http.MethodDelete)
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveStage(StageDecode, metrics.OutcomeFail)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, response.NewAPIError(http.StatusRequestEntityTooLarge, "Request body too large"))
			return
		}
		response.Error(w, response.BadRequest("Invalid request body", "body must be a JSON object with a fields object"))
		return
	}

	in := Input{
		ProjectID:  mux.Vars(r)["projectId"],
		Origin:     r.Header.Get("Origin"),
		Credential: credential.Extract(r, req.FormiqKey),
		ClientIP:   middleware.ClientIP(r, h.trustProxy),
		UserAgent:  r.UserAgent(),
		Fields:     req.Fields,
		Options:    req.Options,
	}

	res, err := h.service.Submit(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.gate.Apply(w, res.Origin)
	if res.Limit != nil {
		res.Limit.SetHeaders(w.Header())
	}
	response.Success(w, http.StatusCreated, "Submission created successfully", res.Submission.Response())
}

func (h *HTTPHandler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	requestOrigin := r.Header.Get("Origin")
	if err := h.service.Preflight(r.Context(), mux.Vars(r)["projectId"], requestOrigin); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.gate.Preflight(w, requestOrigin)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	sub, err := h.service.Get(r.Context(), owner, mux.Vars(r)["submissionId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Submission retrieved", sub.Response())
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		response.Error(w, response.Unauthorized("Authentication required"))
		return
	}

	if err := h.service.Delete(r.Context(), owner, mux.Vars(r)["submissionId"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Submission deleted", nil)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		if rej.Origin != "" {
			h.gate.Apply(w, rej.Origin)
		}
		if rej.Limit != nil {
			rej.Limit.SetHeaders(w.Header())
		}
	}
	var failure *Failure
	if errors.As(err, &failure) {
		h.gate.Apply(w, failure.Origin)
		failure.Limit.SetHeaders(w.Header())
	}

	switch {
	case IsValidationError(err):
		response.Error(w, response.BadRequest("Validation failed", err.Error()))
	case errors.Is(err, project.ErrProjectNotFound):
		response.Error(w, response.NotFound("Project not found"))
	case errors.Is(err, ErrNotFound):
		response.Error(w, response.NotFound("Submission not found"))
	case errors.Is(err, ErrForbidden):
		response.Error(w, response.Forbidden(forbiddenMessage))
	case errors.Is(err, ErrRateLimited):
		var remaining map[string]int64
		if rej != nil && rej.Limit != nil {
			remaining = rej.Limit.Remaining
		}
		response.Error(w, response.TooManyRequests(map[string]interface{}{
			"remaining": remaining,
		}))
	default:
		logger.Log.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).Error("submission request failed")
		response.Error(w, response.Internal("Internal server error"))
	}
}
