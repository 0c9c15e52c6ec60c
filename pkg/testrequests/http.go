package testrequests

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/gateway/middleware"
)

type errorBody struct {
	Status  int    `json:"status"`
	Error   Kind   `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}

// WriteError maps rejections to their status code. Anything else is a 500 with a generic body.
func WriteError(w http.ResponseWriter, err error) {
	var re *ResponseError
	if errors.As(err, &re) {
		WriteJSON(w, re.StatusCode(), errorBody{Status: re.StatusCode(), Error: re.Kind, Message: re.Message})
		return
	}
	logger.Log.WithError(err).Error("request failed")
	WriteJSON(w, http.StatusInternalServerError, errorBody{
		Status:  http.StatusInternalServerError,
		Error:   "InternalError",
		Message: "Internal Server Error",
	})
}

func ParseRequestID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, InvalidID("Invalid ID")
	}
	return id, nil
}

// DecodeBody rejects malformed JSON as a validation error.
func DecodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return Validation("request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return Validation("malformed request body: " + err.Error())
	}
	return nil
}

// Actor returns the authenticated user. Routes are mounted behind middleware.Authenticate.
func Actor(r *http.Request) (models.User, error) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return models.User{}, Forbidden("Authentication required", nil)
	}
	return user, nil
}

// ParseStatus reads an optional ?status= filter.
func ParseStatus(r *http.Request) (models.RequestStatus, bool, error) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return "", false, nil
	}
	status, err := models.ParseRequestStatus(raw)
	if err != nil {
		return "", false, Validation("status must be a known request status")
	}
	return status, true, nil
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/testrequests", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/testrequests", h.handleListMine).Methods(http.MethodGet)
	r.HandleFunc("/testrequests/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/testrequests/{id}/flows", h.handleFlows).Methods(http.MethodGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := Actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	var in models.CreateTestRequest
	if err := DecodeBody(r, &in); err != nil {
		WriteError(w, err)
		return
	}
	req, err := h.service.CreateTestRequest(r.Context(), user, in)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleListMine(w http.ResponseWriter, r *http.Request) {
	user, err := Actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	reqs, err := h.service.ListMine(r.Context(), user)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, err := Actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := ParseRequestID(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	req, err := h.service.Get(r.Context(), user, id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleFlows(w http.ResponseWriter, r *http.Request) {
	user, err := Actor(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id, err := ParseRequestID(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	flows, err := h.service.Flows(r.Context(), user, id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, flows)
}
