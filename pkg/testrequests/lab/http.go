package lab

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/testrequests"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the lab routes on r. Callers gate r to testers.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/labrequests/to-be-tested", h.handleToBeTested).Methods(http.MethodGet)
	r.HandleFunc("/labrequests", h.handleMine).Methods(http.MethodGet)
	r.HandleFunc("/labrequests/assign/{id}", h.handleAssign).Methods(http.MethodPut)
	r.HandleFunc("/labrequests/update/{id}", h.handleUpdate).Methods(http.MethodPut)
}

func (h *Handler) handleToBeTested(w http.ResponseWriter, r *http.Request) {
	tester, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	reqs, err := h.service.ForTests(r.Context(), tester)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	tester, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	reqs, err := h.service.ForTester(r.Context(), tester)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	tester, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	id, err := testrequests.ParseRequestID(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	req, err := h.service.AssignForLabTest(r.Context(), id, tester)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	tester, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	id, err := testrequests.ParseRequestID(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	var in models.CreateLabResult
	if err := testrequests.DecodeBody(r, &in); err != nil {
		testrequests.WriteError(w, err)
		return
	}
	req, err := h.service.UpdateLabTest(r.Context(), id, in, tester)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, req)
}
