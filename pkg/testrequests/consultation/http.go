package consultation

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

// Register mounts the consultation routes on r. Callers gate r to doctors.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/consultations/in-queue", h.handleInQueue).Methods(http.MethodGet)
	r.HandleFunc("/consultations", h.handleMine).Methods(http.MethodGet)
	r.HandleFunc("/consultations/assign/{id}", h.handleAssign).Methods(http.MethodPut)
	r.HandleFunc("/consultations/update/{id}", h.handleUpdate).Methods(http.MethodPut)
}

func (h *Handler) handleInQueue(w http.ResponseWriter, r *http.Request) {
	doctor, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	reqs, err := h.service.InQueue(r.Context(), doctor)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	doctor, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	reqs, err := h.service.ForDoctor(r.Context(), doctor)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	doctor, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	id, err := testrequests.ParseRequestID(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	req, err := h.service.AssignForConsultation(r.Context(), id, doctor)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	doctor, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	id, err := testrequests.ParseRequestID(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	var in models.CreateConsultationRequest
	if err := testrequests.DecodeBody(r, &in); err != nil {
		testrequests.WriteError(w, err)
		return
	}
	req, err := h.service.UpdateConsultation(r.Context(), id, in, doctor)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, req)
}
