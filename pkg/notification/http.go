package notification

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/upstac/platform/pkg/testrequests"
)

type Handler struct {
	inbox Inbox
}

func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/notifications", h.handleList).Methods(http.MethodGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := testrequests.Actor(r)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	notes, err := h.inbox.List(r.Context(), user.ID)
	if err != nil {
		testrequests.WriteError(w, err)
		return
	}
	testrequests.WriteJSON(w, http.StatusOK, notes)
}
