package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/testrequests"
)

var overviewStatuses = []models.RequestStatus{
	models.StatusInitiated,
	models.StatusLabTestInProgress,
	models.StatusLabTestCompleted,
	models.StatusDiagnosisInProcess,
	models.StatusCompleted,
}

type OverviewMetrics struct {
	ByStatus         map[models.RequestStatus]int `json:"byStatus"`
	LabQueue         int                          `json:"labQueue"`
	ConsultationWait int                          `json:"consultationWait"`
	Open             int                          `json:"open"`
}

// MetricsHandler serves the staff dashboard summary.
type MetricsHandler struct {
	query *testrequests.QueryService
}

func NewMetricsHandler(query *testrequests.QueryService) *MetricsHandler {
	return &MetricsHandler{query: query}
}

func (h *MetricsHandler) Register(r *mux.Router) {
	r.HandleFunc("/overview", h.handleOverview).Methods(http.MethodGet)
}

func (h *MetricsHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview := OverviewMetrics{ByStatus: make(map[models.RequestStatus]int, len(overviewStatuses))}
	for _, status := range overviewStatuses {
		reqs, err := h.query.FindBy(r.Context(), status)
		if err != nil {
			logger.Log.WithError(err).Error("failed to collect overview")
			http.Error(w, "failed to collect metrics", http.StatusInternalServerError)
			return
		}
		overview.ByStatus[status] = len(reqs)
		if !status.Terminal() {
			overview.Open += len(reqs)
		}
	}
	overview.LabQueue = overview.ByStatus[models.StatusInitiated]
	overview.ConsultationWait = overview.ByStatus[models.StatusLabTestCompleted]

	respondJSON(w, http.StatusOK, overview)
}
