package testrequests

import (
	"context"
	"sort"
	"time"

	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/dlp"
	"github.com/upstac/platform/pkg/observability/metrics"
)

const eventSource = "upstac-service"

// EventPublisher is satisfied by kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type noopPublisher struct{}

func (noopPublisher) PublishEvent(context.Context, string, string, map[string]interface{}) error {
	return nil
}

// FlowLog records status changes and announces them once committed.
type FlowLog struct {
	publisher EventPublisher
	masker    *dlp.Detector
}

func NewFlowLog(publisher EventPublisher, masker *dlp.Detector) *FlowLog {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &FlowLog{publisher: publisher, masker: masker}
}

// Record appends a flow row through tx so it commits or rolls back with the status change.
func (f *FlowLog) Record(ctx context.Context, tx Repository, req *models.TestRequest, from models.RequestStatus, actor models.User, at time.Time, payload map[string]interface{}) (models.TestRequestFlow, error) {
	flow := models.TestRequestFlow{
		RequestID:  req.RequestID,
		FromStatus: from,
		ToStatus:   req.Status,
		ChangedBy:  actor.ID,
		HappenedOn: at,
		Payload:    payload,
	}
	if err := tx.AppendFlow(ctx, &flow); err != nil {
		return models.TestRequestFlow{}, err
	}
	return flow, nil
}

// Announce is called after commit. Publish failures are logged and counted, never returned.
func (f *FlowLog) Announce(ctx context.Context, eventType string, req *models.TestRequest, flow models.TestRequestFlow) {
	metrics.ObserveTransition(string(flow.FromStatus), string(flow.ToStatus))

	data := map[string]interface{}{
		"request_id":  req.RequestID,
		"created_by":  req.CreatedBy.String(),
		"from_status": string(flow.FromStatus),
		"to_status":   string(flow.ToStatus),
		"changed_by":  flow.ChangedBy.String(),
		"happened_on": flow.HappenedOn.Format(time.RFC3339),
	}
	for k, v := range flow.Payload {
		data[k] = v
	}
	if f.masker != nil {
		if types := f.detectPHI(data); len(types) > 0 {
			for _, phiType := range types {
				metrics.ObservePHIMasked(phiType)
			}
			logger.WithRequest(req.RequestID, flow.ChangedBy.String()).
				WithField("phi_types", types).Debug("masked identifiers in status event")
		}
		data = f.masker.Sanitize(data)
	}

	err := f.publisher.PublishEvent(ctx, eventType, eventSource, data)
	metrics.ObservePublish(err)
	if err != nil {
		logger.WithRequest(req.RequestID, flow.ChangedBy.String()).WithError(err).Warn("status event not published")
	}
}

// detectPHI lists the identifier types found in the string values of data.
func (f *FlowLog) detectPHI(data map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var types []string
	for _, value := range data {
		text, ok := value.(string)
		if !ok {
			continue
		}
		for _, phiType := range f.masker.Detect(text).PHITypes {
			if _, dup := seen[phiType]; dup {
				continue
			}
			seen[phiType] = struct{}{}
			types = append(types, phiType)
		}
	}
	sort.Strings(types)
	return types
}
