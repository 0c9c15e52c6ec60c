package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/observability/metrics"
)

// Notifier turns test request events into patient-facing inbox messages.
type Notifier struct {
	inbox Inbox
	now   func() time.Time
}

func NewNotifier(inbox Inbox) *Notifier {
	return &Notifier{inbox: inbox, now: func() time.Time { return time.Now().UTC() }}
}

// Handle is a kafka.EventHandler. Malformed events are dropped so they are
// committed; only inbox failures are returned for redelivery.
func (n *Notifier) Handle(ctx context.Context, event models.Event) error {
	if event.Type != models.EventTestRequestCreated && event.Type != models.EventTestRequestStatusChanged {
		return nil
	}

	requestID, ok := asInt64(event.Data["request_id"])
	if !ok {
		logger.Log.WithField("event_id", event.ID).Warn("event without request_id dropped")
		return nil
	}
	patient, err := uuid.Parse(fmt.Sprint(event.Data["created_by"]))
	if err != nil {
		logger.Log.WithField("event_id", event.ID).Warn("event without created_by dropped")
		return nil
	}
	status, err := models.ParseRequestStatus(fmt.Sprint(event.Data["to_status"]))
	if err != nil {
		logger.Log.WithField("event_id", event.ID).WithError(err).Warn("event with unknown status dropped")
		return nil
	}

	note := models.Notification{
		RequestID: requestID,
		Status:    status,
		Message:   Message(requestID, status, event.Data),
		CreatedAt: n.now(),
	}
	if err := n.inbox.Push(ctx, patient, note); err != nil {
		return err
	}
	metrics.NotificationsTotal.Inc()
	logger.WithRequest(requestID, patient.String()).WithField("status", status).Debug("notification stored")
	return nil
}

// Message renders the text a patient sees for a status change.
func Message(requestID int64, status models.RequestStatus, data map[string]interface{}) string {
	switch status {
	case models.StatusInitiated:
		return fmt.Sprintf("Your test request #%d has been registered.", requestID)
	case models.StatusLabTestInProgress:
		return fmt.Sprintf("A tester has picked up test request #%d.", requestID)
	case models.StatusLabTestCompleted:
		return fmt.Sprintf("Lab results for request #%d are ready and waiting for a doctor.", requestID)
	case models.StatusDiagnosisInProcess:
		return fmt.Sprintf("A doctor is reviewing request #%d.", requestID)
	case models.StatusCompleted:
		if suggestion, ok := data["suggestion"].(string); ok && suggestion != "" {
			return fmt.Sprintf("Consultation for request #%d is complete. Suggestion: %s.", requestID, suggestion)
		}
		return fmt.Sprintf("Consultation for request #%d is complete.", requestID)
	}
	return fmt.Sprintf("Request #%d moved to %s.", requestID, status)
}

// asInt64 accepts both in-process values and JSON-decoded float64 numbers.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// LocalPublisher delivers events straight to a handler without a broker.
type LocalPublisher struct {
	handler func(ctx context.Context, event models.Event) error
}

func NewLocalPublisher(handler func(ctx context.Context, event models.Event) error) *LocalPublisher {
	return &LocalPublisher{handler: handler}
}

func (p *LocalPublisher) PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error {
	return p.handler(ctx, models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
