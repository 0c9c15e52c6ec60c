package testrequests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/observability/metrics"
)

const msgInvalidIDOrState = "Invalid ID or State"

// Step is one forward edge of the status machine plus the record changes it makes.
type Step struct {
	Operation string
	From      models.RequestStatus
	To        models.RequestStatus
	// Apply mutates the loaded request and returns the flow payload.
	Apply func(req *models.TestRequest, now time.Time) (map[string]interface{}, error)
}

// Workflow runs a Step as a single read-modify-write transaction.
type Workflow struct {
	repo Repository
	flow *FlowLog
	now  func() time.Time
}

func NewWorkflow(repo Repository, flow *FlowLog) *Workflow {
	return &Workflow{repo: repo, flow: flow, now: func() time.Time { return time.Now().UTC() }}
}

func (w *Workflow) Advance(ctx context.Context, id int64, actor models.User, step Step) (*models.TestRequest, error) {
	if !step.From.CanTransitionTo(step.To) {
		return nil, fmt.Errorf("%s: illegal transition %s -> %s", step.Operation, step.From, step.To)
	}

	var (
		updated *models.TestRequest
		flow    models.TestRequestFlow
	)
	err := w.repo.WithinTx(ctx, func(tx Repository) error {
		req, err := tx.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return InvalidID(msgInvalidIDOrState)
		}
		if err != nil {
			return err
		}
		if req.Status != step.From {
			return InvalidID(msgInvalidIDOrState)
		}

		now := w.now()
		payload, err := step.Apply(req, now)
		if err != nil {
			return err
		}
		req.Status = step.To
		if err := checkAttachments(req); err != nil {
			return fmt.Errorf("%s: %w", step.Operation, err)
		}
		err = tx.SaveTransition(ctx, req, step.From)
		if errors.Is(err, ErrStaleStatus) {
			return InvalidID(msgInvalidIDOrState)
		}
		if err != nil {
			return err
		}
		flow, err = w.flow.Record(ctx, tx, req, step.From, actor, now, payload)
		if err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		if kind := KindOf(err); kind != "" {
			metrics.ObserveRejection(step.Operation, string(kind))
		} else {
			logger.WithRequest(id, actor.ID.String()).WithError(err).Errorf("%s failed", step.Operation)
		}
		return nil, err
	}

	logger.WithRequest(id, actor.ID.String()).WithFields(map[string]interface{}{
		"from": step.From,
		"to":   step.To,
	}).Info(step.Operation)
	w.flow.Announce(ctx, models.EventTestRequestStatusChanged, updated, flow)
	return updated, nil
}

// checkAttachments enforces that a lab result only exists from LAB_TEST_IN_PROGRESS
// on and a consultation only from DIAGNOSIS_IN_PROCESS on.
func checkAttachments(req *models.TestRequest) error {
	if req.LabResult != nil && !req.Status.AtLeast(models.StatusLabTestInProgress) {
		return fmt.Errorf("lab result attached in status %s", req.Status)
	}
	if req.Consultation != nil && !req.Status.AtLeast(models.StatusDiagnosisInProcess) {
		return fmt.Errorf("consultation attached in status %s", req.Status)
	}
	return nil
}
