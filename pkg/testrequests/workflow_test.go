package testrequests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/dlp"
	"github.com/upstac/platform/pkg/observability/metrics"
)

type publishedEvent struct {
	Type string
	Data map[string]interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType string, _ string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Data: data})
	return p.err
}

func (p *recordingPublisher) Events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func newFlowLog(t *testing.T, publisher EventPublisher) *FlowLog {
	t.Helper()
	masker, err := dlp.NewDetector(dlp.DefaultRules())
	require.NoError(t, err)
	return NewFlowLog(publisher, masker)
}

var startLab = Step{
	Operation: "start_lab",
	From:      models.StatusInitiated,
	To:        models.StatusLabTestInProgress,
	Apply: func(req *models.TestRequest, now time.Time) (map[string]interface{}, error) {
		req.LabResult = &models.LabResult{UpdatedOn: now}
		return map[string]interface{}{"comments": "reach me on 9876543210"}, nil
	},
}

func TestWorkflowAdvance(t *testing.T) {
	repo := NewMemoryRepository()
	publisher := &recordingPublisher{}
	wf := NewWorkflow(repo, newFlowLog(t, publisher))
	ctx := context.Background()
	actor := models.User{ID: uuid.New(), Role: models.RoleTester}

	req := newRequest("Asha", "asha@example.com", "9876543210")
	require.NoError(t, repo.Create(ctx, req))
	phonesBefore := testutil.ToFloat64(metrics.PHIMaskedTotal.WithLabelValues("phone"))

	updated, err := wf.Advance(ctx, req.RequestID, actor, startLab)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLabTestInProgress, updated.Status)
	require.NotNil(t, updated.LabResult)
	assert.Equal(t, phonesBefore+1, testutil.ToFloat64(metrics.PHIMaskedTotal.WithLabelValues("phone")))

	flows, err := repo.FlowsFor(ctx, req.RequestID)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, models.StatusInitiated, flows[0].FromStatus)
	assert.Equal(t, models.StatusLabTestInProgress, flows[0].ToStatus)
	assert.Equal(t, actor.ID, flows[0].ChangedBy)

	events := publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTestRequestStatusChanged, events[0].Type)
	assert.Equal(t, "LAB_TEST_IN_PROGRESS", events[0].Data["to_status"])
	assert.Equal(t, "reach me on **********", events[0].Data["comments"])
}

func TestWorkflowRejectsWrongState(t *testing.T) {
	repo := NewMemoryRepository()
	publisher := &recordingPublisher{}
	wf := NewWorkflow(repo, newFlowLog(t, publisher))
	ctx := context.Background()
	actor := models.User{ID: uuid.New(), Role: models.RoleTester}

	req := newRequest("Asha", "asha@example.com", "9876543210")
	req.Status = models.StatusLabTestCompleted
	require.NoError(t, repo.Create(ctx, req))

	_, err := wf.Advance(ctx, req.RequestID, actor, startLab)
	require.Error(t, err)
	assert.Equal(t, KindInvalidID, KindOf(err))
	assert.Equal(t, "Invalid ID or State", err.Error())

	_, err = wf.Advance(ctx, -34, actor, startLab)
	assert.Equal(t, KindInvalidID, KindOf(err))
	assert.Empty(t, publisher.Events())
}

func TestWorkflowApplyErrorLeavesRecordUntouched(t *testing.T) {
	repo := NewMemoryRepository()
	publisher := &recordingPublisher{}
	wf := NewWorkflow(repo, newFlowLog(t, publisher))
	ctx := context.Background()

	req := newRequest("Asha", "asha@example.com", "9876543210")
	require.NoError(t, repo.Create(ctx, req))

	failing := startLab
	failing.Apply = func(req *models.TestRequest, _ time.Time) (map[string]interface{}, error) {
		req.Name = "mutated"
		return nil, Forbidden("not yours", nil)
	}
	_, err := wf.Advance(ctx, req.RequestID, models.User{ID: uuid.New()}, failing)
	assert.Equal(t, KindForbidden, KindOf(err))

	got, err := repo.FindByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Name)
	assert.Equal(t, models.StatusInitiated, got.Status)
	assert.Empty(t, publisher.Events())
}

func TestWorkflowRejectsIllegalStep(t *testing.T) {
	wf := NewWorkflow(NewMemoryRepository(), newFlowLog(t, nil))
	skip := Step{Operation: "skip", From: models.StatusInitiated, To: models.StatusCompleted}
	_, err := wf.Advance(context.Background(), 1, models.User{}, skip)
	require.Error(t, err)
	assert.Equal(t, Kind(""), KindOf(err))
}

func TestWorkflowPublishFailureDoesNotFailCall(t *testing.T) {
	repo := NewMemoryRepository()
	publisher := &recordingPublisher{err: errors.New("broker down")}
	wf := NewWorkflow(repo, newFlowLog(t, publisher))
	ctx := context.Background()

	req := newRequest("Asha", "asha@example.com", "9876543210")
	require.NoError(t, repo.Create(ctx, req))

	hook := logtest.NewLocal(logger.Log)
	defer logger.Log.ReplaceHooks(make(logrus.LevelHooks))

	updated, err := wf.Advance(ctx, req.RequestID, models.User{ID: uuid.New()}, startLab)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLabTestInProgress, updated.Status)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "status event not published" {
			warned = true
			assert.Equal(t, req.RequestID, entry.Data["request_id"])
		}
	}
	assert.True(t, warned)
}

func TestWorkflowRejectsAttachmentBeforeItsStage(t *testing.T) {
	repo := NewMemoryRepository()
	wf := NewWorkflow(repo, newFlowLog(t, nil))
	ctx := context.Background()

	req := newRequest("Asha", "asha@example.com", "9876543210")
	require.NoError(t, repo.Create(ctx, req))

	early := startLab
	early.Apply = func(req *models.TestRequest, now time.Time) (map[string]interface{}, error) {
		req.LabResult = &models.LabResult{UpdatedOn: now}
		req.Consultation = &models.Consultation{UpdatedOn: now}
		return nil, nil
	}
	_, err := wf.Advance(ctx, req.RequestID, models.User{ID: uuid.New()}, early)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consultation attached")

	got, err := repo.FindByID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitiated, got.Status)
	assert.Nil(t, got.Consultation)
}

func TestWorkflowLosesRaceWithInvalidID(t *testing.T) {
	repo := NewMemoryRepository()
	wf := NewWorkflow(repo, newFlowLog(t, nil))
	ctx := context.Background()

	req := newRequest("Asha", "asha@example.com", "9876543210")
	require.NoError(t, repo.Create(ctx, req))

	racing := startLab
	racing.Apply = func(loaded *models.TestRequest, now time.Time) (map[string]interface{}, error) {
		// another writer commits the same step between our read and our write
		winner := cloneRequest(loaded)
		winner.Status = models.StatusLabTestInProgress
		if err := repo.Save(ctx, winner); err != nil {
			return nil, err
		}
		loaded.LabResult = &models.LabResult{UpdatedOn: now}
		return nil, nil
	}
	_, err := wf.Advance(ctx, req.RequestID, models.User{ID: uuid.New()}, racing)
	require.Error(t, err)
	assert.Equal(t, KindInvalidID, KindOf(err))

	flows, err := repo.FlowsFor(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Empty(t, flows)
}
