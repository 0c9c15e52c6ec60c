package testrequests

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upstac/platform/pkg/common/models"
)

// QueryService answers read-only lookups over test requests.
type QueryService struct {
	repo Repository
}

func NewQueryService(repo Repository) *QueryService {
	return &QueryService{repo: repo}
}

// FindBy returns every request in the given status in insertion order.
// The result is empty, not nil, when nothing matches.
func (q *QueryService) FindBy(ctx context.Context, status models.RequestStatus) ([]*models.TestRequest, error) {
	if !status.Valid() {
		return nil, Validation("status must be a known request status")
	}
	return nonNil(q.repo.FindByStatus(ctx, status))
}

func (q *QueryService) GetByID(ctx context.Context, id int64) (*models.TestRequest, error) {
	req, err := q.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, NotFound("Invalid ID")
	}
	return req, err
}

func (q *QueryService) FindByTester(ctx context.Context, tester uuid.UUID) ([]*models.TestRequest, error) {
	return nonNil(q.repo.FindByTester(ctx, tester))
}

func (q *QueryService) FindByDoctor(ctx context.Context, doctor uuid.UUID) ([]*models.TestRequest, error) {
	return nonNil(q.repo.FindByDoctor(ctx, doctor))
}

func (q *QueryService) FindByCreator(ctx context.Context, creator uuid.UUID) ([]*models.TestRequest, error) {
	return nonNil(q.repo.FindByCreator(ctx, creator))
}

func (q *QueryService) Flows(ctx context.Context, id int64) ([]models.TestRequestFlow, error) {
	flows, err := q.repo.FlowsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if flows == nil {
		flows = []models.TestRequestFlow{}
	}
	return flows, nil
}

func nonNil(reqs []*models.TestRequest, err error) ([]*models.TestRequest, error) {
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []*models.TestRequest{}
	}
	return reqs, nil
}
