package lab

import (
	"context"
	"strings"
	"time"

	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/gateway/auth"
	"github.com/upstac/platform/pkg/testrequests"
)

const (
	opAssign = "assign_lab"
	opUpdate = "update_lab"

	msgNotAssigned = "Cannot update Lab result, as this is not assigned to you"
)

// Service moves requests through the lab half of the workflow on behalf of testers.
type Service struct {
	query    *testrequests.QueryService
	workflow *testrequests.Workflow
	authz    auth.Authorizer
}

func NewService(repo testrequests.Repository, flow *testrequests.FlowLog, authz auth.Authorizer) *Service {
	return &Service{
		query:    testrequests.NewQueryService(repo),
		workflow: testrequests.NewWorkflow(repo, flow),
		authz:    authz,
	}
}

// ForTests lists the lab queue: requests nobody has picked up yet.
func (s *Service) ForTests(ctx context.Context, tester models.User) ([]*models.TestRequest, error) {
	if err := s.authorize(tester, auth.ActionViewLabQueue); err != nil {
		return nil, err
	}
	return s.query.FindBy(ctx, models.StatusInitiated)
}

func (s *Service) ForTester(ctx context.Context, tester models.User) ([]*models.TestRequest, error) {
	if err := s.authorize(tester, auth.ActionViewLabQueue); err != nil {
		return nil, err
	}
	return s.query.FindByTester(ctx, tester.ID)
}

// AssignForLabTest binds an INITIATED request to tester and starts the lab test.
// The request moves to LAB_TEST_IN_PROGRESS here rather than staying INITIATED
// until the result arrives, so a lab result never sits on an INITIATED request.
func (s *Service) AssignForLabTest(ctx context.Context, id int64, tester models.User) (*models.TestRequest, error) {
	if err := s.authorize(tester, auth.ActionAssignLabTest); err != nil {
		return nil, err
	}
	return s.workflow.Advance(ctx, id, tester, testrequests.Step{
		Operation: opAssign,
		From:      models.StatusInitiated,
		To:        models.StatusLabTestInProgress,
		Apply: func(req *models.TestRequest, now time.Time) (map[string]interface{}, error) {
			req.LabResult = &models.LabResult{Tester: tester.ID, UpdatedOn: now}
			return map[string]interface{}{"tester": tester.ID.String()}, nil
		},
	})
}

// UpdateLabTest records vitals and the outcome. Only the assigned tester may submit.
func (s *Service) UpdateLabTest(ctx context.Context, id int64, in models.CreateLabResult, tester models.User) (*models.TestRequest, error) {
	if err := s.authorize(tester, auth.ActionUpdateLabTest); err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}
	return s.workflow.Advance(ctx, id, tester, testrequests.Step{
		Operation: opUpdate,
		From:      models.StatusLabTestInProgress,
		To:        models.StatusLabTestCompleted,
		Apply: func(req *models.TestRequest, now time.Time) (map[string]interface{}, error) {
			if req.LabResult == nil || req.LabResult.Tester != tester.ID {
				return nil, testrequests.Forbidden(msgNotAssigned, nil)
			}
			lab := req.LabResult
			lab.BloodPressure = strings.TrimSpace(in.BloodPressure)
			lab.HeartBeat = strings.TrimSpace(in.HeartBeat)
			lab.OxygenLevel = strings.TrimSpace(in.OxygenLevel)
			lab.Temperature = strings.TrimSpace(in.Temperature)
			lab.Comments = in.Comments
			lab.Result = in.Result
			lab.UpdatedOn = now
			return map[string]interface{}{
				"result":   string(in.Result),
				"comments": in.Comments,
			}, nil
		},
	})
}

func (s *Service) authorize(user models.User, action auth.Action) error {
	if err := s.authz.Authorize(user, action); err != nil {
		return testrequests.Forbidden("Only testers may work the lab queue", err)
	}
	return nil
}

func validate(in models.CreateLabResult) error {
	if in.Result == "" {
		return testrequests.Validation("result must not be null")
	}
	if !in.Result.Valid() {
		return testrequests.Validation("result must be POSITIVE or NEGATIVE")
	}
	return nil
}
