package consultation

import (
	"context"
	"time"

	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/gateway/auth"
	"github.com/upstac/platform/pkg/testrequests"
)

const (
	opAssign = "assign_consultation"
	opUpdate = "update_consultation"

	msgNotAssigned = "Cannot update Consultation, as this is not assigned to you"
)

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

// InQueue lists requests whose lab work is done and that wait for a doctor.
func (s *Service) InQueue(ctx context.Context, doctor models.User) ([]*models.TestRequest, error) {
	if err := s.authorize(doctor, auth.ActionViewConsultations); err != nil {
		return nil, err
	}
	return s.query.FindBy(ctx, models.StatusLabTestCompleted)
}

func (s *Service) ForDoctor(ctx context.Context, doctor models.User) ([]*models.TestRequest, error) {
	if err := s.authorize(doctor, auth.ActionViewConsultations); err != nil {
		return nil, err
	}
	return s.query.FindByDoctor(ctx, doctor.ID)
}

func (s *Service) AssignForConsultation(ctx context.Context, id int64, doctor models.User) (*models.TestRequest, error) {
	if err := s.authorize(doctor, auth.ActionAssignConsultation); err != nil {
		return nil, err
	}
	return s.workflow.Advance(ctx, id, doctor, testrequests.Step{
		Operation: opAssign,
		From:      models.StatusLabTestCompleted,
		To:        models.StatusDiagnosisInProcess,
		Apply: func(req *models.TestRequest, now time.Time) (map[string]interface{}, error) {
			req.Consultation = &models.Consultation{Doctor: doctor.ID, UpdatedOn: now}
			return map[string]interface{}{"doctor": doctor.ID.String()}, nil
		},
	})
}

// UpdateConsultation closes the request with the doctor's suggestion.
func (s *Service) UpdateConsultation(ctx context.Context, id int64, in models.CreateConsultationRequest, doctor models.User) (*models.TestRequest, error) {
	if err := s.authorize(doctor, auth.ActionUpdateConsultation); err != nil {
		return nil, err
	}
	if in.Suggestion == "" {
		return nil, testrequests.Validation("suggestion must not be null")
	}
	if !in.Suggestion.Valid() {
		return nil, testrequests.Validation("suggestion must be NO_ISSUES, HOME_QUARANTINE or ADMIT")
	}
	return s.workflow.Advance(ctx, id, doctor, testrequests.Step{
		Operation: opUpdate,
		From:      models.StatusDiagnosisInProcess,
		To:        models.StatusCompleted,
		Apply: func(req *models.TestRequest, now time.Time) (map[string]interface{}, error) {
			if req.Consultation == nil || req.Consultation.Doctor != doctor.ID {
				return nil, testrequests.Forbidden(msgNotAssigned, nil)
			}
			req.Consultation.Suggestion = in.Suggestion
			req.Consultation.Comments = in.Comments
			req.Consultation.UpdatedOn = now
			return map[string]interface{}{
				"suggestion": string(in.Suggestion),
				"comments":   in.Comments,
			}, nil
		},
	})
}

func (s *Service) authorize(user models.User, action auth.Action) error {
	if err := s.authz.Authorize(user, action); err != nil {
		return testrequests.Forbidden("Only doctors may work the consultation queue", err)
	}
	return nil
}
