package testrequests

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/gateway/auth"
)

// Service handles patient intake: creating requests and reading one's own history.
type Service struct {
	repo  Repository
	query *QueryService
	flow  *FlowLog
	authz auth.Authorizer
	now   func() time.Time
}

func NewService(repo Repository, flow *FlowLog, authz auth.Authorizer) *Service {
	return &Service{
		repo:  repo,
		query: NewQueryService(repo),
		flow:  flow,
		authz: authz,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateTestRequest(ctx context.Context, user models.User, in models.CreateTestRequest) (*models.TestRequest, error) {
	if err := s.authz.Authorize(user, auth.ActionCreateTestRequest); err != nil {
		return nil, Forbidden("Only patients may create test requests", err)
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now()
	req := &models.TestRequest{
		Name:        strings.TrimSpace(in.Name),
		Gender:      in.Gender,
		Age:         in.Age,
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Address:     strings.TrimSpace(in.Address),
		PinCode:     in.PinCode,
		CreatedBy:   user.ID,
		Created:     now,
		Status:      models.StatusInitiated,
	}

	var flow models.TestRequestFlow
	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		open, err := tx.FindOpenByContact(ctx, req.Email, req.PhoneNumber)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return Validation("A request with the same email or phone number is already in progress")
		}
		if err := tx.Create(ctx, req); err != nil {
			return err
		}
		flow, err = s.flow.Record(ctx, tx, req, "", user, now, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.WithRequest(req.RequestID, user.ID.String()).Info("test request created")
	s.flow.Announce(ctx, models.EventTestRequestCreated, req, flow)
	return req, nil
}

func (s *Service) ListMine(ctx context.Context, user models.User) ([]*models.TestRequest, error) {
	if err := s.authz.Authorize(user, auth.ActionViewOwnRequests); err != nil {
		return nil, Forbidden("Only patients have own test requests", err)
	}
	return s.query.FindByCreator(ctx, user.ID)
}

// Get returns a request visible to user. Patients only see their own; staff see all.
func (s *Service) Get(ctx context.Context, user models.User, id int64) (*models.TestRequest, error) {
	req, err := s.query.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleUser && req.CreatedBy != user.ID {
		return nil, NotFound("Invalid ID")
	}
	return req, nil
}

func (s *Service) Flows(ctx context.Context, user models.User, id int64) ([]models.TestRequestFlow, error) {
	if _, err := s.Get(ctx, user, id); err != nil {
		return nil, err
	}
	return s.query.Flows(ctx, id)
}

func validateCreate(in models.CreateTestRequest) error {
	var violations []string
	if strings.TrimSpace(in.Name) == "" {
		violations = append(violations, "name must not be empty")
	}
	if !in.Gender.Valid() {
		violations = append(violations, "gender must be MALE, FEMALE or OTHER")
	}
	if in.Age <= 0 || in.Age > 150 {
		violations = append(violations, "age must be between 1 and 150")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil {
		violations = append(violations, "email must be a valid address")
	}
	if strings.TrimSpace(in.PhoneNumber) == "" {
		violations = append(violations, "phoneNumber must not be empty")
	}
	if strings.TrimSpace(in.Address) == "" {
		violations = append(violations, "address must not be empty")
	}
	if in.PinCode < 100000 || in.PinCode > 999999 {
		violations = append(violations, "pinCode must have six digits")
	}
	if len(violations) > 0 {
		return Validation(violations...)
	}
	return nil
}
