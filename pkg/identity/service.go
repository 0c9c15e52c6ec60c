package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/gateway/auth"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
)

var knownRoles = map[string]struct{}{
	models.RoleUser:   {},
	models.RoleTester: {},
	models.RoleDoctor: {},
	models.RoleAdmin:  {},
}

type Service struct {
	repo  UserStore
	authz auth.Authorizer
}

func NewService(repo UserStore, authz auth.Authorizer) *Service {
	return &Service{repo: repo, authz: authz}
}

// Register creates a patient account for anonymous callers. Staff roles
// (TESTER, DOCTOR, ADMIN) require an actor allowed to register staff.
func (s *Service) Register(ctx context.Context, actor *models.User, req models.RegisterUserRequest) (models.User, error) {
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = models.RoleUser
	}
	if _, ok := knownRoles[role]; !ok {
		return models.User{}, fmt.Errorf("%w: %s", ErrInvalidRole, req.Role)
	}
	if role != models.RoleUser {
		if actor == nil {
			return models.User{}, auth.ErrForbidden
		}
		if err := s.authz.Authorize(*actor, auth.ActionRegisterStaff); err != nil {
			return models.User{}, err
		}
	}
	return s.CreateUser(ctx, req.Email, req.Name, role, req.Password, req.Metadata)
}

func (s *Service) CreateUser(ctx context.Context, email, name, role, password string, metadata map[string]interface{}) (models.User, error) {
	if strings.TrimSpace(email) == "" {
		return models.User{}, fmt.Errorf("email required")
	}
	if password == "" {
		return models.User{}, fmt.Errorf("password required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	return s.repo.CreateUser(ctx, CreateUserInput{
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		Metadata:     metadata,
	})
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}

	hash, err := s.repo.GetPasswordHash(ctx, user.ID)
	if err != nil {
		return models.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return models.User{}, ErrInvalidCredentials
	}

	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.repo.GetUserByEmail(ctx, email)
}
