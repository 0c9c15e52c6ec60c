package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/upstac/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

type Action string

const (
	ActionCreateTestRequest  Action = "testrequest:create"
	ActionViewOwnRequests    Action = "testrequest:view_own"
	ActionViewLabQueue       Action = "lab:view"
	ActionAssignLabTest      Action = "lab:assign"
	ActionUpdateLabTest      Action = "lab:update"
	ActionViewConsultations  Action = "consultation:view"
	ActionAssignConsultation Action = "consultation:assign"
	ActionUpdateConsultation Action = "consultation:update"
	ActionRegisterStaff      Action = "user:register_staff"
	ActionReadNotifications  Action = "notification:read"
	ActionViewOverview       Action = "overview:view"
)

var ErrForbidden = errors.New("forbidden")

// Authorizer decides whether a user may perform an action.
type Authorizer interface {
	Authorize(user models.User, action Action) error
}

type Policy map[Action][]string

type RoleAuthorizer struct {
	policy map[Action]map[string]struct{}
}

func DefaultPolicy() Policy {
	return Policy{
		ActionCreateTestRequest:  {models.RoleUser},
		ActionViewOwnRequests:    {models.RoleUser},
		ActionViewLabQueue:       {models.RoleTester},
		ActionAssignLabTest:      {models.RoleTester},
		ActionUpdateLabTest:      {models.RoleTester},
		ActionViewConsultations:  {models.RoleDoctor},
		ActionAssignConsultation: {models.RoleDoctor},
		ActionUpdateConsultation: {models.RoleDoctor},
		ActionRegisterStaff:      {models.RoleAdmin},
		ActionReadNotifications:  {models.RoleUser},
		ActionViewOverview:       {models.RoleTester, models.RoleDoctor},
	}
}

func NewRoleAuthorizer(policy Policy) *RoleAuthorizer {
	compiled := make(map[Action]map[string]struct{}, len(policy))
	for action, roles := range policy {
		set := make(map[string]struct{}, len(roles))
		for _, role := range roles {
			set[role] = struct{}{}
		}
		compiled[action] = set
	}
	return &RoleAuthorizer{policy: compiled}
}

// Authorize denies actions with no policy entry. ADMIN passes everything.
func (a *RoleAuthorizer) Authorize(user models.User, action Action) error {
	if user.Role == models.RoleAdmin {
		return nil
	}
	roles, ok := a.policy[action]
	if !ok {
		return fmt.Errorf("%w: no policy for %s", ErrForbidden, action)
	}
	if _, ok := roles[user.Role]; !ok {
		return fmt.Errorf("%w: role %q may not %s", ErrForbidden, user.Role, action)
	}
	return nil
}

type policyFile struct {
	Policies []struct {
		Action string   `yaml:"action"`
		Roles  []string `yaml:"roles"`
	} `yaml:"policies"`
}

// LoadPolicy overlays entries from a YAML file onto DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read rbac policy: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse rbac policy: %w", err)
	}
	for _, entry := range file.Policies {
		if entry.Action == "" {
			return nil, errors.New("rbac policy entry missing action")
		}
		policy[Action(entry.Action)] = entry.Roles
	}
	return policy, nil
}
