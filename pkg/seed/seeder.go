package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/identity"
	"github.com/upstac/platform/pkg/testrequests"
	"github.com/upstac/platform/pkg/testrequests/consultation"
	"github.com/upstac/platform/pkg/testrequests/lab"
)

type Summary struct {
	UsersCreated    int
	UsersSkipped    int
	RequestsCreated int
	RequestsSkipped int
}

// Seeder loads fixtures through the regular services so every seeded request
// has the same flow history as one worked by hand.
type Seeder struct {
	users        *identity.Service
	intake       *testrequests.Service
	lab          *lab.Service
	consultation *consultation.Service
}

func NewSeeder(users *identity.Service, intake *testrequests.Service, labSvc *lab.Service, consultSvc *consultation.Service) *Seeder {
	return &Seeder{users: users, intake: intake, lab: labSvc, consultation: consultSvc}
}

// Apply is idempotent: existing accounts and requests with a known contact are skipped.
func (s *Seeder) Apply(ctx context.Context, f Fixtures) (Summary, error) {
	var summary Summary
	for _, u := range f.Users {
		_, err := s.users.GetUserByEmail(ctx, u.Email)
		if err == nil {
			summary.UsersSkipped++
			continue
		}
		if !errors.Is(err, identity.ErrUserNotFound) {
			return summary, err
		}
		if _, err := s.users.CreateUser(ctx, u.Email, u.Name, strings.ToUpper(u.Role), u.Password, nil); err != nil {
			return summary, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		summary.UsersCreated++
	}

	for _, rf := range f.Requests {
		created, err := s.seedRequest(ctx, rf)
		if err != nil {
			return summary, fmt.Errorf("seed request %q: %w", rf.Name, err)
		}
		if created {
			summary.RequestsCreated++
		} else {
			summary.RequestsSkipped++
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"users_created":    summary.UsersCreated,
		"requests_created": summary.RequestsCreated,
	}).Info("seed applied")
	return summary, nil
}

func (s *Seeder) seedRequest(ctx context.Context, rf RequestFixture) (bool, error) {
	patient, err := s.users.GetUserByEmail(ctx, rf.CreatedBy)
	if err != nil {
		return false, fmt.Errorf("creator %s: %w", rf.CreatedBy, err)
	}
	existing, err := s.intake.ListMine(ctx, patient)
	if err != nil {
		return false, err
	}
	for _, req := range existing {
		if strings.EqualFold(req.Email, rf.Email) || req.PhoneNumber == rf.PhoneNumber {
			return false, nil
		}
	}

	req, err := s.intake.CreateTestRequest(ctx, patient, models.CreateTestRequest{
		Name:        rf.Name,
		Gender:      rf.Gender,
		Age:         rf.Age,
		Email:       rf.Email,
		PhoneNumber: rf.PhoneNumber,
		Address:     rf.Address,
		PinCode:     rf.PinCode,
	})
	if err != nil {
		return false, err
	}
	if rf.Status == models.StatusInitiated {
		return true, nil
	}

	tester, err := s.users.GetUserByEmail(ctx, rf.Tester)
	if err != nil {
		return false, fmt.Errorf("tester %s: %w", rf.Tester, err)
	}
	if _, err := s.lab.AssignForLabTest(ctx, req.RequestID, tester); err != nil {
		return false, err
	}
	if rf.Status == models.StatusLabTestInProgress {
		return true, nil
	}

	result := LabResultFor(rf.Result)
	if _, err := s.lab.UpdateLabTest(ctx, req.RequestID, result, tester); err != nil {
		return false, err
	}
	if rf.Status == models.StatusLabTestCompleted {
		return true, nil
	}

	doctor, err := s.users.GetUserByEmail(ctx, rf.Doctor)
	if err != nil {
		return false, fmt.Errorf("doctor %s: %w", rf.Doctor, err)
	}
	if _, err := s.consultation.AssignForConsultation(ctx, req.RequestID, doctor); err != nil {
		return false, err
	}
	if rf.Status == models.StatusDiagnosisInProcess {
		return true, nil
	}

	if _, err := s.consultation.UpdateConsultation(ctx, req.RequestID, ConsultationFor(result.Result), doctor); err != nil {
		return false, err
	}
	return true, nil
}

// LabResultFor builds the vitals recorded for seeded requests. Result defaults to NEGATIVE.
func LabResultFor(result models.TestStatus) models.CreateLabResult {
	if result == "" {
		result = models.TestNegative
	}
	return models.CreateLabResult{
		BloodPressure: "133 mm",
		HeartBeat:     "120 bpm",
		OxygenLevel:   "100 mmhg",
		Temperature:   "99 c",
		Result:        result,
	}
}

// ConsultationFor quarantines positive cases and clears the rest.
func ConsultationFor(result models.TestStatus) models.CreateConsultationRequest {
	if result == models.TestPositive {
		return models.CreateConsultationRequest{Suggestion: models.SuggestionHomeQuarantine, Comments: "Take care"}
	}
	return models.CreateConsultationRequest{Suggestion: models.SuggestionNoIssues, Comments: "Ok"}
}
