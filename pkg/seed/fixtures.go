package seed

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/upstac/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

type UserFixture struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// RequestFixture describes a test request and how far through the workflow to drive it.
type RequestFixture struct {
	Name        string               `yaml:"name"`
	Gender      models.Gender        `yaml:"gender"`
	Age         int                  `yaml:"age"`
	Email       string               `yaml:"email"`
	PhoneNumber string               `yaml:"phoneNumber"`
	Address     string               `yaml:"address"`
	PinCode     int                  `yaml:"pinCode"`
	CreatedBy   string               `yaml:"createdBy"`
	Status      models.RequestStatus `yaml:"status"`
	Tester      string               `yaml:"tester"`
	Doctor      string               `yaml:"doctor"`
	Result      models.TestStatus    `yaml:"result"`
}

type Fixtures struct {
	Users    []UserFixture    `yaml:"users"`
	Requests []RequestFixture `yaml:"requests"`
}

func LoadFile(path string) (Fixtures, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Fixtures{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(content)
}

func Parse(content []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(content, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse seed file: %w", err)
	}
	for i, req := range f.Requests {
		if req.Status == "" {
			f.Requests[i].Status = models.StatusInitiated
			continue
		}
		if !req.Status.Valid() {
			return Fixtures{}, fmt.Errorf("request %q: unknown status %q", req.Name, req.Status)
		}
	}
	return f, nil
}

// DefaultFixtures gives a local stack one account per role and a request in each status.
func DefaultFixtures() Fixtures {
	base := func(name, email, phone string, status models.RequestStatus, result models.TestStatus) RequestFixture {
		return RequestFixture{
			Name:        name,
			Gender:      models.GenderOther,
			Age:         30,
			Email:       email,
			PhoneNumber: phone,
			Address:     "Sector 21, Gurugram",
			PinCode:     122016,
			CreatedBy:   "patient@upstac.in",
			Status:      status,
			Tester:      "tester@upstac.in",
			Doctor:      "doctor@upstac.in",
			Result:      result,
		}
	}
	return Fixtures{
		Users: []UserFixture{
			{Email: "admin@upstac.in", Name: "Admin", Role: models.RoleAdmin, Password: "admin"},
			{Email: "tester@upstac.in", Name: "Tester", Role: models.RoleTester, Password: "tester"},
			{Email: "doctor@upstac.in", Name: "Doctor", Role: models.RoleDoctor, Password: "doctor"},
			{Email: "patient@upstac.in", Name: "Patient", Role: models.RoleUser, Password: "patient"},
		},
		Requests: []RequestFixture{
			base("someuser", "someone123456@somedomain.com", "9449323456", models.StatusInitiated, ""),
			base("labuser", "lab123456@somedomain.com", "9449323457", models.StatusLabTestInProgress, ""),
			base("doneuser", "done123456@somedomain.com", "9449323458", models.StatusLabTestCompleted, models.TestNegative),
			base("diaguser", "diag123456@somedomain.com", "9449323459", models.StatusDiagnosisInProcess, models.TestPositive),
			base("closeduser", "closed123456@somedomain.com", "9449323460", models.StatusCompleted, models.TestPositive),
		},
	}
}
