package testrequests

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/gateway/auth"
)

func validCreate() models.CreateTestRequest {
	return models.CreateTestRequest{
		Name:        "Asha Rao",
		Gender:      models.GenderFemale,
		Age:         34,
		Email:       "Asha@Example.com",
		PhoneNumber: "9876543210",
		Address:     "12 MG Road, Pune",
		PinCode:     411001,
	}
}

func newIntake(t *testing.T) (*Service, *MemoryRepository, *recordingPublisher) {
	t.Helper()
	repo := NewMemoryRepository()
	publisher := &recordingPublisher{}
	svc := NewService(repo, newFlowLog(t, publisher), auth.NewRoleAuthorizer(auth.DefaultPolicy()))
	return svc, repo, publisher
}

func TestCreateTestRequest(t *testing.T) {
	svc, repo, publisher := newIntake(t)
	ctx := context.Background()
	patient := models.User{ID: uuid.New(), Role: models.RoleUser}

	req, err := svc.CreateTestRequest(ctx, patient, validCreate())
	require.NoError(t, err)
	assert.NotZero(t, req.RequestID)
	assert.Equal(t, models.StatusInitiated, req.Status)
	assert.Equal(t, "asha@example.com", req.Email)
	assert.Equal(t, patient.ID, req.CreatedBy)

	flows, err := repo.FlowsFor(ctx, req.RequestID)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, models.RequestStatus(""), flows[0].FromStatus)
	assert.Equal(t, models.StatusInitiated, flows[0].ToStatus)

	events := publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTestRequestCreated, events[0].Type)
}

func TestCreateTestRequestValidation(t *testing.T) {
	svc, repo, _ := newIntake(t)
	ctx := context.Background()
	patient := models.User{ID: uuid.New(), Role: models.RoleUser}

	in := validCreate()
	in.Email = "not-an-email"
	in.PinCode = 12
	_, err := svc.CreateTestRequest(ctx, patient, in)
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "ConstraintViolationException: "))
	assert.Contains(t, err.Error(), "email")
	assert.Contains(t, err.Error(), "pinCode")

	all, err := repo.FindByStatus(ctx, models.StatusInitiated)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateTestRequestRejectsDuplicateContact(t *testing.T) {
	svc, _, _ := newIntake(t)
	ctx := context.Background()
	patient := models.User{ID: uuid.New(), Role: models.RoleUser}

	_, err := svc.CreateTestRequest(ctx, patient, validCreate())
	require.NoError(t, err)

	again := validCreate()
	again.Email = "someone.else@example.com"
	_, err = svc.CreateTestRequest(ctx, patient, again)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCreateTestRequestRequiresPatientRole(t *testing.T) {
	svc, _, _ := newIntake(t)
	_, err := svc.CreateTestRequest(context.Background(), models.User{ID: uuid.New(), Role: models.RoleTester}, validCreate())
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestGetHidesOtherPatientsRequests(t *testing.T) {
	svc, _, _ := newIntake(t)
	ctx := context.Background()
	owner := models.User{ID: uuid.New(), Role: models.RoleUser}
	stranger := models.User{ID: uuid.New(), Role: models.RoleUser}
	doctor := models.User{ID: uuid.New(), Role: models.RoleDoctor}

	req, err := svc.CreateTestRequest(ctx, owner, validCreate())
	require.NoError(t, err)

	_, err = svc.Get(ctx, owner, req.RequestID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, doctor, req.RequestID)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, stranger, req.RequestID)
	assert.Equal(t, KindNotFound, KindOf(err))

	flows, err := svc.Flows(ctx, owner, req.RequestID)
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	mine, err := svc.ListMine(ctx, stranger)
	require.NoError(t, err)
	assert.NotNil(t, mine)
	assert.Empty(t, mine)
}

func TestQueryFindBy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	q := NewQueryService(repo)

	empty, err := q.FindBy(ctx, models.StatusLabTestCompleted)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for i, status := range []models.RequestStatus{models.StatusInitiated, models.StatusLabTestCompleted, models.StatusLabTestCompleted} {
		req := newRequest("patient", "p@example.com", "98765000"+string(rune('0'+i))+"0")
		req.Status = status
		require.NoError(t, repo.Create(ctx, req))
	}

	completed, err := q.FindBy(ctx, models.StatusLabTestCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Less(t, completed[0].RequestID, completed[1].RequestID)
	for _, req := range completed {
		assert.Equal(t, models.StatusLabTestCompleted, req.Status)
	}

	_, err = q.FindBy(ctx, models.RequestStatus("DONE"))
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = q.GetByID(ctx, 99)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestConcurrentIntakeKeepsOneOpenRequest(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		svc := NewService(repo, newFlowLog(t, nil), auth.NewRoleAuthorizer(auth.DefaultPolicy()))
		ctx := context.Background()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			created  int
			rejected int
		)
		for i := 0; i < 6; i++ {
			patient := models.User{ID: uuid.New(), Role: models.RoleUser}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.CreateTestRequest(ctx, patient, validCreate())
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					created++
				} else if KindOf(err) == KindValidation {
					rejected++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Equal(t, 5, rejected)
		open, err := repo.FindOpenByContact(ctx, "asha@example.com", "9876543210")
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})
}
