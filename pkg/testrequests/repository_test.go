package testrequests

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upstac/platform/pkg/common/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormRepository(t *testing.T) *GormRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "upstac.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewGormRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

// forEachRepository runs fn against both storage backends.
func forEachRepository(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryRepository()) })
	t.Run("gorm", func(t *testing.T) { fn(t, newGormRepository(t)) })
}

func newRequest(name, email, phone string) *models.TestRequest {
	return &models.TestRequest{
		Name:        name,
		Gender:      models.GenderFemale,
		Age:         34,
		Email:       email,
		PhoneNumber: phone,
		Address:     "12 MG Road, Pune",
		PinCode:     411001,
		CreatedBy:   uuid.New(),
		Created:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Status:      models.StatusInitiated,
	}
}

func TestRepositoryCreateAndFind(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		first := newRequest("Asha", "asha@example.com", "9876543210")
		second := newRequest("Ravi", "ravi@example.com", "9876500000")
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))
		assert.Greater(t, second.RequestID, first.RequestID)

		got, err := repo.FindByID(ctx, first.RequestID)
		require.NoError(t, err)
		assert.Equal(t, "Asha", got.Name)
		assert.Equal(t, models.StatusInitiated, got.Status)
		assert.Equal(t, first.CreatedBy, got.CreatedBy)
		assert.Nil(t, got.LabResult)

		_, err = repo.FindByID(ctx, -34)
		assert.True(t, errors.Is(err, ErrNotFound))

		byStatus, err := repo.FindByStatus(ctx, models.StatusInitiated)
		require.NoError(t, err)
		require.Len(t, byStatus, 2)
		assert.Equal(t, first.RequestID, byStatus[0].RequestID)
		assert.Equal(t, second.RequestID, byStatus[1].RequestID)

		none, err := repo.FindByStatus(ctx, models.StatusCompleted)
		require.NoError(t, err)
		assert.Empty(t, none)

		mine, err := repo.FindByCreator(ctx, second.CreatedBy)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "Ravi", mine[0].Name)
	})
}

func TestRepositorySaveChildren(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		tester, doctor := uuid.New(), uuid.New()
		req := newRequest("Asha", "asha@example.com", "9876543210")
		require.NoError(t, repo.Create(ctx, req))

		req.Status = models.StatusLabTestInProgress
		req.LabResult = &models.LabResult{Tester: tester, UpdatedOn: time.Now().UTC()}
		require.NoError(t, repo.Save(ctx, req))

		req.Status = models.StatusLabTestCompleted
		req.LabResult.BloodPressure = "120/80"
		req.LabResult.Result = models.TestNegative
		require.NoError(t, repo.Save(ctx, req))

		req.Status = models.StatusDiagnosisInProcess
		req.Consultation = &models.Consultation{Doctor: doctor, UpdatedOn: time.Now().UTC()}
		require.NoError(t, repo.Save(ctx, req))

		got, err := repo.FindByID(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDiagnosisInProcess, got.Status)
		require.NotNil(t, got.LabResult)
		assert.Equal(t, "120/80", got.LabResult.BloodPressure)
		assert.Equal(t, models.TestNegative, got.LabResult.Result)
		assert.Equal(t, tester, got.LabResult.Tester)
		require.NotNil(t, got.Consultation)
		assert.Equal(t, doctor, got.Consultation.Doctor)

		byTester, err := repo.FindByTester(ctx, tester)
		require.NoError(t, err)
		assert.Len(t, byTester, 1)
		byDoctor, err := repo.FindByDoctor(ctx, doctor)
		require.NoError(t, err)
		assert.Len(t, byDoctor, 1)
		none, err := repo.FindByTester(ctx, doctor)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestRepositoryFindOpenByContact(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		open := newRequest("Asha", "asha@example.com", "9876543210")
		done := newRequest("Ravi", "ravi@example.com", "9876500000")
		done.Status = models.StatusCompleted
		require.NoError(t, repo.Create(ctx, open))
		require.NoError(t, repo.Create(ctx, done))

		byPhone, err := repo.FindOpenByContact(ctx, "other@example.com", "9876543210")
		require.NoError(t, err)
		assert.Len(t, byPhone, 1)

		completed, err := repo.FindOpenByContact(ctx, "ravi@example.com", "0000000000")
		require.NoError(t, err)
		assert.Empty(t, completed)
	})
}

func TestRepositoryWithinTxRollsBack(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		req := newRequest("Asha", "asha@example.com", "9876543210")
		require.NoError(t, repo.Create(ctx, req))

		boom := errors.New("boom")
		err := repo.WithinTx(ctx, func(tx Repository) error {
			loaded, err := tx.FindByID(ctx, req.RequestID)
			require.NoError(t, err)
			loaded.Status = models.StatusLabTestInProgress
			require.NoError(t, tx.Save(ctx, loaded))
			require.NoError(t, tx.AppendFlow(ctx, &models.TestRequestFlow{
				RequestID: req.RequestID,
				ToStatus:  models.StatusLabTestInProgress,
			}))
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		got, err := repo.FindByID(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInitiated, got.Status)
		flows, err := repo.FlowsFor(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Empty(t, flows)
	})
}

func TestRepositoryFlows(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		actor := uuid.New()
		for _, to := range []models.RequestStatus{models.StatusInitiated, models.StatusLabTestInProgress} {
			flow := &models.TestRequestFlow{
				RequestID:  7,
				ToStatus:   to,
				ChangedBy:  actor,
				HappenedOn: time.Now().UTC(),
				Payload:    map[string]interface{}{"note": string(to)},
			}
			require.NoError(t, repo.AppendFlow(ctx, flow))
			assert.NotZero(t, flow.ID)
		}

		flows, err := repo.FlowsFor(ctx, 7)
		require.NoError(t, err)
		require.Len(t, flows, 2)
		assert.Equal(t, models.StatusInitiated, flows[0].ToStatus)
		assert.Equal(t, "LAB_TEST_IN_PROGRESS", flows[1].Payload["note"])
		assert.Equal(t, actor, flows[1].ChangedBy)
	})
}

func TestRepositorySaveTransition(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		req := newRequest("Asha", "asha@example.com", "9876543210")
		require.NoError(t, repo.Create(ctx, req))

		tester := uuid.New()
		req.Status = models.StatusLabTestInProgress
		req.LabResult = &models.LabResult{Tester: tester, UpdatedOn: time.Now().UTC()}
		require.NoError(t, repo.SaveTransition(ctx, req, models.StatusInitiated))

		stale := *req
		stale.LabResult = &models.LabResult{Tester: uuid.New(), UpdatedOn: time.Now().UTC()}
		err := repo.SaveTransition(ctx, &stale, models.StatusInitiated)
		assert.True(t, errors.Is(err, ErrStaleStatus))

		got, err := repo.FindByID(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusLabTestInProgress, got.Status)
		require.NotNil(t, got.LabResult)
		assert.Equal(t, tester, got.LabResult.Tester)
	})
}

func TestConcurrentAdvanceHasOneWinner(t *testing.T) {
	forEachRepository(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		wf := NewWorkflow(repo, newFlowLog(t, nil))
		req := newRequest("Asha", "asha@example.com", "9876543210")
		require.NoError(t, repo.Create(ctx, req))

		const testers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []uuid.UUID
			invalid int
		)
		for i := 0; i < testers; i++ {
			tester := models.User{ID: uuid.New(), Role: models.RoleTester}
			wg.Add(1)
			go func() {
				defer wg.Done()
				step := startLab
				step.Apply = func(r *models.TestRequest, now time.Time) (map[string]interface{}, error) {
					r.LabResult = &models.LabResult{Tester: tester.ID, UpdatedOn: now}
					return nil, nil
				}
				_, err := wf.Advance(ctx, req.RequestID, tester, step)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					winners = append(winners, tester.ID)
				} else if KindOf(err) == KindInvalidID {
					invalid++
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)
		assert.Equal(t, testers-1, invalid)

		got, err := repo.FindByID(ctx, req.RequestID)
		require.NoError(t, err)
		require.NotNil(t, got.LabResult)
		assert.Equal(t, winners[0], got.LabResult.Tester)

		flows, err := repo.FlowsFor(ctx, req.RequestID)
		require.NoError(t, err)
		assert.Len(t, flows, 1)
	})
}
