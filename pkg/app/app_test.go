package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upstac/platform/pkg/common/config"
	"github.com/upstac/platform/pkg/common/models"
	"github.com/upstac/platform/pkg/seed"
)

type client struct {
	t      *testing.T
	router http.Handler
	token  string
}

func (c *client) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, router http.Handler, email, password string) *client {
	t.Helper()
	anon := &client{t: t, router: router}
	rec := anon.do(http.MethodPost, "/auth/login", models.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &client{t: t, router: router, token: resp.Token}
}

func newMemoryApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Load()
	cfg.StorageDriver = "memory"
	cfg.RateLimitBurst = 10000
	cfg.OIDCIssuer = ""
	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Migrate())
	_, err = a.Seeder().Apply(context.Background(), seed.DefaultFixtures())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestEndToEndWorkflow(t *testing.T) {
	a := newMemoryApp(t)
	router := a.Router()

	anon := &client{t: t, router: router}
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/labrequests/to-be-tested", nil).Code)
	assert.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, anon.do(http.MethodGet, "/ready", nil).Code)

	rec := anon.do(http.MethodPost, "/auth/register", models.RegisterUserRequest{Email: "new@example.com", Name: "New", Password: "pw"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	patient := login(t, router, "new@example.com", "pw")

	rec = patient.do(http.MethodPost, "/api/testrequests", models.CreateTestRequest{
		Name:        "New Patient",
		Gender:      models.GenderMale,
		Age:         52,
		Email:       "new@example.com",
		PhoneNumber: "9000000001",
		Address:     "1 Park Street, Kolkata",
		PinCode:     700016,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.TestRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := strconv.FormatInt(created.RequestID, 10)

	doctor := login(t, router, "doctor@upstac.in", "doctor")
	assert.Equal(t, http.StatusForbidden, doctor.do(http.MethodPut, "/api/labrequests/assign/"+id, nil).Code)

	tester := login(t, router, "tester@upstac.in", "tester")
	require.Equal(t, http.StatusOK, tester.do(http.MethodPut, "/api/labrequests/assign/"+id, nil).Code)
	rec = tester.do(http.MethodPut, "/api/labrequests/update/"+id, seed.LabResultFor(models.TestPositive))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, tester.do(http.MethodPut, "/api/consultations/assign/"+id, nil).Code)
	require.Equal(t, http.StatusOK, doctor.do(http.MethodPut, "/api/consultations/assign/"+id, nil).Code)
	rec = doctor.do(http.MethodPut, "/api/consultations/update/"+id, seed.ConsultationFor(models.TestPositive))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = patient.do(http.MethodGet, "/api/testrequests/"+id+"/flows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var flows []models.TestRequestFlow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flows))
	assert.Len(t, flows, 5)

	rec = patient.do(http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notes []models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notes))
	require.Len(t, notes, 5)
	assert.Equal(t, models.StatusCompleted, notes[0].Status)
	assert.Contains(t, notes[0].Message, "HOME_QUARANTINE")

	rec = tester.do(http.MethodGet, "/api/overview", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusForbidden, patient.do(http.MethodGet, "/api/overview", nil).Code)
}

func TestInvalidIDOverHTTP(t *testing.T) {
	a := newMemoryApp(t)
	tester := login(t, a.Router(), "tester@upstac.in", "tester")

	rec := tester.do(http.MethodPut, "/api/labrequests/assign/-34", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid ID")
}
