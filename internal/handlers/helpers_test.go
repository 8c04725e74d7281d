package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohitmehta601/agricure/internal/auth"
	"github.com/mohitmehta601/agricure/internal/models"
	"github.com/mohitmehta601/agricure/internal/services"
	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRequest creates an HTTP request with JSON body for testing
func newTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withAuthContext adds user claims to request context for testing authenticated endpoints
func withAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID}
	claims.ID = "jti-" + userID
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// assertJSONResponse checks that response has correct status and decodes JSON body
func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// assertErrorResponse checks that response is a valid error response
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError, expectedMessage string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	if expectedMessage != "" {
		assert.Equal(t, expectedMessage, resp.Message)
	} else {
		assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	}
}

// MockSignupService implements handlers.SignupServiceInterface for testing
type MockSignupService struct {
	InitiateFunc func(ctx context.Context, req services.InitiateRequest) (*models.SignupStarted, error)
	ConfirmFunc  func(ctx context.Context, email, code string) (*models.Session, error)
	ResendFunc   func(ctx context.Context, email string) error
}

func (m *MockSignupService) Initiate(ctx context.Context, req services.InitiateRequest) (*models.SignupStarted, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockSignupService) Confirm(ctx context.Context, email, code string) (*models.Session, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, email, code)
	}
	return nil, nil
}

func (m *MockSignupService) Resend(ctx context.Context, email string) error {
	if m.ResendFunc != nil {
		return m.ResendFunc(ctx, email)
	}
	return nil
}

// MockAuthService implements handlers.AuthServiceInterface for testing
type MockAuthService struct {
	AuthenticateFunc   func(ctx context.Context, email, password string) (*models.Session, error)
	ChangePasswordFunc func(ctx context.Context, userID, currentPassword, newPassword string) error
	LogoutFunc         func(ctx context.Context, claims *models.TokenClaims) error
}

func (m *MockAuthService) Authenticate(ctx context.Context, email, password string) (*models.Session, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, email, password)
	}
	return nil, nil
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword)
	}
	return nil
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, claims)
	}
	return nil
}

// MockLicenseService implements handlers.LicenseServiceInterface for testing
type MockLicenseService struct {
	ProvisionFunc   func(ctx context.Context, actorID string, entries []models.LicenseKeyProvision) (*models.ProvisionReport, error)
	DeactivateFunc  func(ctx context.Context, actorID, id string) (*models.LicenseKey, error)
	StatsFunc       func(ctx context.Context) (*models.LicenseStats, error)
	ListFunc        func(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error)
	KeyStatusFunc   func(ctx context.Context, key string) (*models.KeyStatus, error)
	ValidateKeyFunc func(ctx context.Context, key string) (*models.LicenseKey, error)
}

func (m *MockLicenseService) Provision(ctx context.Context, actorID string, entries []models.LicenseKeyProvision) (*models.ProvisionReport, error) {
	return m.ProvisionFunc(ctx, actorID, entries)
}

func (m *MockLicenseService) Deactivate(ctx context.Context, actorID, id string) (*models.LicenseKey, error) {
	return m.DeactivateFunc(ctx, actorID, id)
}

func (m *MockLicenseService) Stats(ctx context.Context) (*models.LicenseStats, error) {
	return m.StatsFunc(ctx)
}

func (m *MockLicenseService) List(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error) {
	return m.ListFunc(ctx, limit, offset)
}

func (m *MockLicenseService) KeyStatus(ctx context.Context, key string) (*models.KeyStatus, error) {
	return m.KeyStatusFunc(ctx, key)
}

func (m *MockLicenseService) ValidateKey(ctx context.Context, key string) (*models.LicenseKey, error) {
	return m.ValidateKeyFunc(ctx, key)
}
