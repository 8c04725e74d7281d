package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mohitmehta601/agricure/internal/handlers"
	"github.com/mohitmehta601/agricure/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve routes req through a chi router so URL params resolve
func serve(h *handlers.LicenseKeyHandler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/product-keys/status/{key}", h.Status)
	r.Post("/api/product-keys/validate", h.Validate)
	r.Get("/api/product-keys", h.List)
	r.Post("/api/product-keys", h.Provision)
	r.Patch("/api/product-keys/{id}/deactivate", h.Deactivate)
	r.Get("/api/product-keys/stats", h.Stats)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLicenseKeyHandler_Status(t *testing.T) {
	svc := &MockLicenseService{
		KeyStatusFunc: func(ctx context.Context, key string) (*models.KeyStatus, error) {
			if key == "ABC123" {
				return &models.KeyStatus{Key: key, ProductName: "AgriCure Pro", IsActive: true, Available: true}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	h := handlers.NewLicenseKeyHandler(svc)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/product-keys/status/ABC123", nil))
	var status models.KeyStatus
	assertJSONResponse(t, w, http.StatusOK, &status)
	assert.True(t, status.Available)

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/product-keys/status/NOPE", nil))
	assertErrorResponse(t, w, http.StatusNotFound, "not_found", "Product key not found")
}

func TestLicenseKeyHandler_Validate(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantValid  bool
	}{
		{"available", nil, http.StatusOK, true},
		{"unknown", models.ErrInvalidLicense, http.StatusNotFound, false},
		{"used", models.ErrAlreadyUsed, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockLicenseService{
				ValidateKeyFunc: func(ctx context.Context, key string) (*models.LicenseKey, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &models.LicenseKey{Key: key, ProductName: "AgriCure Pro", IsActive: true}, nil
				},
			}
			h := handlers.NewLicenseKeyHandler(svc)

			w := serve(h, newTestRequest(t, http.MethodPost, "/api/product-keys/validate", handlers.ValidateKeyRequest{Key: "ABC123"}))

			var resp handlers.ValidateKeyResponse
			assertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.Equal(t, tt.wantValid, resp.Valid)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestLicenseKeyHandler_Provision(t *testing.T) {
	var got []models.LicenseKeyProvision
	var gotActor string
	svc := &MockLicenseService{
		ProvisionFunc: func(ctx context.Context, actorID string, entries []models.LicenseKeyProvision) (*models.ProvisionReport, error) {
			got, gotActor = entries, actorID
			return &models.ProvisionReport{Added: []string{"A"}, Skipped: []string{}, Failed: []models.ProvisionFailure{}}, nil
		},
	}
	h := handlers.NewLicenseKeyHandler(svc)

	t.Run("single", func(t *testing.T) {
		req := newTestRequest(t, http.MethodPost, "/api/product-keys", map[string]string{"key": "A", "productName": "AgriCure Pro"})
		w := serve(h, withAuthContext(req, "admin-1"))

		assert.Equal(t, http.StatusCreated, w.Code)
		require.Len(t, got, 1)
		assert.Equal(t, "A", got[0].Key)
		assert.Equal(t, "admin-1", gotActor)
	})

	t.Run("batch", func(t *testing.T) {
		body := map[string]any{"keys": []map[string]string{
			{"key": "A", "productName": "AgriCure Pro"},
			{"key": "B", "productName": "AgriCure Lite", "productId": "lite"},
		}}
		w := serve(h, withAuthContext(newTestRequest(t, http.MethodPost, "/api/product-keys", body), "admin-1"))

		var report models.ProvisionReport
		assertJSONResponse(t, w, http.StatusCreated, &report)
		require.Len(t, got, 2)
		assert.Equal(t, "lite", got[1].ProductID)
	})
}

func TestLicenseKeyHandler_Deactivate(t *testing.T) {
	const keyID = "4f6c2a9e-1b7d-4c3e-9a52-8d0e6f1b2c34"
	calls := 0
	svc := &MockLicenseService{
		DeactivateFunc: func(ctx context.Context, actorID, id string) (*models.LicenseKey, error) {
			calls++
			if id == keyID {
				return &models.LicenseKey{ID: id, Key: "A", IsActive: false}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	h := handlers.NewLicenseKeyHandler(svc)

	w := serve(h, httptest.NewRequest(http.MethodPatch, "/api/product-keys/"+keyID+"/deactivate", nil))
	var resp handlers.DeactivateResponse
	assertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "Product key deactivated", resp.Message)
	assert.False(t, resp.ProductKey.IsActive)

	w = serve(h, httptest.NewRequest(http.MethodPatch, "/api/product-keys/9b1e0c52-7a3f-4d8e-b6c1-2f5a4e3d7c10/deactivate", nil))
	assertErrorResponse(t, w, http.StatusNotFound, "not_found", "Product key not found")
	assert.Equal(t, 2, calls)

	// A malformed ID never reaches the store
	w = serve(h, httptest.NewRequest(http.MethodPatch, "/api/product-keys/not-a-uuid/deactivate", nil))
	assertErrorResponse(t, w, http.StatusNotFound, "not_found", "Product key not found")
	assert.Equal(t, 2, calls)
}

func TestLicenseKeyHandler_ListAndStats(t *testing.T) {
	var gotLimit, gotOffset int
	svc := &MockLicenseService{
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error) {
			gotLimit, gotOffset = limit, offset
			email := "a@x.com"
			return []*models.LicenseKeyWithConsumer{{LicenseKey: models.LicenseKey{Key: "A", IsUsed: true}, UsedByEmail: &email}}, nil
		},
		StatsFunc: func(ctx context.Context) (*models.LicenseStats, error) {
			return nil, models.StoreUnavailable(errors.New("timeout"))
		},
	}
	h := handlers.NewLicenseKeyHandler(svc)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/product-keys?limit=10&offset=20", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, gotLimit)
	assert.Equal(t, 20, gotOffset)

	var keys []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, "a@x.com", keys[0]["used_by_email"])

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/product-keys/stats", nil))
	assertErrorResponse(t, w, http.StatusInternalServerError, "store_unavailable", "")
	assert.NotContains(t, w.Body.String(), "timeout")
}
