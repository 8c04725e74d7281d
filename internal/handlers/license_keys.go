package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mohitmehta601/agricure/internal/auth"
	"github.com/mohitmehta601/agricure/internal/models"
	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
)

// LicenseServiceInterface defines the license key operations exposed over HTTP
type LicenseServiceInterface interface {
	Provision(ctx context.Context, actorID string, entries []models.LicenseKeyProvision) (*models.ProvisionReport, error)
	Deactivate(ctx context.Context, actorID, id string) (*models.LicenseKey, error)
	Stats(ctx context.Context) (*models.LicenseStats, error)
	List(ctx context.Context, limit, offset int) ([]*models.LicenseKeyWithConsumer, error)
	KeyStatus(ctx context.Context, key string) (*models.KeyStatus, error)
	ValidateKey(ctx context.Context, key string) (*models.LicenseKey, error)
}

// LicenseKeyHandler handles product key HTTP requests
type LicenseKeyHandler struct {
	service LicenseServiceInterface
}

func NewLicenseKeyHandler(service LicenseServiceInterface) *LicenseKeyHandler {
	return &LicenseKeyHandler{service: service}
}

type ProvisionEntry struct {
	Key         string `json:"key" validate:"max=64"`
	ProductName string `json:"productName" validate:"max=100"`
	ProductID   string `json:"productId,omitempty" validate:"max=64"`
}

// ProvisionRequest accepts either a single key or a batch under "keys"
type ProvisionRequest struct {
	ProvisionEntry
	Keys []ProvisionEntry `json:"keys,omitempty" validate:"omitempty,max=1000,dive"`
}

func (r ProvisionRequest) entries() []models.LicenseKeyProvision {
	src := r.Keys
	if len(src) == 0 && (r.Key != "" || r.ProductName != "") {
		src = []ProvisionEntry{r.ProvisionEntry}
	}

	out := make([]models.LicenseKeyProvision, 0, len(src))
	for _, e := range src {
		out = append(out, models.LicenseKeyProvision{Key: e.Key, ProductName: e.ProductName, ProductID: e.ProductID})
	}
	return out
}

type ValidateKeyRequest struct {
	Key string `json:"key" validate:"max=64"`
}

type ValidateKeyResponse struct {
	Valid       bool   `json:"valid"`
	ProductName string `json:"productName,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message"`
}

type DeactivateResponse struct {
	Message    string             `json:"message"`
	ProductKey *models.LicenseKey `json:"productKey"`
}

// Status handles GET /api/product-keys/status/{key}
func (h *LicenseKeyHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.KeyStatus(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Product key not found")
			return
		}
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// Validate handles POST /api/product-keys/validate. The key is not consumed.
func (h *LicenseKeyHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateKeyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	key, err := h.service.ValidateKey(r.Context(), req.Key)
	if err != nil {
		var kerr *models.Error
		if !errors.As(err, &kerr) || kerr.Kind == models.KindStoreUnavailable || kerr.Kind == models.KindMissingField {
			writeServiceError(w, err)
			return
		}

		status := http.StatusBadRequest
		if kerr.Kind == models.KindInvalidLicense {
			status = http.StatusNotFound
		}
		pkghttp.WriteJSON(w, status, ValidateKeyResponse{Error: string(kerr.Kind), Message: kerr.Message})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ValidateKeyResponse{
		Valid:       true,
		ProductName: key.ProductName,
		Message:     "Product key is valid and available",
	})
}

// List handles GET /api/product-keys?limit=&offset=
func (h *LicenseKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	keys, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, keys)
}

// Provision handles POST /api/product-keys
func (h *LicenseKeyHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	report, err := h.service.Provision(r.Context(), actorID(r), req.entries())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if len(report.Added) > 0 {
		status = http.StatusCreated
	}
	pkghttp.WriteJSON(w, status, report)
}

// Deactivate handles PATCH /api/product-keys/{id}/deactivate
func (h *LicenseKeyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteNotFound(w, "Product key not found")
		return
	}

	key, err := h.service.Deactivate(r.Context(), actorID(r), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Product key not found")
			return
		}
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, DeactivateResponse{Message: "Product key deactivated", ProductKey: key})
}

// Stats handles GET /api/product-keys/stats
func (h *LicenseKeyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

func actorID(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	return ""
}
