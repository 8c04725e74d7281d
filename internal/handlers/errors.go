package handlers

import (
	"errors"
	"net/http"

	"github.com/mohitmehta601/agricure/internal/models"
	pkghttp "github.com/mohitmehta601/agricure/pkg/http"
)

var kindStatus = map[models.Kind]int{
	models.KindMissingField:         http.StatusBadRequest,
	models.KindDuplicateIdentity:    http.StatusConflict,
	models.KindInvalidLicense:       http.StatusBadRequest,
	models.KindAlreadyUsed:          http.StatusBadRequest,
	models.KindInvalidOrExpiredCode: http.StatusBadRequest,
	models.KindPendingNotFound:      http.StatusBadRequest,
	models.KindDeliveryFailed:       http.StatusBadGateway,
	models.KindInvalidCredentials:   http.StatusUnauthorized,
	models.KindRateLimited:          http.StatusTooManyRequests,
	models.KindStoreUnavailable:     http.StatusInternalServerError,
}

// writeServiceError maps a service error onto the JSON error envelope. The
// message of a kinded error is already safe to show; anything else is
// reported generically.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteNotFound(w, "Resource not found")
		return
	}

	var kerr *models.Error
	if !errors.As(err, &kerr) {
		pkghttp.WriteInternalError(w, models.ErrStoreUnavailable.Message)
		return
	}

	status, ok := kindStatus[kerr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	pkghttp.WriteError(w, status, string(kerr.Kind), kerr.Message)
}

func writeInvalidRequest(w http.ResponseWriter, message string) {
	pkghttp.WriteError(w, http.StatusBadRequest, string(models.KindMissingField), message)
}
