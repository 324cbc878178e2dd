package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит доменную ошибку в HTTP-статус. Инфраструктурные сбои
// не раскрываются клиенту: наружу уходит обезличенный 500, детали — в журнал.
func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrReturnNotFound),
		errors.Is(err, domain.ErrCouponNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrOrderItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrReturnVersionConflict),
		errors.Is(err, domain.ErrTransitionInvalid),
		errors.Is(err, domain.ErrInsufficientReturnableQty),
		errors.Is(err, domain.ErrOrderNotEligibleForReturn),
		errors.Is(err, domain.ErrCouponAlreadyApplied),
		errors.Is(err, domain.ErrIdempotencyHashMismatch),
		errors.Is(err, domain.ErrRedemptionInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAmountNotPositive),
		errors.Is(err, domain.ErrCouponCodeInvalid),
		errors.Is(err, domain.ErrEmailInvalid),
		errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrReturnItemsRequired),
		errors.Is(err, domain.ErrReturnMethodInvalid),
		errors.Is(err, domain.ErrReturnStatusInvalid),
		errors.Is(err, domain.ErrPickupAddressRequired),
		errors.Is(err, domain.ErrItemQtyInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
