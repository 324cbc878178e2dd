package api

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/promo"
)

// PromoHandler — HTTP-обвязка промо-сервиса. Только транспорт: декодирование,
// вызов сервиса, сериализация результата.
type PromoHandler struct {
	promo  *promo.Service
	logger *log.Entry
}

// NewPromoHandler конструирует обработчик купонных эндпоинтов.
func NewPromoHandler(svc *promo.Service, logger *log.Entry) *PromoHandler {
	if logger == nil {
		logger = log.New().WithField("component", "api.promo")
	}
	return &PromoHandler{promo: svc, logger: logger}
}

type validateCouponRequest struct {
	Code          string `json:"code"`
	OrderAmount   int64  `json:"order_amount"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

type applyCouponRequest struct {
	Code          string `json:"code"`
	OrderAmount   int64  `json:"order_amount"`
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
}

// Validate обрабатывает POST /api/coupons/validate. Бизнес-отказ — это
// 200 с valid=false и причиной, а не ошибка HTTP.
func (h *PromoHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	result, err := h.promo.Validate(r.Context(), req.Code, req.OrderAmount, req.CustomerEmail)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Apply обрабатывает POST /api/coupons/apply. Отклонённое погашение
// возвращается как 409 с applied=false: клиент различает исход по телу.
func (h *PromoHandler) Apply(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	result, err := h.promo.Apply(r.Context(), req.Code, req.OrderAmount, req.OrderID, req.CustomerEmail)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if !result.Applied {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

// History обрабатывает GET /api/coupons/history?email=.
func (h *PromoHandler) History(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, h.logger, domain.ErrEmailInvalid)
		return
	}

	result, err := h.promo.History(r.Context(), email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
