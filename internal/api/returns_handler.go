package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/returns"
)

// ReturnsHandler — HTTP-обвязка жизненного цикла возвратов и чтения заказов.
// Email в запросах разрешается в клиента на этом слое: сервисы работают
// только с идентификаторами.
type ReturnsHandler struct {
	returns   *returns.Service
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	logger    *log.Entry
}

// NewReturnsHandler конструирует обработчик эндпоинтов возвратов.
func NewReturnsHandler(
	svc *returns.Service,
	orders domain.OrderRepository,
	customers domain.CustomerRepository,
	logger *log.Entry,
) *ReturnsHandler {
	if logger == nil {
		logger = log.New().WithField("component", "api.returns")
	}
	return &ReturnsHandler{returns: svc, orders: orders, customers: customers, logger: logger}
}

type orderItemResponse struct {
	ID                 string `json:"id"`
	SKU                string `json:"sku"`
	Size               string `json:"size,omitempty"`
	Qty                int32  `json:"qty"`
	PriceMinor         int64  `json:"price_minor"`
	ReturnStatus       string `json:"return_status"`
	ReturnQty          int32  `json:"return_qty"`
	AvailableForReturn int32  `json:"available_for_return"`
}

type orderResponse struct {
	OrderID                string              `json:"order_id"`
	CustomerID             string              `json:"customer_id"`
	Status                 string              `json:"status"`
	Currency               string              `json:"currency"`
	Items                  []orderItemResponse `json:"items"`
	OriginalAmountMinor    int64               `json:"original_amount_minor"`
	CouponCode             string              `json:"coupon_code,omitempty"`
	CouponDiscountMinor    int64               `json:"coupon_discount_minor,omitempty"`
	TotalPriceMinor        int64               `json:"total_price_minor"`
	Delivered              bool                `json:"delivered"`
	DeliveredAt            *time.Time          `json:"delivered_at,omitempty"`
	HasReturns             bool                `json:"has_returns"`
	TotalReturnAmountMinor int64               `json:"total_return_amount_minor"`
	ReturnEligible         bool                `json:"return_eligible"`
	CreatedAt              time.Time           `json:"created_at"`
}

type returnItemResponse struct {
	OrderItemID string `json:"order_item_id"`
	SKU         string `json:"sku"`
	Size        string `json:"size,omitempty"`
	Qty         int32  `json:"qty"`
	PriceMinor  int64  `json:"price_minor"`
	Reason      string `json:"reason,omitempty"`
}

type timelineEntryResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Occurred time.Time `json:"occurred_at"`
}

type returnResponse struct {
	ID                string                  `json:"id"`
	OrderID           string                  `json:"order_id"`
	CustomerID        string                  `json:"customer_id"`
	Status            string                  `json:"status"`
	Method            string                  `json:"method"`
	PickupAddress     string                  `json:"pickup_address,omitempty"`
	Reason            string                  `json:"reason,omitempty"`
	Items             []returnItemResponse    `json:"items"`
	ReturnAmountMinor int64                   `json:"return_amount_minor"`
	RefundAmountMinor int64                   `json:"refund_amount_minor"`
	AdminNotes        string                  `json:"admin_notes,omitempty"`
	Timeline          []timelineEntryResponse `json:"timeline"`
	ApprovedAt        *time.Time              `json:"approved_at,omitempty"`
	PickupScheduledAt *time.Time              `json:"pickup_scheduled_at,omitempty"`
	ItemsReceivedAt   *time.Time              `json:"items_received_at,omitempty"`
	RefundProcessedAt *time.Time              `json:"refund_processed_at,omitempty"`
	CompletedAt       *time.Time              `json:"completed_at,omitempty"`
	CancelledAt       *time.Time              `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

type transitionReturnRequest struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	AdminNotes   string `json:"admin_notes,omitempty"`
	RefundAmount int64  `json:"refund_amount,omitempty"`
}

// GetOrder обрабатывает GET /api/orders/{orderID}.
func (h *ReturnsHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetByOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// Eligibility обрабатывает GET /api/orders/{orderID}/return-eligibility.
// Необязательный параметр customer_id включает проверку принадлежности.
func (h *ReturnsHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	result, err := h.returns.Eligibility(r.Context(), chi.URLParam(r, "orderID"), r.URL.Query().Get("customer_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateReturn обрабатывает POST /api/returns.
func (h *ReturnsHandler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	var req returns.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	ret, err := h.returns.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReturnResponse(ret))
}

// GetReturn обрабатывает GET /api/returns/{returnID}. Параметр customer_id
// ограничивает доступ владельцем; без него запрос административный.
func (h *ReturnsHandler) GetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := h.returns.Get(r.Context(), chi.URLParam(r, "returnID"), r.URL.Query().Get("customer_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnResponse(ret))
}

// ListReturns обрабатывает GET /api/returns?email= (или ?customer_id=).
// Email без учётной записи даёт пустой список, а не 404.
func (h *ReturnsHandler) ListReturns(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if email := r.URL.Query().Get("email"); customerID == "" && email != "" {
		if !domain.ValidEmail(email) {
			writeError(w, h.logger, domain.ErrEmailInvalid)
			return
		}
		customer, err := h.customers.GetByEmail(domain.NormalizeEmail(email))
		if err != nil {
			if errors.Is(err, domain.ErrCustomerNotFound) {
				writeJSON(w, http.StatusOK, []returnResponse{})
				return
			}
			writeError(w, h.logger, err)
			return
		}
		customerID = customer.ID
	}

	list, err := h.returns.ListByCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := make([]returnResponse, 0, len(list))
	for _, ret := range list {
		resp = append(resp, toReturnResponse(ret))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Transition обрабатывает POST /api/admin/returns/{returnID}/status.
func (h *ReturnsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	ret, err := h.returns.Transition(r.Context(), returns.TransitionRequest{
		ReturnID:          chi.URLParam(r, "returnID"),
		ToStatus:          req.Status,
		Message:           req.Message,
		AdminNotes:        req.AdminNotes,
		RefundAmountMinor: req.RefundAmount,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnResponse(ret))
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:                 item.ID,
			SKU:                item.SKU,
			Size:               item.Size,
			Qty:                item.Qty,
			PriceMinor:         item.PriceMinor,
			ReturnStatus:       string(item.EffectiveReturnStatus()),
			ReturnQty:          item.ReturnQty,
			AvailableForReturn: item.AvailableForReturn(),
		})
	}
	return orderResponse{
		OrderID:                order.OrderID,
		CustomerID:             order.CustomerID,
		Status:                 string(order.Status),
		Currency:               order.Currency,
		Items:                  items,
		OriginalAmountMinor:    order.OriginalAmountMinor,
		CouponCode:             order.CouponCode,
		CouponDiscountMinor:    order.CouponDiscountMinor,
		TotalPriceMinor:        order.TotalPriceMinor,
		Delivered:              order.Delivered,
		DeliveredAt:            order.DeliveredAt,
		HasReturns:             order.HasReturns,
		TotalReturnAmountMinor: order.TotalReturnAmountMinor,
		ReturnEligible:         order.ReturnEligible,
		CreatedAt:              order.CreatedAt,
	}
}

func toReturnResponse(ret domain.Return) returnResponse {
	items := make([]returnItemResponse, 0, len(ret.Items))
	for _, item := range ret.Items {
		items = append(items, returnItemResponse{
			OrderItemID: item.OrderItemID,
			SKU:         item.SKU,
			Size:        item.Size,
			Qty:         item.Qty,
			PriceMinor:  item.PriceMinor,
			Reason:      item.Reason,
		})
	}
	timeline := make([]timelineEntryResponse, 0, len(ret.Timeline))
	for _, entry := range ret.Timeline {
		timeline = append(timeline, timelineEntryResponse{
			Status:   string(entry.Status),
			Message:  entry.Message,
			Occurred: entry.Occurred,
		})
	}
	return returnResponse{
		ID:                ret.ID,
		OrderID:           ret.OrderID,
		CustomerID:        ret.CustomerID,
		Status:            string(ret.Status),
		Method:            string(ret.Method),
		PickupAddress:     ret.PickupAddress,
		Reason:            ret.Reason,
		Items:             items,
		ReturnAmountMinor: ret.ReturnAmountMinor,
		RefundAmountMinor: ret.EffectiveRefundMinor(),
		AdminNotes:        ret.AdminNotes,
		Timeline:          timeline,
		ApprovedAt:        ret.ApprovedAt,
		PickupScheduledAt: ret.PickupScheduledAt,
		ItemsReceivedAt:   ret.ItemsReceivedAt,
		RefundProcessedAt: ret.RefundProcessedAt,
		CompletedAt:       ret.CompletedAt,
		CancelledAt:       ret.CancelledAt,
		CreatedAt:         ret.CreatedAt,
		UpdatedAt:         ret.UpdatedAt,
	}
}
