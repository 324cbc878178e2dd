package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/promo"
	"github.com/vladislavdragonenkov/storefront/internal/service/returns"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type apiFixture struct {
	router    http.Handler
	coupons   domain.CouponRepository
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	returns   domain.ReturnRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		coupons:   memory.NewCouponRepository(),
		orders:    memory.NewOrderRepository(),
		customers: memory.NewCustomerRepository(),
		returns:   memory.NewReturnRepository(),
	}
	outbox := memory.NewOutboxRepository()

	promoSvc := promo.NewService(f.coupons, f.orders, f.customers, outbox, memory.NewIdempotencyRepository(), nil, nil)
	returnsSvc := returns.NewService(f.orders, f.returns, outbox, nil)

	f.router = NewRouter(
		NewPromoHandler(promoSvc, nil),
		NewReturnsHandler(returnsSvc, f.orders, f.customers, nil),
		nil,
	)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (f *apiFixture) seedCoupon(t *testing.T, code string, percent, limit int64) {
	t.Helper()
	require.NoError(t, f.coupons.Create(domain.Coupon{
		Code:          code,
		Kind:          domain.CouponKindMinimumAmount,
		DiscountKind:  domain.DiscountKindPercentage,
		DiscountValue: percent,
		UsageLimit:    limit,
		Active:        true,
	}))
}

func (f *apiFixture) seedOrder(t *testing.T, orderID, customerID string) domain.Order {
	t.Helper()

	order := domain.Order{
		ID:         "int-" + orderID,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     domain.OrderStatusPending,
		Currency:   "RUB",
		Items: []domain.OrderItem{
			{ID: orderID + "-item-1", SKU: "shirt-1", Size: "M", Qty: 2, PriceMinor: 3000},
		},
		OriginalAmountMinor: 6000,
		TotalPriceMinor:     6000,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, f.orders.Create(order))
	return order
}

func (f *apiFixture) seedDeliveredOrder(t *testing.T, orderID, customerID string) domain.Order {
	t.Helper()

	deliveredAt := time.Now().UTC().Add(-24 * time.Hour)
	order := domain.Order{
		ID:         "int-" + orderID,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     domain.OrderStatusDelivered,
		Currency:   "RUB",
		Items: []domain.OrderItem{
			{ID: orderID + "-item-1", SKU: "shirt-1", Size: "M", Qty: 2, PriceMinor: 3000},
			{ID: orderID + "-item-2", SKU: "pants-1", Size: "L", Qty: 1, PriceMinor: 5000},
		},
		OriginalAmountMinor: 11000,
		TotalPriceMinor:     11000,
		Delivered:           true,
		DeliveredAt:         &deliveredAt,
		ReturnEligible:      true,
		CreatedAt:           deliveredAt.Add(-48 * time.Hour),
	}
	require.NoError(t, f.orders.Create(order))
	return order
}

func TestValidateEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCoupon(t, "summer10", 10, 0)

	rec := f.do(t, http.MethodPost, "/api/coupons/validate", validateCouponRequest{
		Code:        "SUMMER10",
		OrderAmount: 10000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[promo.ValidationResult](t, rec)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(1000), result.DiscountMinor)
	assert.Equal(t, int64(9000), result.FinalMinor)
}

func TestValidateEndpoint_BusinessRejectionIsOK(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/coupons/validate", validateCouponRequest{
		Code:        "missing1",
		OrderAmount: 10000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[promo.ValidationResult](t, rec)
	assert.False(t, result.Valid)
	assert.Equal(t, promo.ReasonNotFound, result.Reason)
}

func TestValidateEndpoint_BadInput(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/validate", bytes.NewBufferString("{not json"))
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/coupons/validate", validateCouponRequest{Code: "summer10"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCoupon(t, "once", 10, 1)
	f.seedOrder(t, "ord-1", "cust-1")
	f.seedOrder(t, "ord-2", "cust-2")

	rec := f.do(t, http.MethodPost, "/api/coupons/apply", applyCouponRequest{
		Code:          "once",
		OrderAmount:   6000,
		OrderID:       "ord-1",
		CustomerEmail: "first@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[promo.ApplyResult](t, rec)
	assert.True(t, result.Applied)
	assert.Equal(t, int64(600), result.DiscountMinor)
	assert.Equal(t, int64(5400), result.TotalMinor)

	// Квота выбрана: второе погашение отклоняется с 409 и причиной в теле.
	rec = f.do(t, http.MethodPost, "/api/coupons/apply", applyCouponRequest{
		Code:          "once",
		OrderAmount:   6000,
		OrderID:       "ord-2",
		CustomerEmail: "second@example.com",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	result = decodeBody[promo.ApplyResult](t, rec)
	assert.False(t, result.Applied)
	assert.Equal(t, promo.ReasonQuotaExceeded, result.Reason)
}

func TestApplyEndpoint_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCoupon(t, "once", 10, 1)

	tests := []struct {
		name string
		req  applyCouponRequest
		want int
	}{
		{
			name: "bad email",
			req:  applyCouponRequest{Code: "once", OrderAmount: 6000, OrderID: "ord-1", CustomerEmail: "not-an-email"},
			want: http.StatusBadRequest,
		},
		{
			name: "non-positive amount",
			req:  applyCouponRequest{Code: "once", OrderID: "ord-1", CustomerEmail: "a@b.com"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown order",
			req:  applyCouponRequest{Code: "once", OrderAmount: 6000, OrderID: "ghost", CustomerEmail: "a@b.com"},
			want: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/coupons/apply", tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCoupon(t, "save10", 10, 0)
	f.seedOrder(t, "ord-1", "cust-1")
	// История ищется по клиенту из email: заказ должен принадлежать этой учётке.
	require.NoError(t, f.customers.Create(domain.Customer{ID: "cust-1", Email: "buyer@example.com"}))

	rec := f.do(t, http.MethodPost, "/api/coupons/apply", applyCouponRequest{
		Code:          "save10",
		OrderAmount:   6000,
		OrderID:       "ord-1",
		CustomerEmail: "buyer@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/coupons/history?email=buyer@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	history := decodeBody[promo.HistoryResult](t, rec)
	require.Len(t, history.Orders, 1)
	assert.Equal(t, "save10", history.Orders[0].CouponCode)
	assert.Equal(t, int64(600), history.TotalSavedMinor)

	// Без email запрос не имеет смысла.
	rec = f.do(t, http.MethodGet, "/api/coupons/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDeliveredOrder(t, "ord-1", "cust-1")

	rec := f.do(t, http.MethodGet, "/api/orders/ord-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	order := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "ord-1", order.OrderID)
	assert.Equal(t, "delivered", order.Status)
	require.Len(t, order.Items, 2)
	assert.Equal(t, int32(2), order.Items[0].AvailableForReturn)

	rec = f.do(t, http.MethodGet, "/api/orders/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEligibilityEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDeliveredOrder(t, "ord-1", "cust-1")

	rec := f.do(t, http.MethodGet, "/api/orders/ord-1/return-eligibility?customer_id=cust-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[returns.EligibilityResult](t, rec)
	assert.True(t, result.Eligible)
	assert.Len(t, result.ReturnableItems, 2)

	// Чужой заказ недоступен даже для чтения пригодности.
	rec = f.do(t, http.MethodGet, "/api/orders/ord-1/return-eligibility?customer_id=intruder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReturnLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.seedDeliveredOrder(t, "ord-1", "cust-1")
	require.NoError(t, f.customers.Create(domain.Customer{ID: "cust-1", Email: "buyer@example.com"}))

	rec := f.do(t, http.MethodPost, "/api/returns", returns.CreateRequest{
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Items:      []returns.CreateItemRequest{{OrderItemID: "ord-1-item-1", Qty: 1, Reason: "too small"}},
		Method:     string(domain.ReturnMethodMail),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeBody[returnResponse](t, rec)
	assert.Equal(t, "requested", created.Status)
	assert.Equal(t, int64(3000), created.ReturnAmountMinor)
	require.Len(t, created.Timeline, 1)

	// Чтение с проверкой принадлежности.
	rec = f.do(t, http.MethodGet, "/api/returns/"+created.ID+"?customer_id=cust-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/returns/"+created.ID+"?customer_id=intruder", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Список по email находит заявку через учётную запись клиента.
	rec = f.do(t, http.MethodGet, "/api/returns?email=buyer@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]returnResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	// Неизвестный email — пустой список, а не 404.
	rec = f.do(t, http.MethodGet, "/api/returns?email=ghost@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]returnResponse](t, rec))

	// Административный перевод статуса.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/admin/returns/%s/status", created.ID), transitionReturnRequest{
		Status: string(domain.ReturnStatusApproved),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decodeBody[returnResponse](t, rec)
	assert.Equal(t, "approved", updated.Status)
	assert.NotNil(t, updated.ApprovedAt)
	require.Len(t, updated.Timeline, 2)

	// Недопустимый скачок статуса.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/admin/returns/%s/status", created.ID), transitionReturnRequest{
		Status: string(domain.ReturnStatusCompleted),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Несуществующий статус.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/admin/returns/%s/status", created.ID), transitionReturnRequest{
		Status: "melted",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateReturnRejections(t *testing.T) {
	f := newAPIFixture(t)
	f.seedOrder(t, "ord-pending", "cust-1")
	f.seedDeliveredOrder(t, "ord-1", "cust-1")

	// Недоставленный заказ непригоден к возврату.
	rec := f.do(t, http.MethodPost, "/api/returns", returns.CreateRequest{
		OrderID:    "ord-pending",
		CustomerID: "cust-1",
		Items:      []returns.CreateItemRequest{{OrderItemID: "ord-pending-item-1", Qty: 1}},
		Method:     string(domain.ReturnMethodMail),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Чужой заказ.
	rec = f.do(t, http.MethodPost, "/api/returns", returns.CreateRequest{
		OrderID:    "ord-1",
		CustomerID: "intruder",
		Items:      []returns.CreateItemRequest{{OrderItemID: "ord-1-item-1", Qty: 1}},
		Method:     string(domain.ReturnMethodMail),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Запрос больше доступного остатка.
	rec = f.do(t, http.MethodPost, "/api/returns", returns.CreateRequest{
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Items:      []returns.CreateItemRequest{{OrderItemID: "ord-1-item-1", Qty: 5}},
		Method:     string(domain.ReturnMethodMail),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// pickup без адреса.
	rec = f.do(t, http.MethodPost, "/api/returns", returns.CreateRequest{
		OrderID:    "ord-1",
		CustomerID: "cust-1",
		Items:      []returns.CreateItemRequest{{OrderItemID: "ord-1-item-1", Qty: 1}},
		Method:     string(domain.ReturnMethodPickup),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
