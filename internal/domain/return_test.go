package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания заявки на возврат одной позиции.
func makeReturn() domain.Return {
	now := time.Now().UTC()
	return domain.Return{
		ID:         "return-1",
		OrderID:    "order-1",
		CustomerID: "customer-1",
		Items: []domain.ReturnItem{
			{
				OrderItemID: "item-1",
				SKU:         "sku-1",
				Size:        "M",
				Qty:         2,
				PriceMinor:  300,
				Reason:      "wrong_size",
			},
		},
		Reason:            "wrong_size",
		Method:            domain.ReturnMethodPickup,
		PickupAddress:     "10 Main st.",
		Status:            domain.ReturnStatusRequested,
		ReturnAmountMinor: 600,
		Timeline: []domain.TimelineEntry{
			{
				Status:   domain.ReturnStatusRequested,
				Message:  domain.ReturnStatusRequested.CanonicalMessage(),
				Occurred: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestReturnValidateInvariants(t *testing.T) {
	ret := makeReturn()
	if errs := ret.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}

	cases := []struct {
		name string
		mut  func(r *domain.Return)
	}{
		{
			name: "no items",
			mut: func(r *domain.Return) {
				r.Items = nil
			},
		},
		{
			name: "bad method",
			mut: func(r *domain.Return) {
				r.Method = "teleport"
			},
		},
		{
			name: "amount mismatch",
			mut: func(r *domain.Return) {
				r.ReturnAmountMinor = 1
			},
		},
		{
			name: "zero qty",
			mut: func(r *domain.Return) {
				r.Items[0].Qty = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ret := makeReturn()
			tc.mut(&ret)

			if len(ret.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestReturnCanTransition(t *testing.T) {
	cases := []struct {
		from domain.ReturnStatus
		to   domain.ReturnStatus
		want bool
	}{
		{from: domain.ReturnStatusRequested, to: domain.ReturnStatusApproved, want: true},
		{from: domain.ReturnStatusRequested, to: domain.ReturnStatusRejected, want: true},
		{from: domain.ReturnStatusRequested, to: domain.ReturnStatusRefundProcessed, want: false},
		{from: domain.ReturnStatusApproved, to: domain.ReturnStatusPickupScheduled, want: true},
		{from: domain.ReturnStatusPickupScheduled, to: domain.ReturnStatusItemsReceived, want: true},
		{from: domain.ReturnStatusItemsReceived, to: domain.ReturnStatusItemsInspected, want: true},
		{from: domain.ReturnStatusItemsInspected, to: domain.ReturnStatusRefundProcessed, want: true},
		{from: domain.ReturnStatusRefundProcessed, to: domain.ReturnStatusCompleted, want: true},
		// Отмена из любого нетерминального статуса.
		{from: domain.ReturnStatusRequested, to: domain.ReturnStatusCancelled, want: true},
		{from: domain.ReturnStatusRefundProcessed, to: domain.ReturnStatusCancelled, want: true},
		// Терминальные статусы не переходят никуда.
		{from: domain.ReturnStatusCompleted, to: domain.ReturnStatusCancelled, want: false},
		{from: domain.ReturnStatusRejected, to: domain.ReturnStatusApproved, want: false},
		{from: domain.ReturnStatusCancelled, to: domain.ReturnStatusRequested, want: false},
		// Переходы назад запрещены.
		{from: domain.ReturnStatusItemsReceived, to: domain.ReturnStatusApproved, want: false},
	}

	for _, tc := range cases {
		ret := makeReturn()
		ret.Status = tc.from
		if got := ret.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestReturnStatusCanonicalMessages_Exhaustive(t *testing.T) {
	statuses := []domain.ReturnStatus{
		domain.ReturnStatusRequested,
		domain.ReturnStatusApproved,
		domain.ReturnStatusRejected,
		domain.ReturnStatusPickupScheduled,
		domain.ReturnStatusItemsReceived,
		domain.ReturnStatusItemsInspected,
		domain.ReturnStatusRefundProcessed,
		domain.ReturnStatusCompleted,
		domain.ReturnStatusCancelled,
	}

	for _, status := range statuses {
		if status.CanonicalMessage() == "" {
			t.Fatalf("status %s has no canonical message", status)
		}
	}
}

func TestReturnApplyTransition(t *testing.T) {
	now := time.Now().UTC()

	t.Run("sets milestone and timeline", func(t *testing.T) {
		ret := makeReturn()

		ret.ApplyTransition(domain.ReturnStatusApproved, "", now)

		if ret.Status != domain.ReturnStatusApproved {
			t.Fatalf("status = %s, want approved", ret.Status)
		}
		if ret.ApprovedAt == nil || !ret.ApprovedAt.Equal(now) {
			t.Fatal("expected ApprovedAt milestone")
		}
		last := ret.Timeline[len(ret.Timeline)-1]
		if last.Status != domain.ReturnStatusApproved {
			t.Fatalf("timeline status = %s, want approved", last.Status)
		}
		if last.Message != domain.ReturnStatusApproved.CanonicalMessage() {
			t.Fatalf("timeline message = %q", last.Message)
		}
	})

	t.Run("admin note wins over canonical message", func(t *testing.T) {
		ret := makeReturn()

		ret.ApplyTransition(domain.ReturnStatusRejected, "items are not in resalable condition", now)

		last := ret.Timeline[len(ret.Timeline)-1]
		if last.Message != "items are not in resalable condition" {
			t.Fatalf("timeline message = %q", last.Message)
		}
	})

	t.Run("every transition appends exactly one entry", func(t *testing.T) {
		ret := makeReturn()
		path := []domain.ReturnStatus{
			domain.ReturnStatusApproved,
			domain.ReturnStatusPickupScheduled,
			domain.ReturnStatusItemsReceived,
			domain.ReturnStatusItemsInspected,
			domain.ReturnStatusRefundProcessed,
			domain.ReturnStatusCompleted,
		}

		for i, status := range path {
			before := len(ret.Timeline)
			ret.ApplyTransition(status, "", now.Add(time.Duration(i)*time.Second))
			if len(ret.Timeline) != before+1 {
				t.Fatalf("transition to %s appended %d entries", status, len(ret.Timeline)-before)
			}
			if ret.Timeline[len(ret.Timeline)-1].Status != status {
				t.Fatalf("timeline entry status mismatch for %s", status)
			}
		}

		if ret.RefundProcessedAt == nil || ret.CompletedAt == nil {
			t.Fatal("expected refund and completion milestones")
		}
	})
}

func TestReturnEffectiveRefund(t *testing.T) {
	ret := makeReturn()
	if got := ret.EffectiveRefundMinor(); got != 600 {
		t.Fatalf("effective refund = %d, want 600 (default to return amount)", got)
	}

	ret.RefundAmountMinor = 450
	if got := ret.EffectiveRefundMinor(); got != 450 {
		t.Fatalf("effective refund = %d, want 450", got)
	}
}
