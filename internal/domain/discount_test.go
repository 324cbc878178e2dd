package domain_test

import (
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestCalculateDiscount_Percentage(t *testing.T) {
	cases := []struct {
		name         string
		value        int64
		cap          int64
		amount       int64
		wantDiscount int64
		wantFinal    int64
	}{
		{name: "plain percent", value: 10, cap: 0, amount: 10000, wantDiscount: 1000, wantFinal: 9000},
		{name: "capped", value: 10, cap: 1000, amount: 15000, wantDiscount: 1000, wantFinal: 14000},
		{name: "cap not reached", value: 10, cap: 5000, amount: 15000, wantDiscount: 1500, wantFinal: 13500},
		{name: "hundred percent", value: 100, cap: 0, amount: 700, wantDiscount: 700, wantFinal: 0},
		{name: "integer truncation", value: 3, cap: 0, amount: 101, wantDiscount: 3, wantFinal: 98},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := domain.Coupon{
				DiscountKind:     domain.DiscountKindPercentage,
				DiscountValue:    tc.value,
				MaxDiscountMinor: tc.cap,
			}
			got := domain.CalculateDiscount(coupon, tc.amount)
			if got.DiscountMinor != tc.wantDiscount {
				t.Fatalf("discount = %d, want %d", got.DiscountMinor, tc.wantDiscount)
			}
			if got.FinalMinor != tc.wantFinal {
				t.Fatalf("final = %d, want %d", got.FinalMinor, tc.wantFinal)
			}
		})
	}
}

func TestCalculateDiscount_Fixed(t *testing.T) {
	cases := []struct {
		name         string
		value        int64
		amount       int64
		wantDiscount int64
		wantFinal    int64
	}{
		{name: "less than amount", value: 500, amount: 2000, wantDiscount: 500, wantFinal: 1500},
		{name: "equals amount", value: 2000, amount: 2000, wantDiscount: 2000, wantFinal: 0},
		{name: "exceeds amount clamped", value: 5000, amount: 2000, wantDiscount: 2000, wantFinal: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := domain.Coupon{
				DiscountKind:  domain.DiscountKindFixed,
				DiscountValue: tc.value,
			}
			got := domain.CalculateDiscount(coupon, tc.amount)
			if got.DiscountMinor != tc.wantDiscount {
				t.Fatalf("discount = %d, want %d", got.DiscountMinor, tc.wantDiscount)
			}
			if got.FinalMinor != tc.wantFinal {
				t.Fatalf("final = %d, want %d", got.FinalMinor, tc.wantFinal)
			}
		})
	}
}

// Скидка с процентом и кэпом никогда не превышает кэп, итог никогда не уходит в минус.
func TestCalculateDiscount_Properties(t *testing.T) {
	coupon := domain.Coupon{
		DiscountKind:     domain.DiscountKindPercentage,
		DiscountValue:    25,
		MaxDiscountMinor: 1200,
	}

	for amount := int64(1); amount < 100000; amount += 997 {
		got := domain.CalculateDiscount(coupon, amount)
		if got.DiscountMinor > coupon.MaxDiscountMinor {
			t.Fatalf("amount %d: discount %d exceeds cap %d", amount, got.DiscountMinor, coupon.MaxDiscountMinor)
		}
		if got.FinalMinor < 0 {
			t.Fatalf("amount %d: final %d is negative", amount, got.FinalMinor)
		}
		if got.DiscountMinor+got.FinalMinor != amount {
			t.Fatalf("amount %d: discount %d + final %d != amount", amount, got.DiscountMinor, got.FinalMinor)
		}
	}
}
