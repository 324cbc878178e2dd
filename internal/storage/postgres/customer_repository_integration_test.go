package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestCustomerRepository_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCustomerRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	customer := domain.Customer{
		ID:        "cust-1",
		Email:     "buyer@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := repo.Create(customer); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if err := repo.Create(customer); !errors.Is(err, domain.ErrCustomerExists) {
		t.Fatalf("expected ErrCustomerExists, got %v", err)
	}

	got, err := repo.Get("cust-1")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if got.Email != "buyer@example.com" {
		t.Fatalf("unexpected customer payload: %+v", got)
	}

	byEmail, err := repo.GetByEmail("  BUYER@example.com ")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if byEmail.ID != "cust-1" {
		t.Fatalf("unexpected customer by email: %+v", byEmail)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	if _, err := repo.GetByEmail("ghost@example.com"); !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound by email, got %v", err)
	}
}
