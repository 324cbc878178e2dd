package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, order_id, customer_id, status, currency,
	original_amount_minor, coupon_code, coupon_discount_minor, total_price_minor,
	delivered, delivered_at,
	has_returns, total_return_amount_minor, return_eligible,
	version, created_at, updated_at
`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		`,
			order.ID, order.OrderID, order.CustomerID, string(order.Status), order.Currency,
			order.OriginalAmountMinor, nullString(order.CouponCode), order.CouponDiscountMinor, order.TotalPriceMinor,
			order.Delivered, order.DeliveredAt,
			order.HasReturns, order.TotalReturnAmountMinor, order.ReturnEligible,
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrOrderVersionConflict)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, sku, size, qty, price_minor, return_status, return_qty, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				item.ID, order.ID, item.SKU, item.Size, item.Qty, item.PriceMinor,
				string(item.EffectiveReturnStatus()), item.ReturnQty, item.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		return nil
	})
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByOrderID(orderID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getBy(ctx, "order_id", orderID)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE `+column+` = $1
	`, value)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		items, err := r.loadItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) CountByCustomer(customerID string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE customer_id = $1
	`, customerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func (r *orderRepository) FindRedemption(customerID, couponCode, excludeOrderID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1 AND coupon_code = $2
		  AND ($3 = '' OR id <> $3)
		ORDER BY created_at ASC
		LIMIT 1
	`, customerID, couponCode, excludeOrderID)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("find redemption: %w", err)
	}
	return order, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    original_amount_minor = $2,
			    coupon_code = $3,
			    coupon_discount_minor = $4,
			    total_price_minor = $5,
			    delivered = $6,
			    delivered_at = $7,
			    has_returns = $8,
			    total_return_amount_minor = $9,
			    return_eligible = $10,
			    version = version + 1,
			    updated_at = $11
			WHERE id = $12
			  AND version = $13
		`,
			string(order.Status),
			order.OriginalAmountMinor,
			nullString(order.CouponCode),
			order.CouponDiscountMinor,
			order.TotalPriceMinor,
			order.Delivered,
			order.DeliveredAt,
			order.HasReturns,
			order.TotalReturnAmountMinor,
			order.ReturnEligible,
			order.UpdatedAt,
			order.ID,
			order.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := r.orderExistsTx(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		return nil
	})
}

// ReserveReturnQty — один guarded UPDATE: инкремент проходит только если
// остатка хватает. Гонка двух заявок на один остаток разрешается на уровне
// строки, read-then-write здесь недопустим.
func (r *orderRepository) ReserveReturnQty(orderItemID string, delta int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE order_items
		SET return_qty = return_qty + $1,
		    return_status = 'requested'
		WHERE id = $2
		  AND qty - return_qty >= $1
	`, delta, orderItemID)
	if err != nil {
		return fmt.Errorf("reserve return qty: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.itemExists(ctx, orderItemID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderItemNotFound
		}
		return domain.ErrInsufficientReturnableQty
	}
	return nil
}

func (r *orderRepository) ReleaseReturnQty(orderItemID string, delta int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE order_items
		SET return_qty = GREATEST(return_qty - $1, 0),
		    return_status = CASE WHEN return_qty - $1 <= 0 THEN 'none' ELSE return_status END
		WHERE id = $2
	`, delta, orderItemID)
	if err != nil {
		return fmt.Errorf("release return qty: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderItemNotFound
	}
	return nil
}

func (r *orderRepository) MarkItemReturned(orderItemID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE order_items
		SET return_status = 'returned'
		WHERE id = $1
	`, orderItemID)
	if err != nil {
		return fmt.Errorf("mark item returned: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderItemNotFound
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sku, size, qty, price_minor, return_status, return_qty, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		var returnStatus string
		if err := rows.Scan(
			&item.ID, &item.SKU, &item.Size, &item.Qty, &item.PriceMinor,
			&returnStatus, &item.ReturnQty, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.ReturnStatus = domain.ItemReturnStatus(returnStatus)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r *orderRepository) orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func (r *orderRepository) itemExists(ctx context.Context, itemID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM order_items WHERE id = $1`, itemID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order item exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		couponCode  sql.NullString
		deliveredAt sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.OrderID, &order.CustomerID, &status, &order.Currency,
		&order.OriginalAmountMinor, &couponCode, &order.CouponDiscountMinor, &order.TotalPriceMinor,
		&order.Delivered, &deliveredAt,
		&order.HasReturns, &order.TotalReturnAmountMinor, &order.ReturnEligible,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CouponCode = couponCode.String
	if deliveredAt.Valid {
		at := deliveredAt.Time
		order.DeliveredAt = &at
	}
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
