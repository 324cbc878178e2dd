package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const returnColumns = `
	id, order_id, customer_id, reason, method, pickup_address,
	status, return_amount_minor, refund_amount_minor, admin_notes,
	approved_at, pickup_scheduled_at, items_received_at, refund_processed_at, completed_at, cancelled_at,
	version, created_at, updated_at
`

type returnRepository struct {
	db *sql.DB
}

// NewReturnRepository создаёт PostgreSQL-реализацию ReturnRepository.
func NewReturnRepository(store *Store) domain.ReturnRepository {
	return &returnRepository{db: store.DB()}
}

func (r *returnRepository) Create(ret domain.Return) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO returns (`+returnColumns+`
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		`,
			ret.ID, ret.OrderID, ret.CustomerID, ret.Reason, string(ret.Method), ret.PickupAddress,
			string(ret.Status), ret.ReturnAmountMinor, ret.RefundAmountMinor, ret.AdminNotes,
			ret.ApprovedAt, ret.PickupScheduledAt, ret.ItemsReceivedAt, ret.RefundProcessedAt, ret.CompletedAt, ret.CancelledAt,
			ret.Version, ret.CreatedAt, ret.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("return %s: %w", ret.ID, domain.ErrReturnVersionConflict)
			}
			return fmt.Errorf("insert return: %w", err)
		}

		for _, item := range ret.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO return_items (return_id, order_item_id, sku, size, qty, price_minor, reason)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
			`,
				ret.ID, item.OrderItemID, item.SKU, item.Size, item.Qty, item.PriceMinor, item.Reason,
			); err != nil {
				return fmt.Errorf("insert return item: %w", err)
			}
		}

		return r.insertTimelineTx(ctx, tx, ret.ID, 0, ret.Timeline)
	})
}

func (r *returnRepository) Get(id string) (domain.Return, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE id = $1
	`, id)

	ret, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Return{}, domain.ErrReturnNotFound
		}
		return domain.Return{}, fmt.Errorf("select return: %w", err)
	}

	if err := r.loadDetails(ctx, &ret); err != nil {
		return domain.Return{}, err
	}
	return ret, nil
}

func (r *returnRepository) ListByOrder(orderID string) ([]domain.Return, error) {
	return r.list(`WHERE order_id = $1 ORDER BY created_at ASC`, orderID)
}

func (r *returnRepository) ListByCustomer(customerID string) ([]domain.Return, error) {
	return r.list(`WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
}

func (r *returnRepository) list(clause, arg string) ([]domain.Return, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+returnColumns+` FROM returns `+clause, arg)
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Return, 0)
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan return row: %w", err)
		}
		result = append(result, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate return rows: %w", err)
	}

	for i := range result {
		if err := r.loadDetails(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Save сохраняет переход статуса вместе с новыми записями журнала в одной
// транзакции: переход не может стать видимым без своей записи журнала.
func (r *returnRepository) Save(ret domain.Return) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE returns
			SET status = $1,
			    refund_amount_minor = $2,
			    admin_notes = $3,
			    approved_at = $4,
			    pickup_scheduled_at = $5,
			    items_received_at = $6,
			    refund_processed_at = $7,
			    completed_at = $8,
			    cancelled_at = $9,
			    version = version + 1,
			    updated_at = $10
			WHERE id = $11
			  AND version = $12
		`,
			string(ret.Status), ret.RefundAmountMinor, ret.AdminNotes,
			ret.ApprovedAt, ret.PickupScheduledAt, ret.ItemsReceivedAt,
			ret.RefundProcessedAt, ret.CompletedAt, ret.CancelledAt,
			ret.UpdatedAt, ret.ID, ret.Version,
		)
		if err != nil {
			return fmt.Errorf("update return: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			exists, err := r.returnExistsTx(ctx, tx, ret.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrReturnNotFound
			}
			return domain.ErrReturnVersionConflict
		}

		// Журнал append-only: дописываются только записи, которых ещё нет.
		var stored int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM return_timeline WHERE return_id = $1
		`, ret.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count timeline entries: %w", err)
		}
		if stored > len(ret.Timeline) {
			return fmt.Errorf("timeline shrank for return %s: %w", ret.ID, domain.ErrReturnVersionConflict)
		}
		return r.insertTimelineTx(ctx, tx, ret.ID, stored, ret.Timeline)
	})
}

func (r *returnRepository) insertTimelineTx(ctx context.Context, tx *sql.Tx, returnID string, from int, timeline []domain.TimelineEntry) error {
	for seq := from; seq < len(timeline); seq++ {
		entry := timeline[seq]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO return_timeline (return_id, seq, status, message, occurred_at)
			VALUES ($1,$2,$3,$4,$5)
		`,
			returnID, seq, string(entry.Status), entry.Message, entry.Occurred,
		); err != nil {
			return fmt.Errorf("insert timeline entry: %w", err)
		}
	}
	return nil
}

func (r *returnRepository) loadDetails(ctx context.Context, ret *domain.Return) error {
	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_item_id, sku, size, qty, price_minor, reason
		FROM return_items
		WHERE return_id = $1
		ORDER BY order_item_id ASC
	`, ret.ID)
	if err != nil {
		return fmt.Errorf("load return items: %w", err)
	}
	defer itemRows.Close()

	items := make([]domain.ReturnItem, 0)
	for itemRows.Next() {
		var item domain.ReturnItem
		if err := itemRows.Scan(&item.OrderItemID, &item.SKU, &item.Size, &item.Qty, &item.PriceMinor, &item.Reason); err != nil {
			return fmt.Errorf("scan return item: %w", err)
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("iterate return items: %w", err)
	}
	ret.Items = items

	timelineRows, err := r.db.QueryContext(ctx, `
		SELECT status, message, occurred_at
		FROM return_timeline
		WHERE return_id = $1
		ORDER BY seq ASC
	`, ret.ID)
	if err != nil {
		return fmt.Errorf("load return timeline: %w", err)
	}
	defer timelineRows.Close()

	timeline := make([]domain.TimelineEntry, 0)
	for timelineRows.Next() {
		var entry domain.TimelineEntry
		var status string
		if err := timelineRows.Scan(&status, &entry.Message, &entry.Occurred); err != nil {
			return fmt.Errorf("scan timeline entry: %w", err)
		}
		entry.Status = domain.ReturnStatus(status)
		timeline = append(timeline, entry)
	}
	if err := timelineRows.Err(); err != nil {
		return fmt.Errorf("iterate timeline entries: %w", err)
	}
	ret.Timeline = timeline

	return nil
}

func (r *returnRepository) returnExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var got string
	err := tx.QueryRowContext(ctx, `SELECT id FROM returns WHERE id = $1`, id).Scan(&got)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check return exists: %w", err)
}

func scanReturn(row rowScanner) (domain.Return, error) {
	var (
		ret    domain.Return
		method string
		status string

		approvedAt        sql.NullTime
		pickupScheduledAt sql.NullTime
		itemsReceivedAt   sql.NullTime
		refundProcessedAt sql.NullTime
		completedAt       sql.NullTime
		cancelledAt       sql.NullTime
	)
	err := row.Scan(
		&ret.ID, &ret.OrderID, &ret.CustomerID, &ret.Reason, &method, &ret.PickupAddress,
		&status, &ret.ReturnAmountMinor, &ret.RefundAmountMinor, &ret.AdminNotes,
		&approvedAt, &pickupScheduledAt, &itemsReceivedAt, &refundProcessedAt, &completedAt, &cancelledAt,
		&ret.Version, &ret.CreatedAt, &ret.UpdatedAt,
	)
	if err != nil {
		return domain.Return{}, err
	}
	ret.Method = domain.ReturnMethod(method)
	ret.Status = domain.ReturnStatus(status)
	ret.ApprovedAt = nullTimePtr(approvedAt)
	ret.PickupScheduledAt = nullTimePtr(pickupScheduledAt)
	ret.ItemsReceivedAt = nullTimePtr(itemsReceivedAt)
	ret.RefundProcessedAt = nullTimePtr(refundProcessedAt)
	ret.CompletedAt = nullTimePtr(completedAt)
	ret.CancelledAt = nullTimePtr(cancelledAt)
	return ret, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	at := t.Time
	return &at
}

var _ domain.ReturnRepository = (*returnRepository)(nil)
