package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no order matches a lookup.
var ErrNotFound = errors.New("order not found")

// Repository handles order store queries and per-user meta
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new order repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Latest returns the newest order in any of the given statuses.
func (r *Repository) Latest(ctx context.Context, statuses []string) (*Order, error) {
	query := `
		SELECT id, billing_name, status, created_at
		FROM orders
		WHERE status = ANY($1)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var o Order
	err := r.db.Pool().QueryRow(ctx, query, statuses).Scan(
		&o.ID,
		&o.BillingName,
		&o.Status,
		&o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to query latest order", zap.Error(err))
		return nil, fmt.Errorf("query latest order: %w", err)
	}

	return &o, nil
}

// LatestID returns the newest qualifying order id, or 0 when none exists.
func (r *Repository) LatestID(ctx context.Context, statuses []string) (int64, error) {
	o, err := r.Latest(ctx, statuses)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return o.ID, nil
}

// NewOrdersSince returns ids of qualifying orders newer than lastID,
// newest first, capped at 10.
func (r *Repository) NewOrdersSince(ctx context.Context, statuses []string, lastID int64) ([]int64, error) {
	query := `
		SELECT id
		FROM orders
		WHERE status = ANY($1) AND id > $2
		ORDER BY created_at DESC, id DESC
		LIMIT 10
	`

	rows, err := r.db.Pool().Query(ctx, query, statuses, lastID)
	if err != nil {
		r.logger.Error("failed to query new orders", zap.Error(err), zap.Int64("last_id", lastID))
		return nil, fmt.Errorf("query new orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate new orders: %w", err)
	}

	return ids, nil
}

// MinimalOrderData returns the id and billing name for one order.
func (r *Repository) MinimalOrderData(ctx context.Context, orderID int64) (*Order, error) {
	query := `
		SELECT id, billing_name, status, created_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := r.db.Pool().QueryRow(ctx, query, orderID).Scan(
		&o.ID,
		&o.BillingName,
		&o.Status,
		&o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get order",
			zap.Error(err),
			zap.Int64("order_id", orderID),
		)
		return nil, fmt.Errorf("query order: %w", err)
	}

	return &o, nil
}

// GetLastSeen returns the user's last observed order id, 0 when the user
// has no record yet.
func (r *Repository) GetLastSeen(ctx context.Context, userID int64) (int64, error) {
	query := `
		SELECT last_seen_order_id
		FROM user_meta
		WHERE user_id = $1
	`

	var orderID int64
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		r.logger.Error("failed to get last seen order",
			zap.Error(err),
			zap.Int64("user_id", userID),
		)
		return 0, fmt.Errorf("query user meta: %w", err)
	}

	return orderID, nil
}

// SetLastSeen records the user's most recent order observation.
func (r *Repository) SetLastSeen(ctx context.Context, userID, orderID int64) error {
	query := `
		INSERT INTO user_meta (user_id, last_seen_order_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id)
		DO UPDATE SET last_seen_order_id = $2, updated_at = now()
	`

	if _, err := r.db.Pool().Exec(ctx, query, userID, orderID); err != nil {
		r.logger.Error("failed to set last seen order",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.Int64("order_id", orderID),
		)
		return fmt.Errorf("upsert user meta: %w", err)
	}

	return nil
}

// CleanupStaleMeta removes user meta rows untouched for longer than maxAge.
func (r *Repository) CleanupStaleMeta(ctx context.Context, maxAge string) (int64, error) {
	query := `
		DELETE FROM user_meta
		WHERE updated_at < now() - $1::interval
	`

	tag, err := r.db.Pool().Exec(ctx, query, maxAge)
	if err != nil {
		return 0, fmt.Errorf("cleanup user meta: %w", err)
	}
	return tag.RowsAffected(), nil
}
