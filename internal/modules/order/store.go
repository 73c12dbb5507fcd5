// README: Order store backed by PostgreSQL (orders + order_status_history).
package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trackd/internal/types"
)

const orderColumns = `
	id, customer_id, restaurant_id, driver_id, status, status_version,
	origin_lat, origin_lng, dest_lat, dest_lng,
	scheduled, scheduled_at, item_count, total_amount, currency, created_at`

// listLimit caps viewer snapshots; polling clients only care about recent orders.
const listLimit = 50

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Create inserts o with its initial history stamp. Order intake lives
// outside this service; Create exists for seeding and tests.
func (s *Store) Create(ctx context.Context, o *Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		string(o.ID),
		string(o.CustomerID),
		string(o.RestaurantID),
		toStringPtr(o.DriverID),
		string(o.Status),
		o.StatusVersion,
		o.Origin.Lat, o.Origin.Lng,
		o.Destination.Lat, o.Destination.Lng,
		o.Scheduled,
		o.ScheduledAt,
		o.Summary.Items,
		o.Summary.Total.Amount,
		o.Summary.Total.Currency,
		o.CreatedAt,
	)
	if err != nil {
		return err
	}
	for i, st := range o.History {
		if err := insertStamp(ctx, tx, o.ID, i, st); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) UpdateStatus(ctx context.Context, o *Order, fromVersion int) (bool, error) {
	if len(o.History) == 0 {
		return false, ErrBadRequest
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    driver_id = COALESCE($2, driver_id)
		WHERE id = $3 AND status_version = $4`,
		string(o.Status),
		toStringPtr(o.DriverID),
		string(o.ID),
		fromVersion,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	last := len(o.History) - 1
	if err := insertStamp(ctx, tx, o.ID, last, o.History[last]); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListForViewer(ctx context.Context, viewer Viewer) ([]*Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const tail = ` ORDER BY created_at DESC, id LIMIT $2`
	switch viewer.Role {
	case types.RoleRestaurant:
		rows, err = s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE restaurant_id = $1`+tail, string(viewer.ID), listLimit)
	case types.RoleDriver:
		rows, err = s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE driver_id = $1`+tail, string(viewer.ID), listLimit)
	case types.RoleAdmin, types.RoleSystem:
		rows, err = s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id LIMIT $1`, listLimit)
	default:
		rows, err = s.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1`+tail, string(viewer.ID), listLimit)
	}
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, rows)
}

func (s *Store) ListMoving(ctx context.Context) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('picked_up', 'on_the_way')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, rows)
}

func (s *Store) ListDueScheduled(ctx context.Context, before time.Time) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at`, before)
	if err != nil {
		return nil, err
	}
	return s.collect(ctx, rows)
}

func (s *Store) collect(ctx context.Context, rows pgx.Rows) ([]*Order, error) {
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadHistory(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[types.ID]*Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, string(o.ID))
	}
	rows, err := s.db.Query(ctx, `
		SELECT order_id, status, at
		FROM order_status_history
		WHERE order_id = ANY($1)
		ORDER BY order_id, seq`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			st StatusStamp
		)
		if err := rows.Scan(&id, &st.Status, &st.At); err != nil {
			return err
		}
		if o := byID[types.ID(id)]; o != nil {
			o.History = append(o.History, st)
		}
	}
	return rows.Err()
}

func insertStamp(ctx context.Context, tx pgx.Tx, id types.ID, seq int, st StatusStamp) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, seq, status, at)
		VALUES ($1, $2, $3, $4)`,
		string(id), seq, string(st.Status), st.At,
	)
	return err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o        Order
		driverID *string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.RestaurantID, &driverID, &o.Status, &o.StatusVersion,
		&o.Origin.Lat, &o.Origin.Lng, &o.Destination.Lat, &o.Destination.Lng,
		&o.Scheduled, &o.ScheduledAt, &o.Summary.Items, &o.Summary.Total.Amount, &o.Summary.Total.Currency,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
