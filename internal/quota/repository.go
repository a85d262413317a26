package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/versatiles/printops/internal/database"
)

// Ledger persists monthly quota rows and the top-up history. WithLock is the
// only way usage changes: fn runs while the (client, month) row is locked
// exclusively, and the row is written back only if fn returns nil.
type Ledger interface {
	Get(ctx context.Context, clientID uuid.UUID, month time.Time) (*ClientQuota, error)
	GetOrCreate(ctx context.Context, clientID uuid.UUID, month time.Time, limits Limits) (*ClientQuota, error)
	WithLock(ctx context.Context, clientID uuid.UUID, month time.Time, limits Limits, fn func(q *ClientQuota) error) (*ClientQuota, error)
	AppendTopup(ctx context.Context, t *Topup, limits Limits) error
	ListTopups(ctx context.Context, clientID uuid.UUID, month time.Time) ([]Topup, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const quotaColumns = `id, client_id, month, bw_limit, color_limit, bw_used, color_used,
	bw_alert_sent, color_alert_sent, created_at, updated_at`

// Repository is the PostgreSQL Ledger.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository creates a PostgreSQL-backed ledger. lockTimeout bounds the wait
// for a contended row lock.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

func scanQuota(row pgx.Row) (*ClientQuota, error) {
	var q ClientQuota
	err := row.Scan(&q.ID, &q.ClientID, &q.Month, &q.BWLimit, &q.ColorLimit, &q.BWUsed, &q.ColorUsed,
		&q.BWAlertSent, &q.ColorAlertSent, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.Month = MonthOf(q.Month)
	return &q, nil
}

// Get returns the month's row with top-ups loaded, or nil if none exists.
func (r *Repository) Get(ctx context.Context, clientID uuid.UUID, month time.Time) (*ClientQuota, error) {
	month = MonthOf(month)
	q, err := scanQuota(r.pool.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM client_quotas WHERE client_id = $1 AND month = $2`, clientID, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching client quota: %w", err)
	}
	if err := loadTopups(ctx, r.pool, q); err != nil {
		return nil, err
	}
	return q, nil
}

// GetOrCreate returns the month's row, creating it with limits on first use.
func (r *Repository) GetOrCreate(ctx context.Context, clientID uuid.UUID, month time.Time, limits Limits) (*ClientQuota, error) {
	month = MonthOf(month)
	if err := insertIfMissing(ctx, r.pool, clientID, month, limits); err != nil {
		return nil, err
	}
	q, err := r.Get(ctx, clientID, month)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("client quota %s/%s missing after insert", clientID, month.Format("2006-01"))
	}
	return q, nil
}

// WithLock creates the month's row on first use, locks it FOR UPDATE, runs fn
// and persists usage and alert flags.
func (r *Repository) WithLock(ctx context.Context, clientID uuid.UUID, month time.Time, limits Limits, fn func(q *ClientQuota) error) (*ClientQuota, error) {
	month = MonthOf(month)
	var out *ClientQuota
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		q, err := r.lockRow(ctx, tx, clientID, month, limits)
		if err != nil {
			return err
		}
		if err := loadTopups(ctx, tx, q); err != nil {
			return err
		}
		if err := fn(q); err != nil {
			return err
		}

		err = tx.QueryRow(ctx,
			`UPDATE client_quotas
			 SET bw_used = $2, color_used = $3, bw_alert_sent = $4, color_alert_sent = $5, updated_at = NOW()
			 WHERE id = $1
			 RETURNING updated_at`,
			q.ID, q.BWUsed, q.ColorUsed, q.BWAlertSent, q.ColorAlertSent,
		).Scan(&q.UpdatedAt)
		if err != nil {
			return fmt.Errorf("updating client quota: %w", err)
		}
		out = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) lockRow(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, month time.Time, limits Limits) (*ClientQuota, error) {
	if err := database.SetLockTimeout(ctx, tx, r.lockTimeout); err != nil {
		return nil, err
	}
	if err := insertIfMissing(ctx, tx, clientID, month, limits); err != nil {
		return nil, err
	}
	q, err := scanQuota(tx.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM client_quotas WHERE client_id = $1 AND month = $2 FOR UPDATE`,
		clientID, month))
	if err != nil {
		if database.IsLockTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
		return nil, fmt.Errorf("locking client quota: %w", err)
	}
	return q, nil
}

func insertIfMissing(ctx context.Context, db querier, clientID uuid.UUID, month time.Time, limits Limits) error {
	_, err := db.Exec(ctx,
		`INSERT INTO client_quotas (id, client_id, month, bw_limit, color_limit)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (client_id, month) DO NOTHING`,
		uuid.New(), clientID, month, limits.BW, limits.Color)
	if err != nil {
		if database.IsLockTimeout(err) {
			return fmt.Errorf("%w: %v", ErrLockTimeout, err)
		}
		return fmt.Errorf("ensuring client quota: %w", err)
	}
	return nil
}

func loadTopups(ctx context.Context, db querier, q *ClientQuota) error {
	var bw, color int64
	err := db.QueryRow(ctx,
		`SELECT COALESCE(SUM(bw_added), 0), COALESCE(SUM(color_added), 0)
		 FROM quota_topups
		 WHERE client_id = $1 AND transaction_date >= $2 AND transaction_date < $3`,
		q.ClientID, q.Month, nextMonth(q.Month),
	).Scan(&bw, &color)
	if err != nil {
		return fmt.Errorf("summing quota topups: %w", err)
	}
	q.TopupBW = int(bw)
	q.TopupColor = int(color)
	return nil
}

// AppendTopup records t under the lock of the row for t's month so that a
// concurrent deduction sees either none or all of the top-up.
func (r *Repository) AppendTopup(ctx context.Context, t *Topup, limits Limits) error {
	month := MonthOf(t.TransactionDate)
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := r.lockRow(ctx, tx, t.ClientID, month, limits); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO quota_topups (id, client_id, admin_id, bw_added, color_added, transaction_date, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.ClientID, t.AdminID, t.BWAdded, t.ColorAdded, t.TransactionDate, t.Notes)
		if err != nil {
			return fmt.Errorf("inserting quota topup: %w", err)
		}
		return nil
	})
}

// ListTopups returns the month's top-ups, newest first.
func (r *Repository) ListTopups(ctx context.Context, clientID uuid.UUID, month time.Time) ([]Topup, error) {
	month = MonthOf(month)
	rows, err := r.pool.Query(ctx,
		`SELECT id, client_id, admin_id, bw_added, color_added, transaction_date, notes
		 FROM quota_topups
		 WHERE client_id = $1 AND transaction_date >= $2 AND transaction_date < $3
		 ORDER BY transaction_date DESC`,
		clientID, month, nextMonth(month))
	if err != nil {
		return nil, fmt.Errorf("listing quota topups: %w", err)
	}
	defer rows.Close()

	var topups []Topup
	for rows.Next() {
		var t Topup
		if err := rows.Scan(&t.ID, &t.ClientID, &t.AdminID, &t.BWAdded, &t.ColorAdded, &t.TransactionDate, &t.Notes); err != nil {
			return nil, fmt.Errorf("scanning quota topup: %w", err)
		}
		topups = append(topups, t)
	}
	return topups, rows.Err()
}
