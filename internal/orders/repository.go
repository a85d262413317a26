package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/versatiles/printops/internal/database"
)

const externalIDConstraint = "uq_orders_external_order_id"

type Repository interface {
	ActiveCounter
	// Insert persists o. When o has an agent, the agent's row is locked and its
	// active orders are recounted against agentCap before the insert.
	Insert(ctx context.Context, o *Order, agentCap int) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*Order, error)
	// Transition locks the order, lets apply mutate its status and persists the
	// result with a version bump. An error from apply rolls back.
	Transition(ctx context.Context, id uuid.UUID, apply func(o *Order) error) (*Order, error)
	List(ctx context.Context, params ListParams) ([]Order, int64, error)
	Stats(ctx context.Context, from, to *time.Time) (*Stats, error)
}

type postgresRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) Repository {
	return &postgresRepository{pool: pool, lockTimeout: lockTimeout}
}

const orderColumns = `id, client_id, agent_id, status, bw_quantity, color_quantity, paper_dimensions,
	paper_type, finishing, notes, external_order_id, import_id, created_by, version, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.ClientID, &o.AgentID, &status, &o.BWQuantity, &o.ColorQuantity,
		&o.PaperDimensions, &o.PaperType, &o.Finishing, &o.Notes, &o.ExternalOrderID, &o.ImportID,
		&o.CreatedBy, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if o.Status, err = ParseStatus(status); err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	return &o, nil
}

func countActive(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, agentID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE agent_id = $1 AND status IN ($2, $3, $4)`,
		agentID, string(StatusPending), string(StatusValidated), string(StatusProcessing),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active orders: %w", err)
	}
	return n, nil
}

func (r *postgresRepository) CountActiveForAgent(ctx context.Context, agentID uuid.UUID) (int, error) {
	return countActive(ctx, r.pool, agentID)
}

func (r *postgresRepository) Insert(ctx context.Context, o *Order, agentCap int) error {
	if !o.Status.Valid() {
		return fmt.Errorf("refusing to store invalid status %q", o.Status)
	}
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := database.SetLockTimeout(ctx, tx, r.lockTimeout); err != nil {
			return err
		}
		if o.AgentID != nil {
			var locked uuid.UUID
			err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, *o.AgentID).Scan(&locked)
			if err != nil {
				return fmt.Errorf("locking agent: %w", err)
			}
			count, err := countActive(ctx, tx, *o.AgentID)
			if err != nil {
				return err
			}
			if count >= agentCap {
				return &CapacityError{AgentID: *o.AgentID, Count: count, Cap: agentCap}
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO orders (id, client_id, agent_id, status, bw_quantity, color_quantity, paper_dimensions,
			                     paper_type, finishing, notes, external_order_id, import_id, created_by, version,
			                     created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			o.ID, o.ClientID, o.AgentID, string(o.Status), o.BWQuantity, o.ColorQuantity, o.PaperDimensions,
			o.PaperType, o.Finishing, o.Notes, o.ExternalOrderID, o.ImportID, o.CreatedBy, o.Version,
			o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err, externalIDConstraint) && o.ExternalOrderID != nil {
				return &DuplicateError{ExternalOrderID: *o.ExternalOrderID}
			}
			return fmt.Errorf("inserting order: %w", err)
		}
		return nil
	})
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return o, nil
}

func (r *postgresRepository) GetByExternalID(ctx context.Context, externalID string) (*Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE external_order_id = $1`, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying order by external id: %w", err)
	}
	return o, nil
}

func (r *postgresRepository) Transition(ctx context.Context, id uuid.UUID, apply func(o *Order) error) (*Order, error) {
	var out *Order
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := database.SetLockTimeout(ctx, tx, r.lockTimeout); err != nil {
			return err
		}
		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("locking order: %w", err)
		}
		if err := apply(o); err != nil {
			return err
		}
		if !o.Status.Valid() {
			return fmt.Errorf("refusing to store invalid status %q", o.Status)
		}

		err = tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, version = version + 1, updated_at = NOW()
			 WHERE id = $1 AND version = $3
			 RETURNING version, updated_at`,
			o.ID, string(o.Status), o.Version,
		).Scan(&o.Version, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("updating order status: %w", err)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *postgresRepository) List(ctx context.Context, params ListParams) ([]Order, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIdx))
		args = append(args, v)
		argIdx++
	}
	if params.Status != nil {
		add("status = $%d", string(*params.Status))
	}
	if params.ClientID != nil {
		add("client_id = $%d", *params.ClientID)
	}
	if params.AgentID != nil {
		add("agent_id = $%d", *params.AgentID)
	}
	if params.ImportID != nil {
		add("import_id = $%d", *params.ImportID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

func (r *postgresRepository) Stats(ctx context.Context, from, to *time.Time) (*Stats, error) {
	where := ""
	var args []any
	if from != nil && to != nil {
		where = "WHERE created_at >= $1 AND created_at < $2"
		args = append(args, *from, *to)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*), COALESCE(SUM(bw_quantity), 0), COALESCE(SUM(color_quantity), 0),
		        COUNT(import_id)
		 FROM orders `+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating orders: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: make(map[Status]int64, len(Statuses))}
	for _, s := range Statuses {
		stats.ByStatus[s] = 0
	}
	for rows.Next() {
		var raw string
		var count, bw, color, imported int64
		if err := rows.Scan(&raw, &count, &bw, &color, &imported); err != nil {
			return nil, fmt.Errorf("scanning order stats: %w", err)
		}
		status, err := ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.TotalOrders += count
		stats.BWTotal += bw
		stats.ColorTotal += color
		stats.ImportedTotal += imported
	}
	return stats, rows.Err()
}
