package imports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Counts are the per-row tallies stored on an import.
type Counts struct {
	Rows    int
	Valid   int
	Errors  int
	Created int
}

type Repository interface {
	Create(ctx context.Context, imp *Import) error
	GetByID(ctx context.Context, id uuid.UUID) (*Import, error)
	List(ctx context.Context, params ListParams) ([]Import, int64, error)
	UpdateCounts(ctx context.Context, id uuid.UUID, counts Counts) error
	// Claim moves a pending import to processing. It reports false when the
	// import is no longer pending, so only one approval can run.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id, validatedBy uuid.UUID, counts Counts, notes string) error
	// Reject marks a pending import as rejected, reporting false when it is
	// no longer pending.
	Reject(ctx context.Context, id, rejectedBy uuid.UUID, notes string) (bool, error)
	UploaderOf(ctx context.Context, id uuid.UUID) (*uuid.UUID, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const importColumns = `id, uploaded_by, original_filename, status, row_count, valid_rows, error_rows,
	created_rows, validated_by, validated_at, notes, uploaded_at`

func scanImport(row pgx.Row, withPayload bool) (*Import, error) {
	var imp Import
	var status string
	dest := []any{&imp.ID, &imp.UploadedBy, &imp.OriginalFilename, &status, &imp.RowCount, &imp.ValidRows,
		&imp.ErrorRows, &imp.CreatedRows, &imp.ValidatedBy, &imp.ValidatedAt, &imp.Notes, &imp.UploadedAt}
	if withPayload {
		dest = append(dest, &imp.Payload)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	imp.Status = Status(status)
	if !imp.Status.Valid() {
		return nil, fmt.Errorf("import %s has unknown status %q", imp.ID, status)
	}
	return &imp, nil
}

func (r *postgresRepository) Create(ctx context.Context, imp *Import) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO csv_imports (id, uploaded_by, original_filename, payload, status, row_count, valid_rows,
		                          error_rows, notes, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		imp.ID, imp.UploadedBy, imp.OriginalFilename, imp.Payload, string(imp.Status), imp.RowCount,
		imp.ValidRows, imp.ErrorRows, imp.Notes, imp.UploadedAt)
	if err != nil {
		return fmt.Errorf("inserting import: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Import, error) {
	imp, err := scanImport(r.pool.QueryRow(ctx,
		`SELECT `+importColumns+`, payload FROM csv_imports WHERE id = $1`, id), true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying import: %w", err)
	}
	return imp, nil
}

func (r *postgresRepository) List(ctx context.Context, params ListParams) ([]Import, int64, error) {
	where := ""
	var args []any
	if params.Status != nil {
		where = "WHERE status = $1"
		args = append(args, string(*params.Status))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM csv_imports "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting imports: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM csv_imports %s ORDER BY uploaded_at DESC LIMIT $%d OFFSET $%d`,
		importColumns, where, n+1, n+2)
	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing imports: %w", err)
	}
	defer rows.Close()

	var out []Import
	for rows.Next() {
		imp, err := scanImport(rows, false)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning import: %w", err)
		}
		out = append(out, *imp)
	}
	return out, total, rows.Err()
}

func (r *postgresRepository) UpdateCounts(ctx context.Context, id uuid.UUID, c Counts) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE csv_imports SET row_count = $2, valid_rows = $3, error_rows = $4 WHERE id = $1`,
		id, c.Rows, c.Valid, c.Errors)
	if err != nil {
		return fmt.Errorf("updating import counts: %w", err)
	}
	return nil
}

func (r *postgresRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE csv_imports SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(StatusProcessing), string(StatusPendingValidation))
	if err != nil {
		return false, fmt.Errorf("claiming import: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *postgresRepository) Complete(ctx context.Context, id, validatedBy uuid.UUID, c Counts, notes string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE csv_imports
		 SET status = $2, row_count = $3, valid_rows = $4, error_rows = $5, created_rows = $6,
		     validated_by = $7, validated_at = $8, notes = $9
		 WHERE id = $1`,
		id, string(StatusValidated), c.Rows, c.Valid, c.Errors, c.Created, validatedBy, time.Now().UTC(), notes)
	if err != nil {
		return fmt.Errorf("completing import: %w", err)
	}
	return nil
}

func (r *postgresRepository) Reject(ctx context.Context, id, rejectedBy uuid.UUID, notes string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE csv_imports SET status = $2, validated_by = $3, validated_at = $4, notes = $5
		 WHERE id = $1 AND status = $6`,
		id, string(StatusRejected), rejectedBy, time.Now().UTC(), notes, string(StatusPendingValidation))
	if err != nil {
		return false, fmt.Errorf("rejecting import: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *postgresRepository) UploaderOf(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	var uploader uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT uploaded_by FROM csv_imports WHERE id = $1`, id).Scan(&uploader)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying import uploader: %w", err)
	}
	return &uploader, nil
}
