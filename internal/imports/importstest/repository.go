// Package importstest provides an in-memory imports.Repository for tests.
package importstest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/imports"
)

type Repository struct {
	mu            sync.Mutex
	imports       map[uuid.UUID]imports.Import
	completeFails int
}

func NewRepository() *Repository {
	return &Repository{imports: make(map[uuid.UUID]imports.Import)}
}

func (r *Repository) Create(_ context.Context, imp *imports.Import) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imports[imp.ID] = *imp
	return nil
}

func (r *Repository) GetByID(_ context.Context, id uuid.UUID) (*imports.Import, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[id]
	if !ok {
		return nil, nil
	}
	return &imp, nil
}

func (r *Repository) List(_ context.Context, params imports.ListParams) ([]imports.Import, int64, error) {
	r.mu.Lock()
	var out []imports.Import
	for _, imp := range r.imports {
		if params.Status == nil || imp.Status == *params.Status {
			imp.Payload = nil
			out = append(out, imp)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	total := int64(len(out))
	start := (params.Page - 1) * params.PageSize
	if start >= len(out) {
		return nil, total, nil
	}
	return out[start:min(start+params.PageSize, len(out))], total, nil
}

func (r *Repository) UpdateCounts(_ context.Context, id uuid.UUID, c imports.Counts) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp := r.imports[id]
	imp.RowCount, imp.ValidRows, imp.ErrorRows = c.Rows, c.Valid, c.Errors
	r.imports[id] = imp
	return nil
}

func (r *Repository) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[id]
	if !ok || imp.Status != imports.StatusPendingValidation {
		return false, nil
	}
	imp.Status = imports.StatusProcessing
	r.imports[id] = imp
	return true, nil
}

// FailComplete makes the next n Complete calls fail.
func (r *Repository) FailComplete(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeFails = n
}

func (r *Repository) Complete(_ context.Context, id, validatedBy uuid.UUID, c imports.Counts, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completeFails > 0 {
		r.completeFails--
		return errors.New("connection reset by peer")
	}
	imp := r.imports[id]
	now := time.Now().UTC()
	imp.Status = imports.StatusValidated
	imp.RowCount, imp.ValidRows, imp.ErrorRows, imp.CreatedRows = c.Rows, c.Valid, c.Errors, c.Created
	imp.ValidatedBy = &validatedBy
	imp.ValidatedAt = &now
	imp.Notes = notes
	r.imports[id] = imp
	return nil
}

func (r *Repository) Reject(_ context.Context, id, rejectedBy uuid.UUID, notes string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[id]
	if !ok || imp.Status != imports.StatusPendingValidation {
		return false, nil
	}
	now := time.Now().UTC()
	imp.Status = imports.StatusRejected
	imp.ValidatedBy = &rejectedBy
	imp.ValidatedAt = &now
	imp.Notes = notes
	r.imports[id] = imp
	return true, nil
}

func (r *Repository) UploaderOf(_ context.Context, id uuid.UUID) (*uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	imp, ok := r.imports[id]
	if !ok {
		return nil, nil
	}
	uploader := imp.UploadedBy
	return &uploader, nil
}
