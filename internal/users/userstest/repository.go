// Package userstest provides an in-memory users.Repository for tests.
package userstest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/users"
)

type Repository struct {
	mu    sync.Mutex
	users map[uuid.UUID]users.User
}

func NewRepository() *Repository {
	return &Repository{users: make(map[uuid.UUID]users.User)}
}

// Add stores u as-is and returns it. A zero ID is replaced by a new one.
func (r *Repository) Add(u users.User) *users.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	r.users[u.ID] = u
	return &u
}

func (r *Repository) Create(_ context.Context, user *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return users.ErrEmailTaken
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *Repository) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *Repository) GetByEmail(_ context.Context, email string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *Repository) List(_ context.Context, params users.ListParams) ([]users.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []users.User
	for _, u := range r.users {
		if params.Role != nil && u.Role != *params.Role {
			continue
		}
		if params.Active != nil && u.IsActive != *params.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	start := (params.Page - 1) * params.PageSize
	if start >= len(out) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r *Repository) SetCapacity(_ context.Context, id uuid.UUID, capacity *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	u.MaxActiveOrders = capacity
	r.users[id] = u
	return nil
}

func (r *Repository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	u.IsActive = active
	r.users[id] = u
	return nil
}

func (r *Repository) UpdateLastLogin(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	now := time.Now().UTC()
	u.LastLogin = &now
	r.users[id] = u
	return nil
}
