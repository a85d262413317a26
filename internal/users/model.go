package users

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is fixed at account creation.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleAgent, RoleClient:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	FullName        string     `json:"full_name"`
	Role            Role       `json:"role"`
	IsActive        bool       `json:"is_active"`
	MaxActiveOrders *int       `json:"max_active_orders,omitempty"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsAgent() bool  { return a.Role == RoleAgent }
func (a Actor) IsClient() bool { return a.Role == RoleClient }

func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

type CreateRequest struct {
	Email           string
	Password        string
	FullName        string
	Role            Role
	MaxActiveOrders *int
}

type ListParams struct {
	Role     *Role
	Active   *bool
	Page     int
	PageSize int
}
