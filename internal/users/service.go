package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/fault"
	inats "github.com/versatiles/printops/internal/nats"
)

// PasswordHasher turns a plaintext password into a stored hash.
type PasswordHasher func(password string) (string, error)

type Service struct {
	repo      Repository
	agents    config.AgentsConfig
	hash      PasswordHasher
	publisher inats.EventPublisher

	onDeactivate func(ctx context.Context, id uuid.UUID) error
}

func NewService(repo Repository, agents config.AgentsConfig, hash PasswordHasher, publisher inats.EventPublisher) *Service {
	return &Service{repo: repo, agents: agents, hash: hash, publisher: publisher}
}

// Create registers a new account. Only administrators may create accounts.
func (s *Service) Create(ctx context.Context, actor Actor, req CreateRequest) (*User, error) {
	if !actor.IsAdmin() {
		return nil, fault.PermissionDenied("only administrators can create accounts")
	}
	user, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}

	actorID := actor.ID
	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       inats.ActionUserCreated,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		After:        map[string]any{"email": user.Email, "role": user.Role},
		Timestamp:    user.CreatedAt,
	})
	return user, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*User, error) {
	role, err := ParseRole(string(req.Role))
	if err != nil {
		return nil, fault.Validation("%v", err)
	}
	if req.MaxActiveOrders != nil {
		if role != RoleAgent {
			return nil, fault.Validation("max_active_orders applies to agents only")
		}
		if err := s.checkCapacity(*req.MaxActiveOrders); err != nil {
			return nil, err
		}
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:              uuid.New(),
		Email:           strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:    hash,
		FullName:        req.FullName,
		Role:            role,
		IsActive:        true,
		MaxActiveOrders: req.MaxActiveOrders,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, &fault.Error{Kind: fault.KindDuplicateRow, Message: "email already registered"}
		}
		return nil, fault.Storage("creating user", err)
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap administrator if no account uses email.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Role != RoleAdmin {
			slog.Warn("bootstrap admin email belongs to a non-admin account", "email", email, "role", existing.Role)
		}
		return nil
	}
	user, err := s.create(ctx, CreateRequest{Email: email, Password: password, FullName: "Administrator", Role: RoleAdmin})
	if err != nil {
		return err
	}
	slog.Info("bootstrap administrator created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Resolve finds a user by id or, when id is nil, by email.
func (s *Service) Resolve(ctx context.Context, id *uuid.UUID, email string) (*User, error) {
	if id != nil {
		return s.repo.GetByID(ctx, *id)
	}
	if email == "" {
		return nil, nil
	}
	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) List(ctx context.Context, params ListParams) ([]User, int64, error) {
	out, total, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, 0, fault.Storage("listing users", err)
	}
	if out == nil {
		out = []User{}
	}
	return out, total, nil
}

// SetAgentCapacity sets or, when capacity is nil, clears an agent's active
// order cap override.
func (s *Service) SetAgentCapacity(ctx context.Context, actor Actor, agentID uuid.UUID, capacity *int) (*User, error) {
	if !actor.IsAdmin() {
		return nil, fault.PermissionDenied("only administrators can change agent capacity")
	}
	if capacity != nil {
		if err := s.checkCapacity(*capacity); err != nil {
			return nil, err
		}
	}
	agent, err := s.repo.GetByID(ctx, agentID)
	if err != nil {
		return nil, fault.Storage("loading agent", err)
	}
	if agent == nil {
		return nil, fault.NotFound("user %s not found", agentID)
	}
	if agent.Role != RoleAgent {
		return nil, fault.Validation("user %s is not an agent", agentID)
	}

	before := agent.MaxActiveOrders
	if err := s.repo.SetCapacity(ctx, agentID, capacity); err != nil {
		return nil, fault.Storage("updating agent capacity", err)
	}
	agent.MaxActiveOrders = capacity

	actorID := actor.ID
	inats.Emit(ctx, s.publisher, &inats.AuditEvent{
		ActorID:      &actorID,
		Action:       inats.ActionAgentCapacitySet,
		ResourceType: "user",
		ResourceID:   agentID.String(),
		Before:       map[string]any{"max_active_orders": before},
		After:        map[string]any{"max_active_orders": capacity},
		Timestamp:    time.Now().UTC(),
	})
	return agent, nil
}

// SetActive enables or disables an account.
func (s *Service) SetActive(ctx context.Context, actor Actor, id uuid.UUID, active bool) error {
	if !actor.IsAdmin() {
		return fault.PermissionDenied("only administrators can change account status")
	}
	if id == actor.ID && !active {
		return fault.Validation("administrators cannot deactivate themselves")
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fault.Storage("loading user", err)
	}
	if user == nil {
		return fault.NotFound("user %s not found", id)
	}
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return fault.Storage("updating user", err)
	}
	if !active && s.onDeactivate != nil {
		if err := s.onDeactivate(ctx, id); err != nil {
			slog.Error("running deactivation hook", "user_id", id, "error", err)
		}
	}
	return nil
}

// OnDeactivate registers a hook that runs after an account is disabled.
func (s *Service) OnDeactivate(fn func(ctx context.Context, id uuid.UUID) error) {
	s.onDeactivate = fn
}

func (s *Service) RecordLogin(ctx context.Context, id uuid.UUID) {
	if err := s.repo.UpdateLastLogin(ctx, id); err != nil {
		slog.Warn("recording last login", "user_id", id, "error", err)
	}
}

func (s *Service) checkCapacity(capacity int) error {
	if capacity < 1 || capacity > s.agents.CapMax {
		return fault.Validation("max_active_orders must be between 1 and %d", s.agents.CapMax)
	}
	return nil
}
