package quota

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/users"
)

// Directory looks up accounts by id.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// Handler provides HTTP handlers for quota endpoints.
type Handler struct {
	svc       *Service
	directory Directory
	validate  *validator.Validate
}

func NewHandler(svc *Service, directory Directory) *Handler {
	return &Handler{svc: svc, directory: directory, validate: validator.New()}
}

type topupRequest struct {
	BWAdded    int    `json:"bw_added" validate:"gte=0"`
	ColorAdded int    `json:"color_added" validate:"gte=0"`
	Notes      string `json:"notes" validate:"max=1000"`
}

// clientParam resolves {clientID}; "me" stands for the authenticated client.
// Clients may only read their own quota.
func (h *Handler) clientParam(r *http.Request) (users.Actor, uuid.UUID, error) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		return users.Actor{}, uuid.Nil, api.ErrUnauthorized
	}
	raw := chi.URLParam(r, "clientID")
	if raw == "" || raw == "me" {
		if !actor.IsClient() {
			return actor, uuid.Nil, api.NewBadRequestError("only clients have a quota")
		}
		return actor, actor.ID, nil
	}
	id, err := api.UUIDParam(r, "clientID")
	if err != nil {
		return actor, uuid.Nil, err
	}
	switch {
	case actor.IsAdmin():
	case actor.IsClient() && actor.ID == id:
	default:
		return actor, uuid.Nil, fault.PermissionDenied("not allowed to view this quota")
	}
	return actor, id, nil
}

func monthParam(r *http.Request, fallback time.Time) (time.Time, error) {
	v := r.URL.Query().Get("month")
	if v == "" {
		return fallback, nil
	}
	month, err := ParseMonth(v)
	if err != nil {
		return time.Time{}, api.NewBadRequestError(err.Error())
	}
	return month, nil
}

// GetSummary returns a client's quota for the requested month.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	_, clientID, err := h.clientParam(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	month, err := monthParam(r, h.svc.CurrentMonth())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	summary, err := h.svc.Summary(r.Context(), clientID, month)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, summary)
}

func (h *Handler) ListTopups(w http.ResponseWriter, r *http.Request) {
	_, clientID, err := h.clientParam(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	month, err := monthParam(r, h.svc.CurrentMonth())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	topups, err := h.svc.ListTopups(r.Context(), clientID, month)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, topups)
}

// ApplyTopup grants additional prints to a client for the current month.
func (h *Handler) ApplyTopup(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	if !actor.IsAdmin() {
		api.HandleError(w, fault.PermissionDenied("only administrators can apply top-ups"))
		return
	}
	clientID, err := api.UUIDParam(r, "clientID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req topupRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	client, err := h.directory.GetByID(r.Context(), clientID)
	if err != nil {
		api.HandleError(w, fault.Storage("loading client", err))
		return
	}
	if client == nil || client.Role != users.RoleClient {
		api.HandleError(w, fault.NotFound("client %s not found", clientID))
		return
	}

	topup, err := h.svc.ApplyTopup(r.Context(), TopupRequest{
		ClientID:   clientID,
		AdminID:    actor.ID,
		BWAdded:    req.BWAdded,
		ColorAdded: req.ColorAdded,
		Notes:      req.Notes,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusCreated, topup)
}
