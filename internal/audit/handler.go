package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/users"
)

// Handler serves the administrator audit trail.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	if !actor.IsAdmin() {
		api.HandleError(w, fault.PermissionDenied("only administrators can read the audit trail"))
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	logs, total, err := h.store.List(r.Context(), params)
	if err != nil {
		api.HandleError(w, fault.Storage("listing audit logs", err))
		return
	}
	api.JSONPaginated(w, http.StatusOK, logs, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) (ListParams, error) {
	q := r.URL.Query()
	params := DefaultListParams()
	params.Page, params.PageSize = api.Page(r, params.PageSize)
	params.Action = q.Get("action")
	params.ResourceType = q.Get("resource_type")
	params.ResourceID = q.Get("resource_id")

	if v := q.Get("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return params, api.NewBadRequestError("invalid actor_id")
		}
		params.ActorID = &id
	}
	for name, dst := range map[string]**time.Time{"from": &params.From, "to": &params.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, api.NewBadRequestError("invalid " + name + ", expected RFC3339")
		}
		*dst = &t
	}
	return params, nil
}
