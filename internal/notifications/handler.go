package notifications

import (
	"net/http"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/fault"
	"github.com/versatiles/printops/internal/users"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// List returns the caller's notifications, newest first. ?unread=true limits
// the page to unread ones.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := ListParams{UnreadOnly: r.URL.Query().Get("unread") == "true"}
	params.Page, params.PageSize = api.Page(r, 20)

	page, err := h.store.ListForUser(r.Context(), actor.ID, params)
	if err != nil {
		api.HandleError(w, fault.Storage("listing notifications", err))
		return
	}
	api.JSON(w, http.StatusOK, page)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "notificationID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	found, err := h.store.MarkRead(r.Context(), actor.ID, id)
	if err != nil {
		api.HandleError(w, fault.Storage("marking notification read", err))
		return
	}
	if !found {
		api.HandleError(w, fault.NotFound("notification %s not found", id))
		return
	}
	api.JSONMessage(w, http.StatusOK, "notification marked as read")
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	n, err := h.store.MarkAllRead(r.Context(), actor.ID)
	if err != nil {
		api.HandleError(w, fault.Storage("marking notifications read", err))
		return
	}
	api.JSON(w, http.StatusOK, map[string]int64{"marked": n})
}
