package users

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/versatiles/printops/internal/api"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

type createUserRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	FullName        string `json:"full_name" validate:"max=200"`
	Role            string `json:"role" validate:"required,oneof=admin agent client"`
	MaxActiveOrders *int   `json:"max_active_orders" validate:"omitempty,gte=1"`
}

type capacityRequest struct {
	MaxActiveOrders *int `json:"max_active_orders" validate:"omitempty,gte=1"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	user, err := h.svc.GetByID(r.Context(), actor.ID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if user == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}
	api.JSON(w, http.StatusOK, user)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req createUserRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	user, err := h.svc.Create(r.Context(), actor, CreateRequest{
		Email:           req.Email,
		Password:        req.Password,
		FullName:        req.FullName,
		Role:            Role(req.Role),
		MaxActiveOrders: req.MaxActiveOrders,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusCreated, user)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	params := ListParams{}
	params.Page, params.PageSize = api.Page(r, 20)

	if v := r.URL.Query().Get("role"); v != "" {
		role, err := ParseRole(v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError(err.Error()))
			return
		}
		params.Role = &role
	}
	switch r.URL.Query().Get("active") {
	case "true":
		active := true
		params.Active = &active
	case "false":
		active := false
		params.Active = &active
	}

	list, total, err := h.svc.List(r.Context(), params)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSONPaginated(w, http.StatusOK, list, total, params.Page, params.PageSize)
}

// SetCapacity sets or clears an agent's active order cap override.
func (h *Handler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "userID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req capacityRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	agent, err := h.svc.SetAgentCapacity(r.Context(), actor, id, req.MaxActiveOrders)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, agent)
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "userID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req activeRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.svc.SetActive(r.Context(), actor, id, *req.Active); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSONMessage(w, http.StatusOK, "account updated")
}
