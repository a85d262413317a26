package orders

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/quota"
	"github.com/versatiles/printops/internal/users"
)

// Handler provides HTTP handlers for order endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

type createOrderRequest struct {
	ClientID        *uuid.UUID `json:"client_id"`
	AgentID         *uuid.UUID `json:"agent_id"`
	BWQuantity      int        `json:"bw_quantity" validate:"gte=0"`
	ColorQuantity   int        `json:"color_quantity" validate:"gte=0"`
	PaperDimensions string     `json:"paper_dimensions" validate:"max=100"`
	PaperType       string     `json:"paper_type" validate:"max=100"`
	Finishing       string     `json:"finishing" validate:"max=100"`
	Notes           string     `json:"notes" validate:"max=2000"`
	ExternalOrderID string     `json:"external_order_id" validate:"max=100"`
}

type statusRequest struct {
	Status Status `json:"status" validate:"required"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req createOrderRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	clientID := actor.ID
	if req.ClientID != nil {
		clientID = *req.ClientID
	} else if !actor.IsClient() {
		api.HandleError(w, api.NewValidationError("client_id is required"))
		return
	}

	order, err := h.svc.Create(r.Context(), CreateRequest{
		Actor:           actor,
		ClientID:        clientID,
		AgentID:         req.AgentID,
		BWQuantity:      req.BWQuantity,
		ColorQuantity:   req.ColorQuantity,
		PaperDimensions: req.PaperDimensions,
		PaperType:       req.PaperType,
		Finishing:       req.Finishing,
		Notes:           req.Notes,
		ExternalOrderID: req.ExternalOrderID,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusCreated, order)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "orderID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	order, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, order)
}

// List supports ?status=, ?import_id= and pagination. Results are scoped to
// the caller's role.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := DefaultListParams()
	params.Page, params.PageSize = api.Page(r, params.PageSize)
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status, err := ParseStatus(v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError(err.Error()))
			return
		}
		params.Status = &status
	}
	if v := q.Get("import_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid import_id"))
			return
		}
		params.ImportID = &id
	}
	if v := q.Get("client_id"); v != "" && actor.IsAdmin() {
		id, err := uuid.Parse(v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid client_id"))
			return
		}
		params.ClientID = &id
	}

	list, total, err := h.svc.List(r.Context(), actor, params)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSONPaginated(w, http.StatusOK, list, total, params.Page, params.PageSize)
}

// ChangeStatus advances an order to the requested status.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "orderID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req statusRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	order, err := h.svc.ChangeStatus(r.Context(), actor, id, req.Status)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, order)
}

// Stats returns order counts by status, optionally for ?month=YYYY-MM.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var month *time.Time
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := quota.ParseMonth(v)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError(err.Error()))
			return
		}
		month = &m
	}

	stats, err := h.svc.Stats(r.Context(), actor, month)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, stats)
}
