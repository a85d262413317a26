package imports

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/users"
)

// multipartOverhead leaves room for boundaries and headers around the file.
const multipartOverhead = 64 << 10

type Handler struct {
	svc      *Service
	cfg      config.ImportsConfig
	validate *validator.Validate
}

func NewHandler(svc *Service, cfg config.ImportsConfig) *Handler {
	return &Handler{svc: svc, cfg: cfg, validate: validator.New()}
}

type rejectRequest struct {
	Notes string `json:"notes" validate:"required,max=2000"`
}

type approveRequest struct {
	Corrections Corrections `json:"corrections"`
}

type uploadResponse struct {
	Import  *Import  `json:"import"`
	Preview *Preview `json:"preview"`
}

// Upload accepts a multipart form with the CSV in the "file" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.HandleError(w, api.ErrPayloadTooLarge)
			return
		}
		api.HandleError(w, api.NewBadRequestError("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxFileBytes+1))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("reading upload: "+err.Error()))
		return
	}
	if int64(len(payload)) > h.cfg.MaxFileBytes {
		api.HandleError(w, api.ErrPayloadTooLarge)
		return
	}

	imp, preview, err := h.svc.Upload(r.Context(), actor, header.Filename, payload)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusCreated, uploadResponse{Import: imp, Preview: preview})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := ListParams{}
	params.Page, params.PageSize = api.Page(r, 20)
	if v := r.URL.Query().Get("status"); v != "" {
		status := Status(v)
		if !status.Valid() {
			api.HandleError(w, api.NewBadRequestError("unknown import status "+v))
			return
		}
		params.Status = &status
	}

	list, total, err := h.svc.List(r.Context(), actor, params)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSONPaginated(w, http.StatusOK, list, total, params.Page, params.PageSize)
}

// Get returns the import with a fresh preview of its rows.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "importID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	imp, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	preview, err := h.svc.Preview(r.Context(), actor, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, uploadResponse{Import: imp, Preview: preview})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "importID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	// The body is optional; an empty one approves the file as uploaded.
	var req approveRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, multipartOverhead))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.HandleError(w, api.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	summary, err := h.svc.Approve(r.Context(), actor, id, req.Corrections)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, summary)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := users.ActorFromContext(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	id, err := api.UUIDParam(r, "importID")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req rejectRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	imp, err := h.svc.Reject(r.Context(), actor, id, req.Notes)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, imp)
}
