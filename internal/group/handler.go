package group

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/OburuO/ville-messenger-app/internal/ledger"
	"github.com/OburuO/ville-messenger-app/internal/middleware"
	"github.com/OburuO/ville-messenger-app/internal/web"
)

type Handler struct {
	ledger   *ledger.Repository
	worker   *TeardownWorker
	validate *validator.Validate
	debug    bool
}

func NewHandler(led *ledger.Repository, worker *TeardownWorker, debug bool) *Handler {
	return &Handler{
		ledger:   led,
		worker:   worker,
		validate: validator.New(),
		debug:    debug,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/groups", h.Create)
	r.Delete("/api/groups/{id}", h.Delete)
}

type createRequest struct {
	Name      string  `json:"name" validate:"required,max=100"`
	MemberIDs []int64 `json:"member_ids"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized", nil, false)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.Error(w, http.StatusBadRequest, "invalid request body", err, h.debug)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		web.Error(w, http.StatusUnprocessableEntity, "validation failed", err, true)
		return
	}

	g, err := h.ledger.CreateGroup(r.Context(), req.Name, principal.ID, req.MemberIDs)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "failed to create group", err, h.debug)
		return
	}
	web.JSON(w, http.StatusCreated, g)
}

// Delete authorizes the owner, enqueues the teardown, and returns at once.
// Members learn the group is gone from the deletion channel.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized", nil, false)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid group id", err, h.debug)
		return
	}

	g, err := h.ledger.GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrGroupNotFound) {
			web.Error(w, http.StatusNotFound, "group not found", nil, false)
			return
		}
		web.Error(w, http.StatusInternalServerError, "failed to load group", err, h.debug)
		return
	}
	if g.OwnerID != principal.ID {
		web.Error(w, http.StatusForbidden, "Forbidden", nil, false)
		return
	}

	if err := h.worker.Enqueue(id); err != nil {
		web.Error(w, http.StatusServiceUnavailable, "teardown queue is full, try again", err, h.debug)
		return
	}
	web.JSON(w, http.StatusAccepted, map[string]any{
		"message": "Group deletion scheduled",
	})
}
