package reaction

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OburuO/ville-messenger-app/internal/middleware"
	"github.com/OburuO/ville-messenger-app/internal/web"
)

type Handler struct {
	service *Service
	debug   bool
}

func NewHandler(service *Service, debug bool) *Handler {
	return &Handler{service: service, debug: debug}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/reactions/{type}/{id}", h.React)
	r.Get("/api/reactions/{type}/{id}", h.GetReactions)
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized", nil, false)
		return
	}

	entityType := chi.URLParam(r, "type")
	entityID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid entity id", err, h.debug)
		return
	}

	var req reactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.Error(w, http.StatusBadRequest, "invalid request body", err, h.debug)
		return
	}

	action, reactions, err := h.service.React(r.Context(), entityType, entityID, principal.ID, req.Emoji)
	if err != nil {
		h.writeError(w, "Failed to process reaction", err)
		return
	}

	web.JSON(w, http.StatusOK, map[string]any{
		"message":   "Reaction " + action,
		"reactions": reactions,
	})
}

func (h *Handler) GetReactions(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized", nil, false)
		return
	}

	entityType := chi.URLParam(r, "type")
	entityID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid entity id", err, h.debug)
		return
	}

	reactions, err := h.service.List(r.Context(), entityType, entityID)
	if err != nil {
		h.writeError(w, "Failed to get reactions", err)
		return
	}

	web.JSON(w, http.StatusOK, map[string]any{
		"reactions": reactions,
		"grouped":   Grouped(reactions, principal.ID),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrEmojiEmpty), errors.Is(err, ErrEmojiTooLong):
		web.Error(w, http.StatusUnprocessableEntity, msg, err, true)
	case errors.Is(err, ErrUnsupportedEntity), errors.Is(err, ErrEntityNotFound):
		web.Error(w, http.StatusNotFound, msg, err, true)
	default:
		web.Error(w, http.StatusInternalServerError, msg, err, h.debug)
	}
}
