package user

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/OburuO/ville-messenger-app/internal/web"
)

type Handler struct {
	Service  *Service
	validate *validator.Validate
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s, validate: validator.New()}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.Error(w, http.StatusBadRequest, "invalid request body", err, true)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		web.Error(w, http.StatusUnprocessableEntity, "validation failed", err, true)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "registration failed", err, false)
		return
	}

	web.JSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		web.Error(w, http.StatusBadRequest, "invalid request body", err, true)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		web.Error(w, http.StatusUnauthorized, "invalid credentials", nil, false)
		return
	}

	web.JSON(w, http.StatusOK, res)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	users, err := h.Service.SearchUsers(r.Context(), q)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "search failed", err, false)
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"users": users})
}
