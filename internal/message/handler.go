package message

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OburuO/ville-messenger-app/internal/middleware"
	"github.com/OburuO/ville-messenger-app/internal/web"
)

// Uploads buffer in memory up to this size before spilling to temp files.
const maxUploadMemory = 32 << 20

// BlobOpener reads stored attachment bytes back; storage.Disk satisfies it.
type BlobOpener interface {
	Open(path string) (io.ReadCloser, error)
}

type Handler struct {
	service *Service
	blobs   BlobOpener
	debug   bool
}

func NewHandler(service *Service, blobs BlobOpener, debug bool) *Handler {
	return &Handler{service: service, blobs: blobs, debug: debug}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/messages", h.Create)
	r.Delete("/api/messages/{id}", h.Delete)
	r.Get("/api/messages/user/{userID}", h.ByUser)
	r.Get("/api/messages/group/{groupID}", h.ByGroup)
	r.Get("/api/messages/{id}/older", h.LoadOlder)
	r.Get("/api/attachments/{id}", h.Attachment)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized", nil, false)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		web.Error(w, http.StatusBadRequest, "invalid multipart form", err, h.debug)
		return
	}

	in := CreateInput{Body: r.FormValue("body")}

	var parseErr error
	in.ReceiverID, parseErr = optionalID(r.FormValue("receiver_id"))
	if parseErr == nil {
		in.GroupID, parseErr = optionalID(r.FormValue("group_id"))
	}
	if parseErr == nil {
		in.ParentID, parseErr = optionalID(r.FormValue("parent_id"))
	}
	if parseErr != nil {
		web.Error(w, http.StatusBadRequest, "invalid id field", parseErr, h.debug)
		return
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["attachments"] {
			f, err := fh.Open()
			if err != nil {
				web.Error(w, http.StatusBadRequest, "unreadable attachment", err, h.debug)
				return
			}
			defer f.Close()
			in.Attachments = append(in.Attachments, IncomingFile{
				Name:   fh.Filename,
				Mime:   fh.Header.Get("Content-Type"),
				Reader: f,
			})
		}
	}

	msg, err := h.service.Create(r.Context(), principal.ID, in)
	if err != nil {
		h.writeError(w, "Failed to create message", err)
		return
	}
	web.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized", nil, false)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid message id", err, h.debug)
		return
	}

	newLast, err := h.service.Delete(r.Context(), id, principal.ID)
	if err != nil {
		h.writeError(w, "Failed to delete message", err)
		return
	}

	// newLast is nil unless the deleted message was its scope's last.
	web.JSON(w, http.StatusOK, map[string]any{"message": newLast})
}

func (h *Handler) ByUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.Principal(r.Context())
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized", nil, false)
		return
	}

	otherID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid user id", err, h.debug)
		return
	}

	page, err := h.service.ListByUser(r.Context(), principal.ID, otherID, pageParam(r))
	if err != nil {
		h.writeError(w, "Failed to list messages", err)
		return
	}
	web.JSON(w, http.StatusOK, page)
}

func (h *Handler) ByGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid group id", err, h.debug)
		return
	}

	page, err := h.service.ListByGroup(r.Context(), groupID, pageParam(r))
	if err != nil {
		h.writeError(w, "Failed to list messages", err)
		return
	}
	web.JSON(w, http.StatusOK, page)
}

func (h *Handler) LoadOlder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid message id", err, h.debug)
		return
	}

	page, err := h.service.LoadOlder(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to load older messages", err)
		return
	}
	web.JSON(w, http.StatusOK, page)
}

func (h *Handler) Attachment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "invalid attachment id", err, h.debug)
		return
	}

	a, err := h.service.Attachment(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to load attachment", err)
		return
	}

	f, err := h.blobs.Open(a.Path)
	if err != nil {
		web.Error(w, http.StatusNotFound, "attachment file missing", err, h.debug)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", a.Mime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Name+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	_, _ = io.Copy(w, f)
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		web.Error(w, http.StatusUnprocessableEntity, msg, err, true)
	case errors.Is(err, ErrForbidden):
		web.Error(w, http.StatusForbidden, "Forbidden", nil, false)
	case errors.Is(err, ErrNotFound):
		web.Error(w, http.StatusNotFound, msg, err, true)
	default:
		web.Error(w, http.StatusInternalServerError, msg, err, h.debug)
	}
}

func optionalID(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
