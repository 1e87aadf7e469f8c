// Package handlers contains the HTTP handlers of the image API.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/auth"
	"github.com/petermazzocco/go-image-tiers/internal/images"
	"github.com/petermazzocco/go-image-tiers/internal/links"
	"github.com/petermazzocco/go-image-tiers/internal/projection"
	"github.com/petermazzocco/go-image-tiers/internal/response"
	"github.com/petermazzocco/go-image-tiers/internal/users"
	"github.com/petermazzocco/go-image-tiers/models"
)

// Deps are the services the handlers call into.
type Deps struct {
	Users     *users.Service
	Images    *images.Service
	Projector *projection.Projector
	Links     *links.Manager
	Auth      *auth.Authenticator

	// PublicBaseURL prefixes generated link URLs; empty means the request host.
	PublicBaseURL  string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handler holds HTTP handlers for the API.
type Handler struct {
	Deps
	validate *validator.Validate
}

// New creates a new Handler.
func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}
	return &Handler{Deps: deps, validate: validator.New()}
}

// currentUser loads the authenticated user with their tier.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "User ID not found in context")
		return nil, false
	}
	u, err := h.Users.GetByID(r.Context(), id)
	if apperr.Is(err, apperr.ErrNotFound) {
		response.Error(w, http.StatusUnauthorized, "Not Authorized")
		return nil, false
	}
	if err != nil {
		response.FromError(w, r, err)
		return nil, false
	}
	return u, true
}

func imageIDParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Wrap(apperr.ErrNotFound, "image %q", chi.URLParam(r, "id"))
	}
	return uint(id), nil
}
