package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/petermazzocco/go-image-tiers/internal/response"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
)

type createLinkRequest struct {
	ImageID uint `json:"image_id" validate:"required"`
	Seconds int  `json:"seconds" validate:"required"`
}

type linkView struct {
	Link       string    `json:"link"`
	ExpiryTime time.Time `json:"expiry_time"`
}

// CreateLink issues an expiring public link to one of the user's images.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if !tiers.CanGenerateLinks(user.Tier) {
		response.Error(w, http.StatusForbidden, "your tier does not allow link generation")
		return
	}

	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "image_id and seconds are required")
		return
	}

	img, err := h.Images.Get(r.Context(), user.ID, req.ImageID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	link, err := h.Links.Issue(r.Context(), user, img, req.Seconds)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, http.StatusCreated, linkView{
		Link:       h.linkURL(r, link.Token),
		ExpiryTime: link.ExpiresAt,
	})
}

// ListLinks returns the user's links that have not expired yet.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	active, err := h.Links.ListActive(r.Context(), user.ID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	views := make([]linkView, 0, len(active))
	for _, l := range active {
		views = append(views, linkView{Link: h.linkURL(r, l.Token), ExpiryTime: l.ExpiresAt})
	}
	response.JSON(w, http.StatusOK, map[string]any{"links": views})
}

// ResolveLink serves the original behind a token to anyone holding it.
func (h *Handler) ResolveLink(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.Links.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", resolved.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", strconv.Itoa(len(resolved.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resolved.Data)
}

func (h *Handler) linkURL(r *http.Request, token string) string {
	base := h.PublicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		} else if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/links/" + token
}
