package handlers

import (
	"fmt"
	"net/http"

	"github.com/markbates/goth/gothic"
	"github.com/petermazzocco/go-image-tiers/internal/response"
	"github.com/petermazzocco/go-image-tiers/models"
)

type tierView struct {
	Name                string `json:"name"`
	ThumbnailSizes      []uint `json:"thumbnail_sizes"`
	ServeOriginal       bool   `json:"serve_original"`
	AllowLinkGeneration bool   `json:"allow_link_generation"`
}

type userView struct {
	ID    uint     `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Tier  tierView `json:"tier"`
}

func newUserView(u *models.User) userView {
	v := userView{ID: u.ID, Name: u.Name, Email: u.Email}
	if u.Tier != nil {
		v.Tier = tierView{
			Name:                u.Tier.Name,
			ThumbnailSizes:      make([]uint, 0, len(u.Tier.ThumbnailSizes)),
			ServeOriginal:       u.Tier.ServeOriginal,
			AllowLinkGeneration: u.Tier.AllowLinkGeneration,
		}
		for _, s := range u.Tier.ThumbnailSizes {
			v.Tier.ThumbnailSizes = append(v.Tier.ThumbnailSizes, s.Height)
		}
	}
	return v
}

// BeginAuth starts the OAuth flow unless the user is already authenticated.
func (h *Handler) BeginAuth(w http.ResponseWriter, r *http.Request) {
	if gothUser, err := gothic.CompleteUserAuth(w, r); err == nil {
		fmt.Fprintf(w, "User already authenticated: %s\n", gothUser.Name)
		return
	}
	gothic.BeginAuthHandler(w, r)
}

// UserLogin completes the OAuth flow, creating the user on first login, and
// returns a bearer token alongside the session cookie.
func (h *Handler) UserLogin(w http.ResponseWriter, r *http.Request) {
	gothUser, err := gothic.CompleteUserAuth(w, r)
	if err != nil {
		h.Logger.Warn("oauth callback failed", "error", err)
		response.Error(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	user, err := h.Users.FindOrCreate(r.Context(), gothUser.Name, gothUser.Email)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Auth.Login(w, r, user.ID); err != nil {
		h.Logger.Error("failed to save session", "error", err)
		response.Error(w, http.StatusInternalServerError, "Failed to save session")
		return
	}
	token, err := h.Auth.IssueToken(user.ID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"user":  newUserView(user),
		"token": token,
	})
}

// Logout ends the OAuth and application sessions.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	_ = gothic.Logout(w, r)
	if err := h.Auth.Logout(w, r); err != nil {
		h.Logger.Warn("failed to clear session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUser returns the authenticated user and their tier.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, newUserView(user))
}
