package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/response"
)

// ServeMedia serves blobs from store under /media/, but only keys that a
// projection currently hands out. Directories, originals the owner's tier
// hides and thumbnails of sizes the tier dropped are all 404.
func (h *Handler) ServeMedia(store blob.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if key == "" || strings.HasSuffix(key, "/") {
			response.Error(w, http.StatusNotFound, "Not Found")
			return
		}

		contentType, err := h.Projector.Exposed(r.Context(), key)
		if err != nil {
			response.FromError(w, r, err)
			return
		}
		data, err := store.Get(r.Context(), key)
		if err != nil {
			response.FromError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "private, max-age=60")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
