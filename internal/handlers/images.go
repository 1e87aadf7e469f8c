package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/images"
	"github.com/petermazzocco/go-image-tiers/internal/projection"
	"github.com/petermazzocco/go-image-tiers/internal/response"
	"github.com/petermazzocco/go-image-tiers/models"
)

type imageView struct {
	ID        uint                 `json:"id"`
	UUID      string               `json:"uuid"`
	Filename  string               `json:"filename"`
	CreatedAt time.Time            `json:"created_at"`
	Artifacts projection.Artifacts `json:"artifacts"`
}

func newImageView(img *models.Image, artifacts projection.Artifacts) imageView {
	return imageView{
		ID:        img.ID,
		UUID:      img.UUID,
		Filename:  img.Filename,
		CreatedAt: img.CreatedAt,
		Artifacts: artifacts,
	}
}

// UploadImage stores a multipart "image" file and derives its thumbnails.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	img, report, err := h.Images.Create(r.Context(), user.ID, images.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	artifacts, err := h.Projector.Project(r.Context(), img)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	body := map[string]any{
		"message": "Image uploaded successfully",
		"image":   newImageView(img, artifacts),
	}
	if warnings := report.Warnings(); len(warnings) > 0 {
		body["warnings"] = warnings
	}
	response.JSON(w, http.StatusCreated, body)
}

// ListImages returns every image of the user with its visible artifacts.
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	imgs, err := h.Images.List(r.Context(), user.ID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	artifacts, err := h.Projector.ProjectAll(r.Context(), user.ID, imgs)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	views := make([]imageView, 0, len(imgs))
	for i := range imgs {
		views = append(views, newImageView(&imgs[i], artifacts[imgs[i].ID]))
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"message": "Fetched images successfully",
		"images":  views,
	})
}

// GetImage returns one of the user's images.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := imageIDParam(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	img, err := h.Images.Get(r.Context(), user.ID, id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	artifacts, err := h.Projector.Project(r.Context(), img)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"message": "Fetched image successfully",
		"image":   newImageView(img, artifacts),
	})
}

// DeleteImage removes one of the user's images.
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	id, err := imageIDParam(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	if err := h.Images.Delete(r.Context(), user.ID, id); err != nil {
		if !apperr.Is(err, apperr.ErrNotFound) {
			h.Logger.Error("failed to delete image", "image_id", id, "error", err)
		}
		response.FromError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
