// Package blob stores original images and derived thumbnails under
// deterministic keys. Implementations: S3-compatible (R2, AWS), MinIO and
// the local filesystem.
package blob

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = fmt.Errorf("%w: blob does not exist", apperr.ErrNotFound)

// Store is the interface for putting and retrieving blobs.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the bytes stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the browser-accessible URL for key.
	URL(key string) string
}

// OriginalKey is where an uploaded original is stored.
func OriginalKey(userID uint, imageUUID, filename string) string {
	return fmt.Sprintf("images/%d/originals/%s_%s", userID, imageUUID, filename)
}

// ThumbnailKey is where the thumbnail of an image at height is stored, e.g.
// "images/1/thumbnails/9f86d081884c7d65/cat.png200.jpg". The directory is a
// one-way digest of the image UUID, so a thumbnail URL does not reveal the
// original's key.
func ThumbnailKey(userID uint, imageUUID, filename string, height uint) string {
	sum := sha256.Sum256([]byte(imageUUID))
	return fmt.Sprintf("images/%d/thumbnails/%x/%s%d.jpg", userID, sum[:8], filename, height)
}

// CleanURL escapes spaces and normalizes the URL; unparsable input is returned as is.
func CleanURL(urlStr string) string {
	urlStr = strings.ReplaceAll(urlStr, " ", "%20")
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}

	return parsedURL.String()
}
