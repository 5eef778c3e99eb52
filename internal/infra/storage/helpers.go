package storage

import (
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// objectURL joins the public base, bucket and key in path-style form.
func objectURL(baseURL, bucket, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

// contentTypeFor guesses a content type from the file extension.
func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// removeLocal deletes a staged upload. A missing file is not an error.
func removeLocal(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// upload result stands; only warn
		slog.Warn("failed to remove local upload", "path", path, "error", err)
	}
}
