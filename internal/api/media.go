package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tetatet/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxMediaSize = 32 << 20 // 32 MiB

type uploadResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UploadMediaHandler accepts an image or video file and stores it content
// addressed. The returned URL is what clients put into a message's
// mediaUrl field.
func (a *API) UploadMediaHandler(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMediaSize)
	if err := r.ParseMultipartForm(maxMediaSize); err != nil {
		http.Error(w, "File too large or malformed form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	kind, err := filetype.Match(data)
	if err != nil || (kind.MIME.Type != "image" && kind.MIME.Type != "video") {
		http.Error(w, "Only image and video uploads are allowed", http.StatusUnsupportedMediaType)
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if err := a.files.Save(bytes.NewReader(data), hash); err != nil {
		slog.Error("failed to save media file", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      int64(len(data)),
		CreatedAt: time.Now().Unix(),
		UserID:    userID,
	}
	if err := a.storage.UpsertFileMetadata(meta); err != nil {
		slog.Error("failed to save media metadata", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(uploadResponse{
		ID:  meta.ID,
		URL: a.baseURL + "/api/media/" + meta.ID,
	}); err != nil {
		slog.Error("failed to encode upload response", "error", err)
	}
}

func (a *API) GetMediaHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.storage.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	f, err := a.files.Get(meta.Hash)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, f); err != nil {
		slog.Debug("media download aborted", "id", meta.ID, "error", err)
	}
}
