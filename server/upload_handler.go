package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"mixfm/core/staging"
	"mixfm/logger"
)

const (
	maxAudioUploadBytes = 100 << 20
	maxCoverUploadBytes = 10 << 20
)

// UploadAudioHandler stages a primary track uploaded by the user and
// returns the token a later mix request references it by.
func (h *APIHandler) UploadAudioHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing audio file")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".mp3" && ext != ".wav" && ext != ".flac" && ext != ".m4a" && ext != ".ogg" {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported audio format")
		return
	}

	asset, err := h.staging.SaveFrom(file, ext, staging.KindRawAudio, userID)
	if err != nil {
		logger.Error("failed to stage audio upload", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Reject files ffprobe cannot read before the user builds a mix
	// around them.
	if _, err := h.prober.ProbeDuration(r.Context(), asset.Path); err != nil {
		h.staging.Delete(asset)
		writeError(w, http.StatusUnprocessableEntity, "File is not a readable audio file")
		return
	}

	logger.Info("audio staged",
		logger.Int64("userId", userID),
		logger.String("token", asset.Token))

	writeJSON(w, http.StatusCreated, map[string]string{"stagedToken": asset.Token})
}

// UploadCoverHandler stages a cover image in the caller's private cover
// area and returns its token.
func (h *APIHandler) UploadCoverHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxCoverUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("cover")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing cover file")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported image format")
		return
	}

	asset, err := h.staging.SaveFrom(file, ext, staging.KindCoverImage, userID)
	if err != nil {
		logger.Error("failed to stage cover upload", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	logger.Info("cover staged",
		logger.Int64("userId", userID),
		logger.String("token", asset.Token))

	writeJSON(w, http.StatusCreated, map[string]string{"coverToken": asset.Token})
}
