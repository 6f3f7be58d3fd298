package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"mixfm/core/staging"
	"mixfm/logger"
	"mixfm/model"
)

const maxJingleUploadBytes = 20 << 20

// UploadJingleHandler accepts a multipart jingle upload, probes its
// duration and stores it in the caller's library.
func (h *APIHandler) UploadJingleHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxJingleUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("jingle")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing jingle file")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".mp3" && ext != ".wav" && ext != ".flac" && ext != ".m4a" && ext != ".ogg" {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported audio format")
		return
	}

	// Stage locally so ffprobe can read it, then promote to object
	// storage. The staged copy is removed either way.
	asset, err := h.staging.SaveFrom(file, ext, staging.KindRawAudio, userID)
	if err != nil {
		logger.Error("failed to stage jingle upload", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer h.staging.Delete(asset)

	duration, err := h.prober.ProbeDuration(r.Context(), asset.Path)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "File is not a readable audio file")
		return
	}

	info, err := os.Stat(asset.Path)
	if err != nil {
		logger.Error("staged jingle vanished", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	f, err := os.Open(asset.Path)
	if err != nil {
		logger.Error("failed to reopen staged jingle", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer f.Close()

	key := fmt.Sprintf("jingles/%d/%s%s", userID, uuid.New().String(), ext)
	if _, err := h.store.Upload(r.Context(), key, f, info.Size(), "audio/mpeg"); err != nil {
		logger.Error("failed to upload jingle", logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Storage is unavailable")
		return
	}

	jingle := &model.Jingle{
		UserID:    userID,
		Name:      name,
		ObjectKey: key,
		SizeBytes: info.Size(),
		Duration:  duration,
	}
	jingleID, err := h.jingleRepo.CreateJingle(jingle)
	if err != nil {
		logger.Error("failed to persist jingle", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	jingle.ID = jingleID

	logger.Info("jingle uploaded",
		logger.Int64("userId", userID),
		logger.Int64("jingleId", jingleID),
		logger.Float64("duration", duration))

	writeJSON(w, http.StatusCreated, map[string]interface{}{"jingle": jingle})
}

// ListJinglesHandler returns the caller's jingle library.
func (h *APIHandler) ListJinglesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	jingles, err := h.jingleRepo.GetAllJinglesByUserID(userID)
	if err != nil {
		logger.Error("failed to list jingles", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jingles": jingles})
}

// DeleteJingleHandler removes a jingle from the caller's library and from
// object storage.
func (h *APIHandler) DeleteJingleHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid jingle ID")
		return
	}

	jingle, err := h.jingleRepo.GetJingleByID(id)
	if err != nil {
		logger.Error("failed to load jingle", logger.Int64("jingleId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if jingle == nil || jingle.UserID != userID {
		writeError(w, http.StatusNotFound, "Jingle not found")
		return
	}

	if err := h.jingleRepo.DeleteJingle(id, userID); err != nil {
		logger.Error("failed to delete jingle", logger.Int64("jingleId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Best effort; an orphaned object is invisible without its record.
	if err := h.store.Delete(r.Context(), jingle.ObjectKey); err != nil {
		logger.Warn("failed to delete jingle object",
			logger.String("key", jingle.ObjectKey),
			logger.ErrorField(err))
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Jingle deleted"})
}
