package server

import (
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"mixfm/core/staging"
	"mixfm/logger"
)

// TempFileHandler serves ephemeral mix artifacts by their staging token.
// Tokens are random UUIDs; possession of a token is the access check, the
// same model presigned URLs use. Resolution fails closed on anything that
// would escape the staging root.
func (h *APIHandler) TempFileHandler(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	path, err := h.staging.Resolve(token)
	if err != nil {
		if errors.Is(err, staging.ErrForbidden) {
			logger.Warn("temp file token rejected", logger.String("token", token))
		}
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, staging.ErrForbidden) {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		logger.Error("temp file resolution failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store") // expires soon, do not cache
	http.ServeFile(w, r, path)
}
