package server

import (
	"net/http"

	"mixfm/logger"
)

// ConnectAudiomackHandler starts the three-legged OAuth flow and hands the
// client the authorization URL to redirect the user to.
func (h *APIHandler) ConnectAudiomackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	authURL, err := h.oauthFlow.Begin(userID)
	if err != nil {
		logger.Error("failed to begin audiomack authorization",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Audiomack authorization is unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authorizationUrl": authURL})
}

// AudiomackCallbackHandler completes the OAuth flow when Audiomack
// redirects back with a verifier.
func (h *APIHandler) AudiomackCallbackHandler(w http.ResponseWriter, r *http.Request) {
	requestToken := r.URL.Query().Get("oauth_token")
	verifier := r.URL.Query().Get("oauth_verifier")
	if requestToken == "" || verifier == "" {
		writeError(w, http.StatusBadRequest, "Missing oauth_token or oauth_verifier")
		return
	}

	userID, err := h.oauthFlow.Complete(requestToken, verifier)
	if err != nil {
		logger.Error("failed to complete audiomack authorization", logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Audiomack authorization failed")
		return
	}

	logger.Info("audiomack account connected", logger.Int64("userId", userID))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Audiomack account connected"})
}
