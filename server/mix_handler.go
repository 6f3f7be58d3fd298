package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"mixfm/core/mix"
	"mixfm/logger"
	"mixfm/model"
)

// CreateMixHandler runs one mix request through the pipeline and returns
// the resulting record.
func (h *APIHandler) CreateMixHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	plan := GetPlanFromContext(r.Context())

	var req model.MixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = userID
	req.Source.UserID = userID

	logger.Info("mix requested",
		logger.Int64("userId", userID),
		logger.String("sourceKind", string(req.Source.Kind)),
		logger.Int("jingles", len(req.Jingles)),
		logger.Bool("preview", req.PreviewOnly))

	record, err := h.orchestrator.Run(r.Context(), &req, plan)
	if err != nil {
		var perr *mix.PipelineError
		if !errors.As(err, &perr) {
			logger.Error("mix failed", logger.Int64("userId", userID), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		// A storage failure after composition still yields a servable
		// ephemeral artifact; report both.
		if perr.Kind == mix.FailStorage && record != nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"mix":     record,
				"warning": "durable storage is unavailable; the artifact is served temporarily",
			})
			return
		}

		logger.Warn("mix rejected",
			logger.Int64("userId", userID),
			logger.String("kind", string(perr.Kind)),
			logger.ErrorField(perr.Err))
		writeError(w, failureStatus(perr.Kind), failureMessage(perr))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"mix": record})
}

func failureStatus(kind mix.FailureKind) int {
	switch kind {
	case mix.FailPolicy:
		return http.StatusForbidden
	case mix.FailAcquisition:
		return http.StatusUnprocessableEntity
	case mix.FailBandwidth:
		return http.StatusTooManyRequests
	case mix.FailComposition:
		return http.StatusUnprocessableEntity
	case mix.FailStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// failureMessage keeps user-facing text generic; the wrapped detail goes to
// logs only.
func failureMessage(perr *mix.PipelineError) string {
	switch perr.Kind {
	case mix.FailPolicy:
		return perr.Err.Error() // policy violations are safe and actionable
	case mix.FailAcquisition:
		return "the source audio could not be acquired"
	case mix.FailBandwidth:
		return "bandwidth quota exceeded for the current period"
	case mix.FailComposition:
		return "audio composition failed"
	case mix.FailStorage:
		return "durable storage is unavailable"
	default:
		return "internal server error"
	}
}

// ListMixesHandler returns the caller's mix history, newest first.
func (h *APIHandler) ListMixesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	records, err := h.mixRepo.GetAllByUserID(r.Context(), userID)
	if err != nil {
		logger.Error("failed to list mixes", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"mixes": records})
}

// GetMixHandler returns a single mix record owned by the caller.
func (h *APIHandler) GetMixHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid mix ID")
		return
	}

	record, err := h.mixRepo.GetByID(r.Context(), id)
	if err != nil {
		logger.Error("failed to load mix", logger.Int64("mixId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if record == nil || record.UserID != userID {
		writeError(w, http.StatusNotFound, "Mix not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"mix": record})
}

// QuotaHandler reports the caller's bandwidth consumption against the
// current plan limit.
func (h *APIHandler) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limits := h.limits.Get(GetPlanFromContext(r.Context()))

	state, err := h.ledger.State(r.Context(), userID, limits.BandwidthLimitBytes)
	if err != nil {
		logger.Error("failed to read quota state", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, state)
}
