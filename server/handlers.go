package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"mixfm/config"
	"mixfm/core/acquire"
	"mixfm/core/auth"
	"mixfm/core/mix"
	"mixfm/core/policy"
	"mixfm/core/quota"
	"mixfm/core/staging"
	"mixfm/logger"
	"mixfm/model"
	"mixfm/repository"
	"mixfm/storage"
)

type contextKey string

const (
	ctxUserID   contextKey = "userID"
	ctxUsername contextKey = "username"
	ctxPlan     contextKey = "plan"
)

// APIHandler handles all API requests.
type APIHandler struct {
	userRepo     repository.UserRepository
	jingleRepo   repository.JingleRepository
	mixRepo      repository.MixRepository
	orchestrator *mix.Orchestrator
	oauthFlow    *acquire.OAuthFlow
	prober       mix.Prober
	staging      *staging.Store
	store        storage.ObjectStore
	ledger       quota.Ledger
	limits       *policy.LimitsTable
	cfg          *config.Config
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	userRepo repository.UserRepository,
	jingleRepo repository.JingleRepository,
	mixRepo repository.MixRepository,
	orchestrator *mix.Orchestrator,
	oauthFlow *acquire.OAuthFlow,
	prober mix.Prober,
	stagingStore *staging.Store,
	store storage.ObjectStore,
	ledger quota.Ledger,
	limits *policy.LimitsTable,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		userRepo:     userRepo,
		jingleRepo:   jingleRepo,
		mixRepo:      mixRepo,
		orchestrator: orchestrator,
		oauthFlow:    oauthFlow,
		prober:       prober,
		staging:      stagingStore,
		store:        store,
		ledger:       ledger,
		limits:       limits,
		cfg:          cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// AuthMiddleware checks for a valid JWT token and loads the caller's
// identity and plan tier into the request context.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := auth.ParseToken(parts[1])
		if err != nil {
			logger.Debug("token rejected", logger.ErrorField(err))
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxUsername, claims.Username)
		ctx = context.WithValue(ctx, ctxPlan, claims.Plan)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUserIDFromContext extracts the user ID from the request context.
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(ctxUserID).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetPlanFromContext extracts the plan tier from the request context.
func GetPlanFromContext(ctx context.Context) model.PlanTier {
	plan, ok := ctx.Value(ctxPlan).(model.PlanTier)
	if !ok {
		return model.TierFree
	}
	return plan
}
