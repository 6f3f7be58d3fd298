package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"mixfm/core/auth"
	"mixfm/core/staging"
	"mixfm/model"
)

func testStagingStore(t *testing.T) *staging.Store {
	t.Helper()
	base := t.TempDir()
	store, err := staging.NewStore(filepath.Join(base, "staging"), filepath.Join(base, "covers"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestAuthMiddleware(t *testing.T) {
	auth.Init("test-secret")
	h := &APIHandler{}

	var gotUserID int64
	var gotPlan model.PlanTier
	protected := h.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = GetUserIDFromContext(r.Context())
		gotPlan = GetPlanFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	// No header.
	rec := httptest.NewRecorder()
	protected(rec, httptest.NewRequest(http.MethodGet, "/api/mix", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", rec.Code)
	}

	// Malformed header.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/mix", nil)
	req.Header.Set("Authorization", "Token abc")
	protected(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("malformed header: expected 401, got %d", rec.Code)
	}

	// Valid token.
	token, err := auth.GenerateToken(42, "alice", model.TierPro)
	if err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/mix", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protected(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", rec.Code)
	}
	if gotUserID != 42 || gotPlan != model.TierPro {
		t.Fatalf("context not populated: user=%d plan=%s", gotUserID, gotPlan)
	}
}

func TestTempFileHandler(t *testing.T) {
	store := testStagingStore(t)
	h := &APIHandler{staging: store}

	asset, err := store.Save([]byte("mp3 artifact"), ".mp3", staging.KindCompositeOutput, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Same router options as production: hostile encoded paths must reach
	// the handler instead of being redirected away by mux's path cleaning.
	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	router.HandleFunc("/tmp/{token}", h.TempFileHandler)

	// Valid token serves the file.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tmp/"+asset.Token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "mp3 artifact" {
		t.Fatal("body mismatch")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("ephemeral artifacts must not be cached: %q", cc)
	}

	// Unknown token is a 404, not an error leak.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tmp/mix-nope.mp3", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	// Traversal attempts are rejected the same way.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tmp/..%2F..%2Fetc%2Fpasswd", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for traversal, got %d", rec.Code)
	}
}
