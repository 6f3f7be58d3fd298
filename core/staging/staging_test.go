package staging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	store, err := NewStore(filepath.Join(base, "staging"), filepath.Join(base, "covers"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSaveAndResolveRoundTrip(t *testing.T) {
	store := newTestStore(t)

	asset, err := store.Save([]byte("audio bytes"), ".mp3", KindRawAudio, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(asset.Token, "src-") || !strings.HasSuffix(asset.Token, ".mp3") {
		t.Fatalf("unexpected token shape: %s", asset.Token)
	}

	path, err := store.Resolve(asset.Token)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio bytes" {
		t.Fatalf("content mismatch: %q", data)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	for _, token := range []string{
		"",
		"../outside.mp3",
		"../../etc/passwd",
		"a/b.mp3",
		"..",
		"./../x.mp3",
	} {
		if _, err := store.Resolve(token); !errors.Is(err, ErrForbidden) {
			t.Errorf("token %q: expected ErrForbidden, got %v", token, err)
		}
	}
}

func TestResolveUnknownTokenIsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve("src-does-not-exist.mp3")
	if err == nil || errors.Is(err, ErrForbidden) {
		t.Fatalf("expected a not-found error, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestResolveCoverSegregatesUsers(t *testing.T) {
	store := newTestStore(t)

	asset, err := store.Save([]byte("jpeg"), ".jpg", KindCoverImage, 1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.ResolveCover(1, asset.Token); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}

	// Another user with the same token must not reach the file.
	if _, err := store.ResolveCover(2, asset.Token); err == nil {
		t.Fatal("expected cross-user cover lookup to fail")
	}

	if _, err := store.ResolveCover(1, "../1/"+asset.Token); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for traversal, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	asset, err := store.Save([]byte("x"), ".mp3", KindRawAudio, 1)
	if err != nil {
		t.Fatal(err)
	}

	store.Delete(asset)
	if _, err := os.Stat(asset.Path); !os.IsNotExist(err) {
		t.Fatal("file should be gone")
	}

	// Second delete is a no-op, not a panic or error log worth failing on.
	store.Delete(asset)
	store.Delete(nil)
}

func TestDeleteTokenRespectsContainment(t *testing.T) {
	store := newTestStore(t)

	outside := filepath.Join(filepath.Dir(store.Root()), "victim.mp3")
	if err := os.WriteFile(outside, []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}

	store.DeleteToken("../victim.mp3")

	if _, err := os.Stat(outside); err != nil {
		t.Fatal("file outside the staging root was deleted")
	}
}

func TestPruneOlderThan(t *testing.T) {
	store := newTestStore(t)

	old, err := store.Save([]byte("old"), ".mp3", KindRawAudio, 1)
	if err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old.Path, stale, stale); err != nil {
		t.Fatal(err)
	}

	fresh, err := store.Save([]byte("fresh"), ".mp3", KindRawAudio, 1)
	if err != nil {
		t.Fatal(err)
	}

	if pruned := store.PruneOlderThan(time.Hour); pruned != 1 {
		t.Fatalf("expected 1 pruned file, got %d", pruned)
	}
	if _, err := os.Stat(old.Path); !os.IsNotExist(err) {
		t.Fatal("stale file should have been pruned")
	}
	if _, err := os.Stat(fresh.Path); err != nil {
		t.Fatal("fresh file should have survived")
	}
}

func TestPruneOlderThanReachesCoverDirectories(t *testing.T) {
	store := newTestStore(t)

	staleCover, err := store.Save([]byte("jpeg"), ".jpg", KindCoverImage, 42)
	if err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(staleCover.Path, stale, stale); err != nil {
		t.Fatal(err)
	}

	freshCover, err := store.Save([]byte("jpeg"), ".jpg", KindCoverImage, 7)
	if err != nil {
		t.Fatal(err)
	}

	if pruned := store.PruneOlderThan(time.Hour); pruned != 1 {
		t.Fatalf("expected 1 pruned file, got %d", pruned)
	}
	if _, err := os.Stat(staleCover.Path); !os.IsNotExist(err) {
		t.Fatal("stale cover should have been pruned")
	}
	if _, err := os.Stat(freshCover.Path); err != nil {
		t.Fatal("fresh cover should have survived")
	}
}
