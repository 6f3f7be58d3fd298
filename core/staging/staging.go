package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mixfm/logger"

	"github.com/google/uuid"
)

// ErrForbidden is returned when a token resolves outside the staging root.
// Lookups fail closed: anything not provably inside the root is rejected.
var ErrForbidden = errors.New("staging: path escapes staging root")

// AssetKind classifies what a staged file holds.
type AssetKind string

const (
	KindRawAudio        AssetKind = "raw"
	KindCoverImage      AssetKind = "cover"
	KindCompositeOutput AssetKind = "output"
)

// Asset is a transient file inside the staging area. Its lifetime is
// bounded by an explicit Delete or the reaper.
type Asset struct {
	Token     string // opaque, unguessable; doubles as the file name
	Path      string // absolute path inside the staging root
	Kind      AssetKind
	UserID    int64
	CreatedAt time.Time
}

// Store is a transient file area shared by all in-flight mixes. Asset names
// are random tokens, never user-controlled input, so per-asset secrecy is
// the isolation mechanism. Cover art is additionally segregated per user.
type Store struct {
	root      string // absolute
	coverRoot string // absolute, contains one subdirectory per user
}

// NewStore creates the staging directories and returns a store rooted there.
func NewStore(root, coverRoot string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging root: %w", err)
	}
	absCover, err := filepath.Abs(coverRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cover art root: %w", err)
	}
	for _, dir := range []string{absRoot, absCover} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create staging directory %s: %w", dir, err)
		}
	}
	return &Store{root: absRoot, coverRoot: absCover}, nil
}

// Root returns the absolute staging root.
func (s *Store) Root() string {
	return s.root
}

// newToken builds a `{purpose}-{uuid}{ext}` file name. The uuid makes the
// name both collision-free and unguessable.
func newToken(kind AssetKind, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	switch kind {
	case KindCoverImage:
		return uuid.NewString() + ext
	case KindCompositeOutput:
		return "mix-" + uuid.NewString() + ext
	default:
		return "src-" + uuid.NewString() + ext
	}
}

// dirFor picks the directory an asset lives in. Cover images are kept under
// a per-user subdirectory; everything else shares the staging root.
func (s *Store) dirFor(kind AssetKind, userID int64) (string, error) {
	if kind == KindCoverImage {
		dir := filepath.Join(s.coverRoot, fmt.Sprintf("%d", userID))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create cover directory: %w", err)
		}
		return dir, nil
	}
	return s.root, nil
}

// Save writes bytes into the staging area under a fresh random token.
func (s *Store) Save(data []byte, ext string, kind AssetKind, userID int64) (*Asset, error) {
	dir, err := s.dirFor(kind, userID)
	if err != nil {
		return nil, err
	}

	token := newToken(kind, ext)
	path := filepath.Join(dir, token)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write staged asset: %w", err)
	}

	return &Asset{Token: token, Path: path, Kind: kind, UserID: userID, CreatedAt: time.Now()}, nil
}

// SaveFrom streams from r into the staging area. Used for object storage
// downloads where buffering the whole payload is unnecessary.
func (s *Store) SaveFrom(r io.Reader, ext string, kind AssetKind, userID int64) (*Asset, error) {
	dir, err := s.dirFor(kind, userID)
	if err != nil {
		return nil, err
	}

	token := newToken(kind, ext)
	path := filepath.Join(dir, token)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged asset: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write staged asset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close staged asset: %w", err)
	}

	return &Asset{Token: token, Path: path, Kind: kind, UserID: userID, CreatedAt: time.Now()}, nil
}

// Allocate reserves an output path without creating the file; the
// compositor subprocess writes it.
func (s *Store) Allocate(ext string, kind AssetKind, userID int64) (*Asset, error) {
	dir, err := s.dirFor(kind, userID)
	if err != nil {
		return nil, err
	}
	token := newToken(kind, ext)
	return &Asset{Token: token, Path: filepath.Join(dir, token), Kind: kind, UserID: userID, CreatedAt: time.Now()}, nil
}

// contained reports whether path is a descendant of root after
// canonicalization.
func contained(root, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolve maps a token back to an absolute path inside the staging root.
// Tokens containing path separators or traversal sequences are rejected
// with ErrForbidden before touching the filesystem.
func (s *Store) Resolve(token string) (string, error) {
	if token == "" || token != filepath.Base(filepath.Clean(token)) {
		return "", ErrForbidden
	}
	path := filepath.Join(s.root, token)
	if !contained(s.root, path) {
		return "", ErrForbidden
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("staged asset %s: %w", token, err)
	}
	return path, nil
}

// ResolveCover maps a cover token to a path inside the requesting user's
// cover directory. Cross-user access fails with ErrForbidden even when the
// token exists under another user.
func (s *Store) ResolveCover(userID int64, token string) (string, error) {
	if token == "" || token != filepath.Base(filepath.Clean(token)) {
		return "", ErrForbidden
	}
	userDir := filepath.Join(s.coverRoot, fmt.Sprintf("%d", userID))
	path := filepath.Join(userDir, token)
	if !contained(userDir, path) {
		return "", ErrForbidden
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("staged cover %s: %w", token, err)
	}
	return path, nil
}

// Delete removes a staged asset. Idempotent: deleting an already-deleted
// asset is a no-op.
func (s *Store) Delete(asset *Asset) {
	if asset == nil {
		return
	}
	if err := os.Remove(asset.Path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to delete staged asset",
			logger.String("token", asset.Token),
			logger.ErrorField(err))
	}
}

// DeleteToken removes a staged asset by token, subject to the same
// containment rules as Resolve.
func (s *Store) DeleteToken(token string) {
	path, err := s.Resolve(token)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to delete staged asset",
			logger.String("token", token),
			logger.ErrorField(err))
	}
}

// PruneOlderThan removes staging files older than maxAge, covering both the
// staging root and every per-user cover directory. Run periodically by the
// reaper to catch files orphaned by crashes; live requests finish well
// inside any reasonable maxAge.
func (s *Store) PruneOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	pruned := s.pruneDir(s.root, cutoff)

	userDirs, err := os.ReadDir(s.coverRoot)
	if err != nil {
		logger.Warn("failed to scan cover art root", logger.ErrorField(err))
	}
	for _, entry := range userDirs {
		if !entry.IsDir() {
			continue
		}
		pruned += s.pruneDir(filepath.Join(s.coverRoot, entry.Name()), cutoff)
	}

	if pruned > 0 {
		logger.Info("pruned orphaned staging files", logger.Int("count", pruned))
	}
	return pruned
}

func (s *Store) pruneDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("failed to scan staging directory",
			logger.String("dir", dir),
			logger.ErrorField(err))
		return 0
	}
	pruned := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			pruned++
		}
	}
	return pruned
}
