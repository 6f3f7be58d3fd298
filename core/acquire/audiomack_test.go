package acquire

import (
	"errors"
	"testing"
	"time"

	"mixfm/model"
)

type fakeTokenStore struct {
	tokens map[int64]*model.AudiomackToken
	saved  *model.AudiomackToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[int64]*model.AudiomackToken)}
}

func (s *fakeTokenStore) Get(userID int64) (*model.AudiomackToken, error) {
	return s.tokens[userID], nil
}

func (s *fakeTokenStore) Save(token *model.AudiomackToken) error {
	s.tokens[token.UserID] = token
	s.saved = token
	return nil
}

func TestParseAudiomackURL(t *testing.T) {
	tests := []struct {
		url     string
		artist  string
		track   string
		kind    AudiomackKind
		wantErr bool
	}{
		{url: "https://audiomack.com/artist-name/song/track-slug", artist: "artist-name", track: "track-slug", kind: AudiomackTrack},
		{url: "https://www.audiomack.com/dj-x/song/summer-set", artist: "dj-x", track: "summer-set", kind: AudiomackTrack},
		{url: "https://audiomack.com/artist/album/the-record", artist: "artist", track: "the-record", kind: AudiomackAlbum},
		{url: "https://audiomack.com/artist/playlist/some-list", wantErr: true},
		{url: "https://audiomack.com/artist", wantErr: true},
		{url: "https://soundcloud.com/artist/song/x", wantErr: true},
		{url: "not a url at all", wantErr: true},
	}
	for _, tt := range tests {
		ref, err := ParseAudiomackURL(tt.url)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSourceURL) {
				t.Errorf("%s: expected ErrInvalidSourceURL, got %v", tt.url, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.url, err)
			continue
		}
		if ref.ArtistSlug != tt.artist || ref.TrackSlug != tt.track || ref.Kind != tt.kind {
			t.Errorf("%s: parsed %+v", tt.url, ref)
		}
	}
}

func TestUserCredentialsWithoutPlatformConfig(t *testing.T) {
	a := NewAudiomackAcquirer(OAuthConfig{}, newFakeTokenStore(), time.Second, 1<<20)

	_, err := a.userCredentials(1)
	if !errors.Is(err, ErrOAuthNotConfigured) {
		t.Fatalf("expected ErrOAuthNotConfigured, got %v", err)
	}
}

func TestUserCredentialsWithoutDelegatedToken(t *testing.T) {
	cfg := OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs"}
	a := NewAudiomackAcquirer(cfg, newFakeTokenStore(), time.Second, 1<<20)

	_, err := a.userCredentials(1)
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("expected ErrReauthorizationRequired, got %v", err)
	}
}

func TestUserCredentialsExpiredToken(t *testing.T) {
	cfg := OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs"}
	store := newFakeTokenStore()
	store.tokens[1] = &model.AudiomackToken{
		UserID:      1,
		AccessToken: "at",
		TokenSecret: "ts",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	a := NewAudiomackAcquirer(cfg, store, time.Second, 1<<20)

	_, err := a.userCredentials(1)
	if !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("expected ErrReauthorizationRequired for expired token, got %v", err)
	}
}

func TestUserCredentialsValidToken(t *testing.T) {
	cfg := OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs"}
	store := newFakeTokenStore()
	store.tokens[1] = &model.AudiomackToken{
		UserID:      1,
		AccessToken: "at",
		TokenSecret: "ts",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	a := NewAudiomackAcquirer(cfg, store, time.Second, 1<<20)

	cred, err := a.userCredentials(1)
	if err != nil {
		t.Fatal(err)
	}
	if cred.Token != "at" || cred.Secret != "ts" {
		t.Fatalf("unexpected credentials %+v", cred)
	}
}

func TestOAuthFlowRequiresConfiguration(t *testing.T) {
	flow := NewOAuthFlow(OAuthConfig{}, newFakeTokenStore())

	if _, err := flow.Begin(1); !errors.Is(err, ErrOAuthNotConfigured) {
		t.Fatalf("Begin: expected ErrOAuthNotConfigured, got %v", err)
	}
	if _, err := flow.Complete("tok", "verifier"); !errors.Is(err, ErrOAuthNotConfigured) {
		t.Fatalf("Complete: expected ErrOAuthNotConfigured, got %v", err)
	}
}

func TestOAuthFlowRejectsUnknownRequestToken(t *testing.T) {
	cfg := OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs", CallbackURL: "http://cb"}
	flow := NewOAuthFlow(cfg, newFakeTokenStore())

	if _, err := flow.Complete("never-issued", "verifier"); err == nil {
		t.Fatal("expected unknown request token to be rejected")
	}
}
