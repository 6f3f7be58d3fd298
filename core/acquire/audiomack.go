package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mixfm/logger"
	"mixfm/model"

	"github.com/gomodule/oauth1/oauth"
)

const audiomackAPIBase = "https://api.audiomack.com/v1"

// AudiomackKind distinguishes track and album URLs.
type AudiomackKind string

const (
	AudiomackTrack AudiomackKind = "track"
	AudiomackAlbum AudiomackKind = "album"
)

// AudiomackRef is a parsed audiomack.com URL.
type AudiomackRef struct {
	ArtistSlug string
	TrackSlug  string
	Kind       AudiomackKind
}

// ParseAudiomackURL parses audiomack.com/{artist}/song/{slug} and
// audiomack.com/{artist}/album/{slug} URLs.
func ParseAudiomackURL(raw string) (AudiomackRef, error) {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(strings.ToLower(u.Hostname()), "audiomack.com") {
		return AudiomackRef{}, fmt.Errorf("%w: %q is not an Audiomack URL", ErrInvalidSourceURL, raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return AudiomackRef{}, fmt.Errorf("%w: unrecognized Audiomack path %q", ErrInvalidSourceURL, u.Path)
	}

	ref := AudiomackRef{ArtistSlug: parts[0], TrackSlug: parts[2]}
	switch parts[1] {
	case "song":
		ref.Kind = AudiomackTrack
	case "album":
		ref.Kind = AudiomackAlbum
	default:
		return AudiomackRef{}, fmt.Errorf("%w: unrecognized Audiomack path %q", ErrInvalidSourceURL, u.Path)
	}
	return ref, nil
}

// TokenStore persists per-user delegated OAuth1 tokens. The pipeline never
// touches the token tables directly.
type TokenStore interface {
	Get(userID int64) (*model.AudiomackToken, error)
	Save(token *model.AudiomackToken) error
}

// OAuthConfig carries the Audiomack platform credentials. Zero-valued when
// the operator has not configured the integration.
type OAuthConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
}

// Configured reports whether platform credentials are present.
func (c OAuthConfig) Configured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != ""
}

func (c OAuthConfig) oauthClient() *oauth.Client {
	return &oauth.Client{
		TemporaryCredentialRequestURI: audiomackAPIBase + "/request_token",
		ResourceOwnerAuthorizationURI: "https://audiomack.com/oauth/authenticate",
		TokenRequestURI:               audiomackAPIBase + "/access_token",
		Credentials: oauth.Credentials{
			Token:  c.ConsumerKey,
			Secret: c.ConsumerSecret,
		},
	}
}

// AudiomackAcquirer downloads tracks from Audiomack. Public tracks need no
// user credentials; tracks behind OAuth use the requesting user's delegated
// token.
type AudiomackAcquirer struct {
	cfg      OAuthConfig
	tokens   TokenStore
	client   *http.Client
	maxBytes int64
}

// NewAudiomackAcquirer builds the Audiomack acquirer.
func NewAudiomackAcquirer(cfg OAuthConfig, tokens TokenStore, timeout time.Duration, maxBytes int64) *AudiomackAcquirer {
	return &AudiomackAcquirer{
		cfg:      cfg,
		tokens:   tokens,
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// audiomackMusic is the subset of the music lookup response the pipeline
// uses.
type audiomackMusic struct {
	Results struct {
		Title        string `json:"title"`
		Artist       string `json:"artist"`
		StreamingURL string `json:"streaming_url"`
		Image        string `json:"image"`
	} `json:"results"`
	Errorcode int    `json:"errorcode"`
	Message   string `json:"message"`
}

// Acquire resolves the track and downloads its stream. OAuth failures are
// split into operator-fixable (missing platform credentials) and
// user-fixable (missing or expired delegated token).
func (a *AudiomackAcquirer) Acquire(ctx context.Context, desc model.SourceDescriptor) (*model.AcquiredAudio, error) {
	ref, err := ParseAudiomackURL(desc.URL)
	if err != nil {
		return nil, err
	}
	if ref.Kind == AudiomackAlbum {
		return nil, fmt.Errorf("%w: albums cannot be mixed, pick a single track", ErrInvalidSourceURL)
	}

	var acquired *model.AcquiredAudio
	err = withRetry(ctx, "audiomack download", func() error {
		acquired, err = a.fetch(ctx, ref, desc.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func (a *AudiomackAcquirer) fetch(ctx context.Context, ref AudiomackRef, userID int64) (*model.AcquiredAudio, error) {
	lookupURL := fmt.Sprintf("%s/music/url/%s/%s", audiomackAPIBase, url.PathEscape(ref.ArtistSlug), url.PathEscape(ref.TrackSlug))

	// Public lookup first; only escalate to OAuth when the platform says
	// the track needs authorization.
	music, err := a.lookup(ctx, lookupURL, nil)
	if err != nil {
		var authErr *authRequiredError
		if !errors.As(err, &authErr) {
			return nil, err
		}

		cred, credErr := a.userCredentials(userID)
		if credErr != nil {
			return nil, credErr
		}
		music, err = a.lookup(ctx, lookupURL, cred)
		if err != nil {
			return nil, err
		}
	}

	if music.Results.StreamingURL == "" {
		return nil, fmt.Errorf("%w: track %s/%s has no stream", ErrNoAudioFormatAvailable, ref.ArtistSlug, ref.TrackSlug)
	}

	data, err := a.download(ctx, music.Results.StreamingURL)
	if err != nil {
		return nil, err
	}

	logger.Info("audiomack source downloaded",
		logger.String("artist", ref.ArtistSlug),
		logger.String("track", ref.TrackSlug),
		logger.Int("bytes", len(data)))

	return &model.AcquiredAudio{
		Bytes:           data,
		SuggestedTitle:  music.Results.Title,
		SuggestedArtist: music.Results.Artist,
		CoverArtURL:     music.Results.Image,
	}, nil
}

// userCredentials loads the requesting user's delegated token, checking
// expiry against the stored timestamp so no network round trip is needed.
func (a *AudiomackAcquirer) userCredentials(userID int64) (*oauth.Credentials, error) {
	if !a.cfg.Configured() {
		return nil, ErrOAuthNotConfigured
	}

	token, err := a.tokens.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load Audiomack token: %w", err)
	}
	if token == nil {
		return nil, fmt.Errorf("%w: no delegated token for user %d", ErrReauthorizationRequired, userID)
	}
	if token.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: delegated token for user %d expired at %s", ErrReauthorizationRequired, userID, token.ExpiresAt.Format(time.RFC3339))
	}

	return &oauth.Credentials{Token: token.AccessToken, Secret: token.TokenSecret}, nil
}

// authRequiredError signals that the public lookup was refused and the
// OAuth path must be taken.
type authRequiredError struct {
	status int
}

func (e *authRequiredError) Error() string {
	return fmt.Sprintf("audiomack lookup requires authorization (status %d)", e.status)
}

func (a *AudiomackAcquirer) lookup(ctx context.Context, lookupURL string, cred *oauth.Credentials) (*audiomackMusic, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	if cred != nil {
		if err := a.cfg.oauthClient().SetAuthorizationHeader(req.Header, cred, http.MethodGet, req.URL, nil); err != nil {
			return nil, fmt.Errorf("failed to sign Audiomack request: %w", err)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, markTransient(fmt.Errorf("%w: %v", ErrUnreachableSource, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if cred != nil {
			// Token was present and unexpired by timestamp but the
			// platform refused it anyway; the user must reconnect.
			return nil, fmt.Errorf("%w: platform rejected delegated token", ErrReauthorizationRequired)
		}
		return nil, &authRequiredError{status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, markTransient(fmt.Errorf("%w: status %d", ErrUnreachableSource, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnreachableSource, resp.StatusCode)
	}

	var music audiomackMusic
	if err := json.NewDecoder(resp.Body).Decode(&music); err != nil {
		return nil, fmt.Errorf("%w: malformed lookup response: %v", ErrUnreachableSource, err)
	}
	if music.Errorcode != 0 {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrUnreachableSource, music.Message, music.Errorcode)
	}
	return &music, nil
}

func (a *AudiomackAcquirer) download(ctx context.Context, streamURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, markTransient(fmt.Errorf("%w: %v", ErrUnreachableSource, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		wrapped := fmt.Errorf("%w: stream status %d", ErrUnreachableSource, resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, markTransient(wrapped)
		}
		return nil, wrapped
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, markTransient(fmt.Errorf("%w: read failed: %v", ErrUnreachableSource, err))
	}
	if int64(len(data)) > a.maxBytes {
		return nil, fmt.Errorf("%w: payload exceeds limit %d", ErrSizeLimitExceeded, a.maxBytes)
	}
	return data, nil
}

// OAuthFlow drives the three-legged authorization: obtain a request token,
// send the user to authorize, exchange the verifier for an access token.
type OAuthFlow struct {
	cfg    OAuthConfig
	tokens TokenStore
	client *http.Client

	// pending request-token secrets, keyed by request token. Entries are
	// short-lived; the user either completes the redirect or the entry is
	// replaced on their next attempt.
	mu      sync.Mutex
	pending map[string]pendingAuth
}

type pendingAuth struct {
	userID int64
	cred   oauth.Credentials
}

// NewOAuthFlow builds the authorization flow handler.
func NewOAuthFlow(cfg OAuthConfig, tokens TokenStore) *OAuthFlow {
	return &OAuthFlow{
		cfg:     cfg,
		tokens:  tokens,
		client:  &http.Client{Timeout: 30 * time.Second},
		pending: make(map[string]pendingAuth),
	}
}

// Begin obtains temporary credentials and returns the URL to redirect the
// user to.
func (f *OAuthFlow) Begin(userID int64) (string, error) {
	if !f.cfg.Configured() {
		return "", ErrOAuthNotConfigured
	}

	client := f.cfg.oauthClient()
	tempCred, err := client.RequestTemporaryCredentials(f.client, f.cfg.CallbackURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to obtain Audiomack request token: %w", err)
	}

	f.mu.Lock()
	f.pending[tempCred.Token] = pendingAuth{userID: userID, cred: *tempCred}
	f.mu.Unlock()
	return client.AuthorizationURL(tempCred, nil), nil
}

// Complete exchanges the verifier for a long-lived access token and
// persists it for the user who started the flow.
func (f *OAuthFlow) Complete(requestToken, verifier string) (int64, error) {
	if !f.cfg.Configured() {
		return 0, ErrOAuthNotConfigured
	}

	f.mu.Lock()
	pend, ok := f.pending[requestToken]
	if ok {
		delete(f.pending, requestToken)
	}
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown or expired Audiomack request token")
	}

	tokenCred, _, err := f.cfg.oauthClient().RequestToken(f.client, &pend.cred, verifier)
	if err != nil {
		return 0, fmt.Errorf("failed to exchange Audiomack verifier: %w", err)
	}

	now := time.Now()
	token := &model.AudiomackToken{
		UserID:      pend.userID,
		AccessToken: tokenCred.Token,
		TokenSecret: tokenCred.Secret,
		// Audiomack access tokens are long-lived; plan for a year and
		// re-check the stored timestamp before each use.
		ExpiresAt: now.AddDate(1, 0, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := f.tokens.Save(token); err != nil {
		return 0, fmt.Errorf("failed to persist Audiomack token: %w", err)
	}

	logger.Info("audiomack account connected", logger.Int64("userId", pend.userID))
	return pend.userID, nil
}
