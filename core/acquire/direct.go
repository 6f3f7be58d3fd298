package acquire

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"context"

	"mixfm/logger"
	"mixfm/model"
)

// audioExtensions are accepted when the server does not report an audio
// Content-Type.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".flac": true,
}

// DirectAcquirer fetches a raw audio file from a plain HTTP(S) URL.
type DirectAcquirer struct {
	client   *http.Client
	maxBytes int64
}

// NewDirectAcquirer builds a direct-URL acquirer with the given download
// timeout and payload cap.
func NewDirectAcquirer(timeout time.Duration, maxBytes int64) *DirectAcquirer {
	return &DirectAcquirer{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Acquire issues a GET and buffers the payload. The URL path's last segment
// (extension stripped) becomes the suggested title.
func (a *DirectAcquirer) Acquire(ctx context.Context, desc model.SourceDescriptor) (*model.AcquiredAudio, error) {
	parsed, err := url.Parse(desc.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceURL, desc.URL)
	}

	var acquired *model.AcquiredAudio
	err = withRetry(ctx, "direct download", func() error {
		acquired, err = a.fetch(ctx, parsed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func (a *DirectAcquirer) fetch(ctx context.Context, u *url.URL) (*model.AcquiredAudio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		// Network-level failures (timeouts, refused connections) are
		// worth another attempt.
		return nil, markTransient(fmt.Errorf("%w: %v", ErrUnreachableSource, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		wrapped := fmt.Errorf("%w: status %d for %s", ErrUnreachableSource, resp.StatusCode, u)
		if resp.StatusCode >= 500 {
			return nil, markTransient(wrapped)
		}
		return nil, wrapped
	}

	ext := strings.ToLower(path.Ext(u.Path))
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") && !audioExtensions[ext] {
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedContentType, contentType, u.Path)
	}

	if resp.ContentLength > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes announced, limit %d", ErrSizeLimitExceeded, resp.ContentLength, a.maxBytes)
	}

	// Servers can understate Content-Length; enforce the cap while reading.
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, markTransient(fmt.Errorf("%w: read failed: %v", ErrUnreachableSource, err))
	}
	if int64(len(data)) > a.maxBytes {
		return nil, fmt.Errorf("%w: payload exceeds limit %d", ErrSizeLimitExceeded, a.maxBytes)
	}

	logger.Debug("direct source downloaded",
		logger.String("url", u.String()),
		logger.Int("bytes", len(data)))

	return &model.AcquiredAudio{
		Bytes:          data,
		SuggestedTitle: titleFromPath(u.Path),
	}, nil
}

// titleFromPath derives a title from the URL's last path segment with the
// extension stripped.
func titleFromPath(p string) string {
	base := path.Base(p)
	if base == "/" || base == "." {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
