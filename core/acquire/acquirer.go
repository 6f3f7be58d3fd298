package acquire

import (
	"context"
	"errors"
	"time"

	"mixfm/logger"
	"mixfm/model"
)

// Acquisition failure taxonomy. Each sentinel maps to a different
// remediation path for the caller, so they are never collapsed.
var (
	ErrInvalidSourceURL       = errors.New("acquire: invalid source URL")
	ErrUnreachableSource      = errors.New("acquire: source unreachable")
	ErrUnsupportedContentType = errors.New("acquire: unsupported content type")
	ErrSizeLimitExceeded      = errors.New("acquire: download exceeds size limit")
	ErrNoAudioFormatAvailable = errors.New("acquire: no audio-only format available")

	// ErrOAuthNotConfigured is operator-fixable: the platform consumer
	// credentials are missing. ErrReauthorizationRequired is user-fixable:
	// the delegated token is absent or stale.
	ErrOAuthNotConfigured      = errors.New("acquire: audiomack credentials not configured")
	ErrReauthorizationRequired = errors.New("acquire: audiomack reauthorization required")
)

// Acquirer turns a source descriptor into raw audio bytes plus best-effort
// metadata. One implementation per source kind.
type Acquirer interface {
	Acquire(ctx context.Context, desc model.SourceDescriptor) (*model.AcquiredAudio, error)
}

// transientError marks failures worth retrying (timeouts, 5xx). Validation
// and 4xx failures are never marked.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func markTransient(err error) error {
	return &transientError{err: err}
}

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

const (
	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// withRetry runs fn with bounded retry and exponential backoff. Only
// transient failures are retried; the last error is returned as-is.
func withRetry(ctx context.Context, what string, fn func() error) error {
	backoff := retryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) || attempt == maxRetries {
			return err
		}

		logger.Warn("transient acquisition failure, retrying",
			logger.String("what", what),
			logger.Int("attempt", attempt+1),
			logger.ErrorField(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}
