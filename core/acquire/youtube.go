package acquire

import (
	"context"
	"fmt"
	"io"
	"strings"

	"mixfm/logger"
	"mixfm/model"

	youtube "github.com/kkdai/youtube/v2"
)

// YouTubeAcquirer resolves a video's audio-only formats and downloads the
// best one fully into memory; the pipeline does not support streaming
// composition.
type YouTubeAcquirer struct {
	client   *youtube.Client
	maxBytes int64
}

// NewYouTubeAcquirer builds a YouTube acquirer with the given payload cap.
func NewYouTubeAcquirer(maxBytes int64) *YouTubeAcquirer {
	return &YouTubeAcquirer{
		client:   &youtube.Client{},
		maxBytes: maxBytes,
	}
}

// Acquire validates the URL against the platform ID pattern before any
// network call, then picks the highest-bitrate audio-only format.
func (a *YouTubeAcquirer) Acquire(ctx context.Context, desc model.SourceDescriptor) (*model.AcquiredAudio, error) {
	videoID, err := youtube.ExtractVideoID(desc.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a YouTube video URL", ErrInvalidSourceURL, desc.URL)
	}

	var acquired *model.AcquiredAudio
	err = withRetry(ctx, "youtube download", func() error {
		acquired, err = a.fetch(ctx, videoID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acquired, nil
}

func (a *YouTubeAcquirer) fetch(ctx context.Context, videoID string) (*model.AcquiredAudio, error) {
	video, err := a.client.GetVideoContext(ctx, videoID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, markTransient(fmt.Errorf("%w: %v", ErrUnreachableSource, err))
	}

	format := bestAudioFormat(video.Formats)
	if format == nil {
		return nil, fmt.Errorf("%w: video %s", ErrNoAudioFormatAvailable, videoID)
	}

	if format.ContentLength > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrSizeLimitExceeded, format.ContentLength, a.maxBytes)
	}

	stream, _, err := a.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, markTransient(fmt.Errorf("%w: stream failed: %v", ErrUnreachableSource, err))
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, a.maxBytes+1))
	if err != nil {
		return nil, markTransient(fmt.Errorf("%w: read failed: %v", ErrUnreachableSource, err))
	}
	if int64(len(data)) > a.maxBytes {
		return nil, fmt.Errorf("%w: payload exceeds limit %d", ErrSizeLimitExceeded, a.maxBytes)
	}

	logger.Info("youtube source downloaded",
		logger.String("videoId", videoID),
		logger.String("mimeType", format.MimeType),
		logger.Int("bytes", len(data)))

	return &model.AcquiredAudio{
		Bytes:           data,
		SuggestedTitle:  video.Title,
		SuggestedArtist: video.Author,
		// Surfaced unconditionally; whether the caller may use it is a
		// plan policy decision, not the acquirer's.
		CoverArtURL: bestThumbnail(video.Thumbnails),
	}, nil
}

// bestAudioFormat picks the highest-bitrate audio-only format, or nil when
// the video has none.
func bestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

// bestThumbnail returns the URL of the largest thumbnail.
func bestThumbnail(thumbs youtube.Thumbnails) string {
	var url string
	var width uint
	for _, t := range thumbs {
		if t.URL != "" && t.Width >= width {
			url = t.URL
			width = t.Width
		}
	}
	return url
}
