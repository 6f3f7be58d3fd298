package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"mixfm/logger"
	"mixfm/model"
)

// ErrPositionRequiresDuration is returned when a middle insert is requested
// for a primary track whose duration probe failed. A silently-wrong split
// is never produced.
var ErrPositionRequiresDuration = errors.New("audio: middle position requires a probed primary duration")

// ErrComposition wraps any ffmpeg failure during composition. The stderr
// output is preserved in the message for logs; composition is never
// partially retried because intermediate state is not a resumable
// checkpoint.
var ErrComposition = errors.New("audio: composition failed")

// JingleInput is a staged jingle ready for insertion.
type JingleInput struct {
	Path     string
	Position model.JinglePosition
	Volume   float64 // validated to [0,1] by the caller; 1.0 is a no-op
}

// ComposeParams describes one composition pass.
type ComposeParams struct {
	PrimaryPath     string
	PrimaryDuration float64 // seconds; 0 means the probe failed
	Jingles         []JingleInput
	CoverArtPath    string // empty for audio-only output
	PreviewOnly     bool
	PreviewDuration float64 // seconds; applied to the composited stream
	OutputPath      string
	Bitrate         string // e.g. "192k"
}

// Compositor concatenates jingle clips around a primary track and muxes
// cover art, in a single ffmpeg pass over decoded samples so mixed source
// codecs and bitrates concatenate cleanly.
type Compositor struct {
	ffmpegPath string
}

// NewCompositor creates a Compositor using the given ffmpeg binary.
func NewCompositor(ffmpegPath string) *Compositor {
	return &Compositor{ffmpegPath: ffmpegPath}
}

// normalize resamples an input to a common format so concat operates on
// uniform decoded PCM, with an optional volume scalar on jingles.
const sampleFormat = "aformat=sample_rates=44100:channel_layouts=stereo"

// Compose runs the composition and writes OutputPath. On failure the
// partial output is removed and the ffmpeg stderr is preserved inside the
// returned error.
func (c *Compositor) Compose(ctx context.Context, p ComposeParams) error {
	args, err := c.buildArgs(p)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("executing ffmpeg composition",
		logger.String("path", c.ffmpegPath),
		logger.String("args", strings.Join(args, " ")))

	if err := cmd.Run(); err != nil {
		os.Remove(p.OutputPath)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrComposition, ctx.Err())
		}
		return fmt.Errorf("%w: %v\nFFmpeg Error: %s", ErrComposition, err, stderr.String())
	}

	if info, err := os.Stat(p.OutputPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: output file missing or empty", ErrComposition)
	}

	logger.Info("composition complete",
		logger.String("output", p.OutputPath),
		logger.Int("jingles", len(p.Jingles)),
		logger.Bool("preview", p.PreviewOnly),
		logger.Bool("coverArt", p.CoverArtPath != ""))
	return nil
}

// buildArgs turns ComposeParams into a complete ffmpeg argument list.
func (c *Compositor) buildArgs(p ComposeParams) ([]string, error) {
	var starts, middles, ends []int // indices into p.Jingles
	for i, j := range p.Jingles {
		switch j.Position {
		case model.PositionStart:
			starts = append(starts, i)
		case model.PositionMiddle:
			middles = append(middles, i)
		case model.PositionEnd:
			ends = append(ends, i)
		case model.PositionStartEnd:
			starts = append(starts, i)
			ends = append(ends, i)
		default:
			return nil, fmt.Errorf("%w: unknown position %q", ErrComposition, j.Position)
		}
	}
	if len(middles) > 0 && p.PrimaryDuration <= 0 {
		return nil, ErrPositionRequiresDuration
	}

	args := []string{"-y", "-threads", "0", "-i", p.PrimaryPath}
	for _, j := range p.Jingles {
		args = append(args, "-i", j.Path)
	}
	coverIndex := -1
	if p.CoverArtPath != "" {
		coverIndex = 1 + len(p.Jingles)
		args = append(args, "-i", p.CoverArtPath)
	}

	var graph []string

	// One normalized label per jingle input. A start-end jingle is decoded
	// once and split so the same samples appear at both positions.
	jingleLabel := make(map[int]string, len(p.Jingles))
	splitTail := make(map[int]string, len(p.Jingles))
	for i, j := range p.Jingles {
		filter := sampleFormat
		if j.Volume != 1.0 {
			filter = fmt.Sprintf("%s,volume=%.4f", sampleFormat, j.Volume)
		}
		label := fmt.Sprintf("j%d", i)
		if j.Position == model.PositionStartEnd {
			graph = append(graph, fmt.Sprintf("[%d:a]%s,asplit=2[%s][%sb]", i+1, filter, label, label))
			splitTail[i] = label + "b"
		} else {
			graph = append(graph, fmt.Sprintf("[%d:a]%s[%s]", i+1, filter, label))
		}
		jingleLabel[i] = label
	}

	// Primary stream, split at the midpoint when a middle insert exists.
	var segments []string
	for _, i := range starts {
		segments = append(segments, jingleLabel[i])
	}
	if len(middles) > 0 {
		mid := p.PrimaryDuration / 2
		graph = append(graph,
			fmt.Sprintf("[0:a]%s,asplit=2[p0][p1]", sampleFormat),
			fmt.Sprintf("[p0]atrim=0:%.3f,asetpts=PTS-STARTPTS[phead]", mid),
			fmt.Sprintf("[p1]atrim=%.3f,asetpts=PTS-STARTPTS[ptail]", mid),
		)
		segments = append(segments, "phead")
		for _, i := range middles {
			segments = append(segments, jingleLabel[i])
		}
		segments = append(segments, "ptail")
	} else {
		graph = append(graph, fmt.Sprintf("[0:a]%s[pmain]", sampleFormat))
		segments = append(segments, "pmain")
	}
	for _, i := range ends {
		if tail, ok := splitTail[i]; ok {
			segments = append(segments, tail)
		} else {
			segments = append(segments, jingleLabel[i])
		}
	}

	mixLabel := "mix"
	if len(segments) == 1 {
		mixLabel = segments[0]
	} else {
		var in strings.Builder
		for _, s := range segments {
			fmt.Fprintf(&in, "[%s]", s)
		}
		graph = append(graph, fmt.Sprintf("%sconcat=n=%d:v=0:a=1[mix]", in.String(), len(segments)))
	}

	// Preview truncation happens on the composited stream, after insertion.
	outLabel := mixLabel
	if p.PreviewOnly && p.PreviewDuration > 0 {
		graph = append(graph, fmt.Sprintf("[%s]atrim=0:%.3f,asetpts=PTS-STARTPTS[out]", mixLabel, p.PreviewDuration))
		outLabel = "out"
	}

	args = append(args, "-filter_complex", strings.Join(graph, ";"))
	args = append(args, "-map", "["+outLabel+"]")

	if coverIndex >= 0 {
		args = append(args,
			"-map", fmt.Sprintf("%d:v", coverIndex),
			"-c:v", "mjpeg",
			"-disposition:v:0", "attached_pic",
			"-metadata:s:v:0", "title=Album cover",
			"-metadata:s:v:0", "comment=Cover (front)",
			"-id3v2_version", "3",
		)
	}

	args = append(args,
		"-c:a", "libmp3lame",
		"-b:a", p.Bitrate,
		"-f", "mp3",
		p.OutputPath,
	)
	return args, nil
}
