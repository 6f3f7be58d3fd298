package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"mixfm/logger"
)

// ErrProbeFailed means ffprobe could not read the file. Duration is
// advisory, so callers usually log and continue without it.
var ErrProbeFailed = errors.New("audio: probe failed")

// Extractor wraps ffprobe/ffmpeg for metadata inspection: duration probing
// and embedded cover art extraction.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewExtractor creates an Extractor using the given binary paths.
func NewExtractor(ffmpegPath, ffprobePath string) *Extractor {
	return &Extractor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// ffprobeFormat is the format section of ffprobe JSON output.
type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the duration of an audio file in seconds.
func (e *Extractor) ProbeDuration(ctx context.Context, inputFile string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: ffprobe failed for %s: %v\nFFprobe Error: %s", ErrProbeFailed, inputFile, err, stderr.String())
	}

	var probeData ffprobeFormat
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("%w: failed to unmarshal ffprobe output for %s: %v", ErrProbeFailed, inputFile, err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("%w: duration not found in ffprobe output for %s", ErrProbeFailed, inputFile)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to parse duration %q for %s: %v", ErrProbeFailed, probeData.Format.Duration, inputFile, err)
	}
	return duration, nil
}

// hasAttachedPicture checks whether the file carries an embedded picture
// stream.
func (e *Extractor) hasAttachedPicture(ctx context.Context, inputFile string) (bool, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream_disposition=attached_pic",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("%w: ffprobe failed for %s: %v\nFFprobe Error: %s", ErrProbeFailed, inputFile, err, stderr.String())
	}

	var probeData struct {
		Streams []struct {
			Disposition struct {
				AttachedPic int `json:"attached_pic"`
			} `json:"disposition"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return false, fmt.Errorf("%w: failed to unmarshal ffprobe output: %v", ErrProbeFailed, err)
	}

	for _, s := range probeData.Streams {
		if s.Disposition.AttachedPic == 1 {
			return true, nil
		}
	}
	return false, nil
}

// ExtractCoverArt pulls an embedded picture stream into outputFile as JPEG.
// Returns false (and no error) when the file has no embedded art.
func (e *Extractor) ExtractCoverArt(ctx context.Context, inputFile, outputFile string) (bool, error) {
	has, err := e.hasAttachedPicture(ctx, inputFile)
	if err != nil || !has {
		return false, err
	}

	args := []string{
		"-y",
		"-i", inputFile,
		"-map", "0:v:0",
		"-frames:v", "1",
		"-c:v", "mjpeg",
		outputFile,
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outputFile)
		return false, fmt.Errorf("failed to extract cover art from %s: %v\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}

	logger.Debug("extracted embedded cover art",
		logger.String("input", inputFile),
		logger.String("output", outputFile))
	return true, nil
}
