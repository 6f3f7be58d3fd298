package audio

import (
	"errors"
	"strings"
	"testing"

	"mixfm/model"
)

func findArg(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func countArg(args []string, flag string) int {
	n := 0
	for _, a := range args {
		if a == flag {
			n++
		}
	}
	return n
}

func TestBuildArgsPlainPassThrough(t *testing.T) {
	c := NewCompositor("ffmpeg")
	args, err := c.buildArgs(ComposeParams{
		PrimaryPath: "/tmp/in.mp3",
		OutputPath:  "/tmp/out.mp3",
		Bitrate:     "192k",
	})
	if err != nil {
		t.Fatal(err)
	}

	if countArg(args, "-i") != 1 {
		t.Fatalf("expected a single input, args: %v", args)
	}
	graph, ok := findArg(args, "-filter_complex")
	if !ok {
		t.Fatal("missing filter graph")
	}
	if strings.Contains(graph, "concat") {
		t.Fatalf("no jingles should mean no concat: %s", graph)
	}
	if bitrate, _ := findArg(args, "-b:a"); bitrate != "192k" {
		t.Fatalf("bitrate not applied: %v", args)
	}
	if args[len(args)-1] != "/tmp/out.mp3" {
		t.Fatal("output path must be the final argument")
	}
}

func TestBuildArgsStartJingle(t *testing.T) {
	c := NewCompositor("ffmpeg")
	args, err := c.buildArgs(ComposeParams{
		PrimaryPath: "/tmp/in.mp3",
		Jingles:     []JingleInput{{Path: "/tmp/j.mp3", Position: model.PositionStart, Volume: 1.0}},
		OutputPath:  "/tmp/out.mp3",
		Bitrate:     "192k",
	})
	if err != nil {
		t.Fatal(err)
	}

	graph, _ := findArg(args, "-filter_complex")
	if !strings.Contains(graph, "concat=n=2:v=0:a=1") {
		t.Fatalf("expected 2-segment concat: %s", graph)
	}
	// Jingle first, then the primary track.
	if !strings.Contains(graph, "[j0][pmain]concat") {
		t.Fatalf("start jingle must precede the primary: %s", graph)
	}
	// Volume 1.0 is a no-op and must not emit a volume filter.
	if strings.Contains(graph, "volume=") {
		t.Fatalf("unit volume must not add a filter: %s", graph)
	}
}

func TestBuildArgsVolumeFilter(t *testing.T) {
	c := NewCompositor("ffmpeg")
	args, err := c.buildArgs(ComposeParams{
		PrimaryPath: "/tmp/in.mp3",
		Jingles:     []JingleInput{{Path: "/tmp/j.mp3", Position: model.PositionEnd, Volume: 0.5}},
		OutputPath:  "/tmp/out.mp3",
		Bitrate:     "192k",
	})
	if err != nil {
		t.Fatal(err)
	}

	graph, _ := findArg(args, "-filter_complex")
	if !strings.Contains(graph, "volume=0.5000") {
		t.Fatalf("expected volume filter: %s", graph)
	}
	if !strings.Contains(graph, "[pmain][j0]concat") {
		t.Fatalf("end jingle must follow the primary: %s", graph)
	}
}

func TestBuildArgsMiddleSplitsPrimary(t *testing.T) {
	c := NewCompositor("ffmpeg")
	args, err := c.buildArgs(ComposeParams{
		PrimaryPath:     "/tmp/in.mp3",
		PrimaryDuration: 180,
		Jingles:         []JingleInput{{Path: "/tmp/j.mp3", Position: model.PositionMiddle, Volume: 1.0}},
		OutputPath:      "/tmp/out.mp3",
		Bitrate:         "192k",
	})
	if err != nil {
		t.Fatal(err)
	}

	graph, _ := findArg(args, "-filter_complex")
	if !strings.Contains(graph, "atrim=0:90.000") || !strings.Contains(graph, "atrim=90.000") {
		t.Fatalf("expected a split at the midpoint: %s", graph)
	}
	if !strings.Contains(graph, "[phead][j0][ptail]concat=n=3") {
		t.Fatalf("expected head, jingle, tail order: %s", graph)
	}
}

func TestBuildArgsMiddleWithoutDuration(t *testing.T) {
	c := NewCompositor("ffmpeg")
	_, err := c.buildArgs(ComposeParams{
		PrimaryPath: "/tmp/in.mp3",
		Jingles:     []JingleInput{{Path: "/tmp/j.mp3", Position: model.PositionMiddle, Volume: 1.0}},
		OutputPath:  "/tmp/out.mp3",
		Bitrate:     "192k",
	})
	if !errors.Is(err, ErrPositionRequiresDuration) {
		t.Fatalf("expected ErrPositionRequiresDuration, got %v", err)
	}
}

func TestBuildArgsStartEndDecodesOnce(t *testing.T) {
	c := NewCompositor("ffmpeg")
	args, err := c.buildArgs(ComposeParams{
		PrimaryPath: "/tmp/in.mp3",
		Jingles:     []JingleInput{{Path: "/tmp/j.mp3", Position: model.PositionStartEnd, Volume: 1.0}},
		OutputPath:  "/tmp/out.mp3",
		Bitrate:     "192k",
	})
	if err != nil {
		t.Fatal(err)
	}

	if countArg(args, "-i") != 2 {
		t.Fatalf("start-end jingle must be a single input: %v", args)
	}
	graph, _ := findArg(args, "-filter_complex")
	if !strings.Contains(graph, "asplit=2[j0][j0b]") {
		t.Fatalf("expected the jingle stream to be split: %s", graph)
	}
	if !strings.Contains(graph, "[j0][pmain][j0b]concat=n=3") {
		t.Fatalf("expected jingle at both ends: %s", graph)
	}
}

func TestBuildArgsPreviewTruncatesCompositedStream(t *testing.T) {
	c := NewCompositor("ffmpeg")
	args, err := c.buildArgs(ComposeParams{
		PrimaryPath:     "/tmp/in.mp3",
		Jingles:         []JingleInput{{Path: "/tmp/j.mp3", Position: model.PositionStart, Volume: 1.0}},
		PreviewOnly:     true,
		PreviewDuration: 30,
		OutputPath:      "/tmp/out.mp3",
		Bitrate:         "128k",
	})
	if err != nil {
		t.Fatal(err)
	}

	graph, _ := findArg(args, "-filter_complex")
	if !strings.Contains(graph, "[mix]atrim=0:30.000") {
		t.Fatalf("preview must trim the composited stream, not the inputs: %s", graph)
	}
	if mapped, _ := findArg(args, "-map"); mapped != "[out]" {
		t.Fatalf("preview output must map the trimmed stream: %v", args)
	}
}

func TestBuildArgsCoverArtMux(t *testing.T) {
	c := NewCompositor("ffmpeg")
	args, err := c.buildArgs(ComposeParams{
		PrimaryPath:  "/tmp/in.mp3",
		CoverArtPath: "/tmp/cover.jpg",
		OutputPath:   "/tmp/out.mp3",
		Bitrate:      "192k",
	})
	if err != nil {
		t.Fatal(err)
	}

	if countArg(args, "-i") != 2 {
		t.Fatalf("cover art must be an additional input: %v", args)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-disposition:v:0 attached_pic") {
		t.Fatalf("cover must be muxed as attached_pic: %s", joined)
	}
	if !strings.Contains(joined, "-map 1:v") {
		t.Fatalf("cover stream must be mapped from its input index: %s", joined)
	}
}
