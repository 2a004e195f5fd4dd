// Package codec wraps the ffmpeg and ffprobe binaries for the few video
// operations the drivers need: probing a file, streaming raw frames in and
// out of Go, and extracting a JPEG preview.
package codec

import (
	"context"
	"encoding/json"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// VideoInfo is the subset of probe output the frame loops need.
type VideoInfo struct {
	Width       int
	Height      int
	FPS         float64
	TotalFrames int
	Duration    time.Duration
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NumFrames    string `json:"nb_frames"`
}

// Prober runs ffprobe against local video artifacts.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober. An empty path falls back to "ffprobe" on PATH.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, timeout: 30 * time.Second}
}

// Probe returns the video geometry of the first video stream in path.
// When nb_frames is absent from the container, the count is derived from
// duration and framerate.
func (p *Prober) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, models.Externalf("ffprobe %s: %v", path, err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, models.Externalf("parsing ffprobe output: %v", err)
	}

	var video *probeStream
	for i := range result.Streams {
		if result.Streams[i].CodecType == "video" {
			video = &result.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, models.Externalf("%s has no video stream", path)
	}

	info := &VideoInfo{Width: video.Width, Height: video.Height}
	info.FPS = parseFramerate(video.AvgFrameRate)
	if info.FPS == 0 {
		info.FPS = parseFramerate(video.RFrameRate)
	}
	if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}
	if n, err := strconv.Atoi(video.NumFrames); err == nil && n > 0 {
		info.TotalFrames = n
	} else if info.FPS > 0 && info.Duration > 0 {
		info.TotalFrames = int(math.Round(info.Duration.Seconds() * info.FPS))
	}

	if info.Width <= 0 || info.Height <= 0 {
		return nil, models.Externalf("%s reports no frame geometry", path)
	}
	return info, nil
}

// parseFramerate parses a framerate fraction such as "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	if fr == "" {
		return 0
	}
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		f, err := strconv.ParseFloat(fr, 64)
		if err != nil {
			return 0
		}
		return f
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// errTail keeps the last few lines of ffmpeg stderr for error reporting.
func errTail(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, "; ")
}
