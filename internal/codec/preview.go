package codec

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os/exec"
	"strconv"
	"time"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// Previewer extracts single-frame JPEG thumbnails from video artifacts.
type Previewer struct {
	ffmpegPath string
	prober     *Prober
}

// NewPreviewer creates a previewer sharing the given prober.
func NewPreviewer(ffmpegPath string, prober *Prober) *Previewer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Previewer{ffmpegPath: ffmpegPath, prober: prober}
}

// JPEG returns the encoded bytes of one frame. With random set, the frame
// is picked uniformly inside the video duration; otherwise the first frame
// is used.
func (p *Previewer) JPEG(ctx context.Context, path string, random bool) ([]byte, error) {
	offset := time.Duration(0)
	if random {
		info, err := p.prober.Probe(ctx, path)
		if err != nil {
			return nil, err
		}
		if info.Duration > 0 {
			offset = time.Duration(rand.Int64N(int64(info.Duration)))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-v", "error",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, models.Externalf("preview extraction: %v; %s", err, errTail(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, models.Externalf("preview extraction produced no frame")
	}
	return stdout.Bytes(), nil
}
