package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"

	"github.com/recanalyzer/recanalyzer/internal/models"
)

// FrameReader streams decoded RGBA frames from a video file through an
// ffmpeg rawvideo pipe. Frames are delivered in presentation order.
type FrameReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	width  int
	height int
	buf    []byte
}

// NewFrameReader spawns the decoder. Close must be called on every exit
// path to reap the child process.
func NewFrameReader(ctx context.Context, ffmpegPath, path string, width, height int) (*FrameReader, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	)
	r := &FrameReader{cmd: cmd, width: width, height: height}
	cmd.Stderr = &r.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, models.Externalf("decoder pipe: %v", err)
	}
	r.stdout = stdout
	r.buf = make([]byte, width*height*4)

	if err := cmd.Start(); err != nil {
		return nil, models.Externalf("starting decoder: %v", err)
	}
	return r, nil
}

// Next returns the next frame, or io.EOF when the stream ends. The returned
// image is freshly allocated; callers may mutate it.
func (r *FrameReader) Next() (*image.RGBA, error) {
	if _, err := io.ReadFull(r.stdout, r.buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, models.Externalf("reading frame: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	copy(img.Pix, r.buf)
	return img, nil
}

// Close reaps the decoder. Safe to call after a partial read.
func (r *FrameReader) Close() error {
	r.stdout.Close()
	if err := r.cmd.Wait(); err != nil {
		// A non-zero exit after an intentional early close is expected;
		// surface stderr only when there is something to say.
		if tail := errTail(r.stderr.Bytes()); tail != "" {
			return models.Externalf("decoder exit: %s", tail)
		}
	}
	return nil
}

// FrameWriter encodes RGBA frames into an H.264 MP4 through an ffmpeg
// rawvideo pipe.
type FrameWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	width  int
	height int
	closed bool
}

// NewFrameWriter spawns the encoder for the given geometry and framerate.
func NewFrameWriter(ctx context.Context, ffmpegPath, path string, width, height int, fps float64) (*FrameWriter, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-v", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		path,
	)
	w := &FrameWriter{cmd: cmd, width: width, height: height}
	cmd.Stderr = &w.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, models.Externalf("encoder pipe: %v", err)
	}
	w.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, models.Externalf("starting encoder: %v", err)
	}
	return w, nil
}

// Write encodes one frame. The image bounds must match the writer geometry.
func (w *FrameWriter) Write(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return models.Externalf("frame is %dx%d, encoder expects %dx%d",
			b.Dx(), b.Dy(), w.width, w.height)
	}
	if _, err := w.stdin.Write(img.Pix); err != nil {
		return models.Externalf("writing frame: %v; %s", err, errTail(w.stderr.Bytes()))
	}
	return nil
}

// Close flushes the pipe and waits for the encoder to finalise the file.
func (w *FrameWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		return models.Externalf("encoder exit: %v; %s", err, errTail(w.stderr.Bytes()))
	}
	return nil
}
