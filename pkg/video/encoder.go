package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// encodeTimeout guards against a wedged encoder process.
const encodeTimeout = 10 * time.Minute

// FFmpegEncoder shells out to ffmpeg with the concat demuxer. Killing the
// process through context cancellation interrupts an encode mid-run.
type FFmpegEncoder struct {
	ffmpegPath string
	timeout    time.Duration
}

// NewFFmpegEncoder creates an encoder. An empty ffmpegPath uses the ffmpeg
// binary from PATH.
func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, timeout: encodeTimeout}
}

// Encode writes the frames, in the given order, into an H.264 video at the
// output path. Progress is reported per encoded frame as parsed from
// ffmpeg's machine-readable progress stream.
func (e *FFmpegEncoder) Encode(ctx context.Context, frames []string, fps int, output string, progress func(frame int)) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	listPath, err := writeConcatList(filepath.Dir(output), frames)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-r", strconv.Itoa(fps),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-progress", "pipe:1",
		"-y",
		output,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// The -progress stream is key=value lines; frame= carries the counter.
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, "frame="); ok {
			if frame, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && progress != nil {
				progress(frame)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %s", stderrTail(stderr.String(), err))
	}
	return nil
}

// writeConcatList writes the ffmpeg concat demuxer file listing every frame
// by absolute path.
func writeConcatList(dir string, frames []string) (string, error) {
	f, err := os.CreateTemp(dir, "frames_list_*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create frame list: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, frame := range frames {
		// Single quotes in paths are escaped per the concat demuxer's rules.
		escaped := strings.ReplaceAll(frame, "'", `'\''`)
		if _, err := fmt.Fprintf(w, "file '%s'\n", escaped); err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("failed to write frame list: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write frame list: %w", err)
	}
	return f.Name(), nil
}

func stderrTail(stderr string, fallback error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) == 0 || lines[len(lines)-1] == "" {
		return fallback.Error()
	}
	return lines[len(lines)-1]
}
