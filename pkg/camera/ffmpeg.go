package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// captureTimeout bounds a single frame grab so a wedged device cannot stall
// the capture loop.
const captureTimeout = 15 * time.Second

// FFmpegProvider grabs single frames from webcams by invoking ffmpeg with the
// platform's capture input (v4l2, avfoundation, or dshow).
type FFmpegProvider struct {
	ffmpegPath string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFFmpegProvider creates a webcam provider. An empty ffmpegPath uses the
// ffmpeg binary from PATH.
func NewFFmpegProvider(ffmpegPath string) *FFmpegProvider {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProvider{
		ffmpegPath: ffmpegPath,
		locks:      make(map[string]*sync.Mutex),
	}
}

// deviceLock returns the mutex serializing access to one physical device.
func (p *FFmpegProvider) deviceLock(device string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[device]
	if !ok {
		l = &sync.Mutex{}
		p.locks[device] = l
	}
	return l
}

// Enumerate lists webcam devices for the current platform. When detection
// finds nothing, the platform default id is still offered so a capture can be
// attempted.
func (p *FFmpegProvider) Enumerate() ([]string, error) {
	var devices []string

	switch runtime.GOOS {
	case "linux":
		for i := 0; i < 10; i++ {
			path := fmt.Sprintf("/dev/video%d", i)
			if _, err := os.Stat(path); err == nil {
				devices = append(devices, path)
			}
		}
	case "darwin":
		devices = p.parseDeviceList([]string{"-f", "avfoundation", "-list_devices", "true", "-i", ""}, "AVFoundation video devices")
	case "windows":
		devices = p.parseDeviceList([]string{"-list_devices", "true", "-f", "dshow", "-i", "dummy"}, "DirectShow video devices")
	}

	if len(devices) == 0 {
		if runtime.GOOS == "linux" {
			devices = []string{"/dev/video0"}
		} else {
			devices = []string{"0"}
		}
	}
	return devices, nil
}

// parseDeviceList runs ffmpeg's device listing (which reports on stderr) and
// extracts the quoted video device names under the given section header.
func (p *FFmpegProvider) parseDeviceList(args []string, videoSection string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// ffmpeg exits non-zero for -list_devices; the listing is still on stderr.
	_ = cmd.Run()

	return p.extractDeviceNames(stderr.String(), videoSection)
}

// extractDeviceNames pulls the quoted device names out of the video section
// of an ffmpeg device listing.
func (p *FFmpegProvider) extractDeviceNames(listing, videoSection string) []string {
	var devices []string
	inVideo := false
	for _, line := range strings.Split(listing, "\n") {
		if strings.Contains(line, videoSection) {
			inVideo = true
			continue
		}
		if inVideo && strings.Contains(line, "audio devices") {
			break
		}
		if !inVideo || strings.Contains(line, "Alternative name") {
			continue
		}
		if start := strings.Index(line, "\""); start >= 0 {
			rest := line[start+1:]
			if end := strings.Index(rest, "\""); end > 0 {
				devices = append(devices, rest[:end])
			}
		}
	}
	return devices
}

// Capture grabs one JPEG frame from the device at the requested resolution,
// then applies the software brightness/contrast pass.
func (p *FFmpegProvider) Capture(ctx context.Context, device string, settings Settings) ([]byte, error) {
	settings = settings.Coerce()

	if err := p.checkDevice(device); err != nil {
		return nil, err
	}

	lock := p.deviceLock(device)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	args := p.captureArgs(device, settings)
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := firstErrorLine(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg capture from %s failed: %s", device, msg)
		}
		return nil, fmt.Errorf("ffmpeg capture from %s failed: %w", device, err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg capture from %s produced no frame", device)
	}

	if settings.IsNeutral() {
		return stdout.Bytes(), nil
	}
	return Adjust(stdout.Bytes(), settings)
}

// captureArgs builds the one-frame grab command for the current platform.
func (p *FFmpegProvider) captureArgs(device string, settings Settings) []string {
	input := device
	var inputFormat string
	switch runtime.GOOS {
	case "darwin":
		inputFormat = "avfoundation"
	case "windows":
		inputFormat = "dshow"
		input = "video=" + device
	default:
		inputFormat = "v4l2"
	}

	return []string{
		"-f", inputFormat,
		"-video_size", settings.Resolution,
		"-i", input,
		"-frames:v", "1",
		"-c:v", "mjpeg",
		"-f", "image2pipe",
		"-y",
		"pipe:1",
	}
}

// ApplySettings validates the settings against the device, returning the
// coerced values the device will use.
func (p *FFmpegProvider) ApplySettings(ctx context.Context, device string, settings Settings) (Settings, error) {
	if err := p.checkDevice(device); err != nil {
		return Settings{}, err
	}
	if settings.Contrast <= 0 {
		return Settings{}, fmt.Errorf("%w: contrast must be positive", ErrSettingsRejected)
	}
	return settings.Coerce(), nil
}

// checkDevice distinguishes a missing device from other failures. Only Linux
// device nodes can be checked cheaply; elsewhere the capture attempt itself
// reports the failure.
func (p *FFmpegProvider) checkDevice(device string) error {
	if device == "" {
		return ErrDeviceNotFound
	}
	if strings.HasPrefix(device, "screen:") {
		return ErrDeviceNotFound
	}
	if runtime.GOOS == "linux" && strings.HasPrefix(device, "/dev/") {
		if _, err := os.Stat(device); err != nil {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
		}
	}
	return nil
}

func firstErrorLine(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line
		}
	}
	return ""
}
