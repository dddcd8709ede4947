package camera

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kbinani/screenshot"
)

// screenPrefix namespaces display pseudo-cameras so they cannot collide with
// webcam device ids.
const screenPrefix = "screen:"

// ScreenProvider exposes attached displays as capture devices ("screen:0",
// "screen:1", ...). It lets a machine without a webcam still record
// timelapses of what is on screen.
type ScreenProvider struct {
	mu sync.Mutex
}

// NewScreenProvider creates a display capture provider.
func NewScreenProvider() *ScreenProvider {
	return &ScreenProvider{}
}

// Enumerate lists one pseudo-device per active display.
func (p *ScreenProvider) Enumerate() ([]string, error) {
	n := screenshot.NumActiveDisplays()
	devices := make([]string, 0, n)
	for i := 0; i < n; i++ {
		devices = append(devices, fmt.Sprintf("%s%d", screenPrefix, i))
	}
	return devices, nil
}

// displayIndex resolves a pseudo-device id to a display index.
func (p *ScreenProvider) displayIndex(device string) (int, error) {
	if !strings.HasPrefix(device, screenPrefix) {
		return 0, ErrDeviceNotFound
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(device, screenPrefix))
	if err != nil || idx < 0 || idx >= screenshot.NumActiveDisplays() {
		return 0, fmt.Errorf("%w: %s", ErrDeviceNotFound, device)
	}
	return idx, nil
}

// Capture grabs the display contents, scales to the requested resolution, and
// encodes a JPEG frame.
func (p *ScreenProvider) Capture(ctx context.Context, device string, settings Settings) ([]byte, error) {
	idx, err := p.displayIndex(device)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// One display grab at a time; concurrent CGO capture calls are not safe
	// on all platforms.
	p.mu.Lock()
	img, err := screenshot.CaptureDisplay(idx)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to capture display %d: %w", idx, err)
	}

	return EncodeJPEG(img, settings.Coerce())
}

// ApplySettings accepts any in-range settings; displays have no hardware
// controls to reject them.
func (p *ScreenProvider) ApplySettings(ctx context.Context, device string, settings Settings) (Settings, error) {
	if _, err := p.displayIndex(device); err != nil {
		return Settings{}, err
	}
	if settings.Contrast <= 0 {
		return Settings{}, fmt.Errorf("%w: contrast must be positive", ErrSettingsRejected)
	}
	return settings.Coerce(), nil
}
