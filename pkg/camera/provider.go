package camera

import (
	"context"
	"errors"
)

// Sentinel errors distinguishing "no such device" from "device refused the
// requested settings".
var (
	ErrDeviceNotFound   = errors.New("camera device not found")
	ErrSettingsRejected = errors.New("camera settings rejected")
)

// Provider is the capture boundary. Implementations must serialize access per
// physical device: concurrent Capture/ApplySettings calls against the same
// device id must not overlap on the hardware.
type Provider interface {
	// Enumerate lists the device identifiers this provider can capture from.
	Enumerate() ([]string, error)
	// Capture grabs a single JPEG-encoded frame from the device.
	Capture(ctx context.Context, device string, settings Settings) ([]byte, error)
	// ApplySettings validates and applies settings, returning what the device
	// actually accepted (resolution and ranges may be coerced).
	ApplySettings(ctx context.Context, device string, settings Settings) (Settings, error)
}

// Multi fans a Provider interface out over several providers, routing each
// call to the first provider that recognizes the device id.
type Multi struct {
	providers []Provider
}

// NewMulti combines providers. Enumeration order follows argument order.
func NewMulti(providers ...Provider) *Multi {
	return &Multi{providers: providers}
}

// Enumerate merges the device lists of all providers.
func (m *Multi) Enumerate() ([]string, error) {
	var all []string
	var lastErr error
	for _, p := range m.providers {
		devices, err := p.Enumerate()
		if err != nil {
			lastErr = err
			continue
		}
		all = append(all, devices...)
	}
	if all == nil && lastErr != nil {
		return nil, lastErr
	}
	return all, nil
}

// Capture routes to the first provider that owns the device.
func (m *Multi) Capture(ctx context.Context, device string, settings Settings) ([]byte, error) {
	for _, p := range m.providers {
		data, err := p.Capture(ctx, device, settings)
		if errors.Is(err, ErrDeviceNotFound) {
			continue
		}
		return data, err
	}
	return nil, ErrDeviceNotFound
}

// ApplySettings routes to the first provider that owns the device.
func (m *Multi) ApplySettings(ctx context.Context, device string, settings Settings) (Settings, error) {
	for _, p := range m.providers {
		applied, err := p.ApplySettings(ctx, device, settings)
		if errors.Is(err, ErrDeviceNotFound) {
			continue
		}
		return applied, err
	}
	return Settings{}, ErrDeviceNotFound
}
