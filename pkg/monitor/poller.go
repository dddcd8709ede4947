// Package monitor polls the external system's status endpoint and turns its
// responses into capture signals.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sample is one observation of the external system. Known is false when the
// endpoint was unreachable or unparsable; callers must treat an unknown
// sample as "no change", never as "stopped".
type Sample struct {
	Running  bool      `json:"running"`
	Activity string    `json:"activity"`
	Ignored  bool      `json:"ignored"`
	Known    bool      `json:"known"`
	At       time.Time `json:"at"`
}

// Config selects the endpoint and the JSON property names carrying the
// running flag and the current activity identifier.
type Config struct {
	URL              string
	StatusProperty   string
	ActivityProperty string
	Interval         time.Duration
	Timeout          time.Duration
}

// Poller periodically samples the status endpoint. Each tick it re-reads the
// ignore patterns from its source, so pattern edits take effect within one
// poll tick.
type Poller struct {
	cfg      Config
	client   *http.Client
	patterns func() []string

	mu   sync.RWMutex
	last Sample
}

// NewPoller creates a poller. patterns supplies the current ignored-pattern
// set on every tick; it must be safe for concurrent use.
func NewPoller(cfg Config, patterns func() []string) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 || cfg.Timeout > cfg.Interval {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Timeout > 5*time.Second {
		cfg.Timeout = 5 * time.Second
	}
	if patterns == nil {
		patterns = func() []string { return nil }
	}
	return &Poller{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		patterns: patterns,
	}
}

// Run polls until the context is cancelled, delivering every sample to the
// handler. Poll failures produce unknown samples and never stop the loop.
func (p *Poller) Run(ctx context.Context, handler func(Sample)) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := p.Poll(ctx)
			if handler != nil {
				handler(sample)
			}
		}
	}
}

// Poll performs a single status request and evaluates the ignore patterns
// against the reported activity.
func (p *Poller) Poll(ctx context.Context) Sample {
	sample := Sample{At: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		log.Printf("monitor: invalid status request: %v", err)
		return p.record(sample)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("monitor: status poll failed: %v", err)
		return p.record(sample)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("monitor: status poll returned HTTP %d", resp.StatusCode)
		return p.record(sample)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("monitor: failed to decode status body: %v", err)
		return p.record(sample)
	}

	sample.Known = true
	sample.Running = coerceBool(body[p.cfg.StatusProperty])
	sample.Activity = coerceString(body[p.cfg.ActivityProperty])
	sample.Ignored = NewPatternSet(p.patterns()).Matches(sample.Activity)
	return p.record(sample)
}

// record stores the sample for status reads. The activity of the last known
// sample is kept visible across unknown ones so the UI does not flicker on
// transient poll failures.
func (p *Poller) record(sample Sample) Sample {
	p.mu.Lock()
	if !sample.Known {
		sample.Activity = p.last.Activity
		sample.Ignored = p.last.Ignored
	}
	p.last = sample
	p.mu.Unlock()
	return sample
}

// LastSample returns the most recent sample, for status reporting.
func (p *Poller) LastSample() Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true") || t == "1"
	case float64:
		return t != 0
	default:
		return false
	}
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
