// Package capture drives the auto/manual recording engine: it decides per
// tick whether to grab a frame and which session receives it.
package capture

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"timelapser/pkg/camera"
	"timelapser/pkg/monitor"
	"timelapser/pkg/storage"
)

// State is the engine's recording state.
type State int

const (
	// StateIdle means no capture is running and none is armed.
	StateIdle State = iota
	// StateManualCapturing means an explicitly started capture is writing frames.
	StateManualCapturing
	// StateAutoArmed means auto mode is on and the engine is waiting for the
	// external signal to report a running, unignored activity.
	StateAutoArmed
	// StateAutoCapturing means the external signal started a capture.
	StateAutoCapturing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateManualCapturing:
		return "manual_capturing"
	case StateAutoArmed:
		return "auto_armed"
	case StateAutoCapturing:
		return "auto_capturing"
	default:
		return "unknown"
	}
}

// capturing reports whether frames are being written in this state.
func (s State) capturing() bool {
	return s == StateManualCapturing || s == StateAutoCapturing
}

// ErrNotCapturing is returned by Stop when no capture is in progress.
var ErrNotCapturing = errors.New("no capture in progress")

// StartOptions overrides pieces of the persisted application state when a
// capture is started. Nil/zero fields keep the current values.
type StartOptions struct {
	Camera   string
	Interval int
	AutoMode *bool
}

// Status is a point-in-time snapshot of the engine for status reporting.
type Status struct {
	State           State  `json:"-"`
	StateName       string `json:"state"`
	IsCapturing     bool   `json:"is_capturing"`
	SessionID       string `json:"current_session,omitempty"`
	ActivityFile    string `json:"activity_file,omitempty"`
	CaptureFailures int64  `json:"capture_failures"`
}

// Engine owns the capture state machine. The poller feeds it samples, its own
// tick loop grabs frames, and the HTTP layer issues start/stop commands; all
// three paths converge on the engine mutex.
type Engine struct {
	store   *storage.Store
	cameras camera.Provider

	mu      sync.Mutex
	state   State
	session *storage.Session

	// lastActivity is the activity identifier of the most recent running
	// sample, kept for session labeling and status reporting.
	lastActivity string

	captureFailures atomic.Int64
}

// NewEngine creates a capture engine over the given store and camera provider.
func NewEngine(store *storage.Store, cameras camera.Provider) *Engine {
	return &Engine{
		store:   store,
		cameras: cameras,
		state:   StateIdle,
	}
}

// Run drives the tick loop until the context is cancelled. The tick period is
// re-read from application state on every tick, so interval changes take
// effect on the next tick rather than retroactively.
func (e *Engine) Run(ctx context.Context) {
	timer := time.NewTimer(e.tickPeriod())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.tick(ctx)
			timer.Reset(e.tickPeriod())
		}
	}
}

// tickPeriod returns the normalized capture interval as a duration.
func (e *Engine) tickPeriod() time.Duration {
	state, err := e.store.State()
	if err != nil {
		log.Printf("capture: failed to read app state: %v", err)
		return 5 * time.Second
	}
	return time.Duration(NormalizeInterval(state.Interval)) * time.Second
}

// Start begins capture. With auto mode requested the engine arms and waits
// for the external signal; otherwise a session is created immediately. An
// existing active session for the engine's current activity is adopted
// instead of failing, so one activity run is not fragmented across sessions.
func (e *Engine) Start(opts StartOptions) (*storage.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	patch := storage.StatePatch{}
	if opts.Camera != "" {
		patch.Camera = &opts.Camera
	}
	if opts.Interval > 0 {
		normalized := NormalizeInterval(opts.Interval)
		patch.Interval = &normalized
	}
	if opts.AutoMode != nil {
		patch.AutoMode = opts.AutoMode
	}
	appState, err := e.store.UpdateState(patch)
	if err != nil {
		return nil, err
	}

	if appState.AutoMode {
		if !e.state.capturing() {
			e.state = StateAutoArmed
		}
		return e.sessionCopy(), nil
	}

	if e.state.capturing() {
		return nil, storage.ErrActiveSessionExists
	}

	session, err := e.acquireSession(e.lastActivity, appState, false)
	if err != nil {
		return nil, err
	}
	e.session = session
	e.state = StateManualCapturing
	log.Printf("capture: started manual session %s (camera %s, interval %ds)",
		session.ID, session.Camera, session.Interval)
	return e.sessionCopy(), nil
}

// Stop ends any capture in progress. The current session, if any, transitions
// to completed; the engine returns to idle.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.capturing() && e.state != StateAutoArmed {
		return ErrNotCapturing
	}
	e.completeCurrentLocked("stop requested")
	e.state = StateIdle
	return nil
}

// HandleSample applies one poller observation to the state machine. Unknown
// samples never close a session: they are treated as "no change".
func (e *Engine) HandleSample(sample monitor.Sample) {
	if !sample.Known {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if sample.Running {
		e.lastActivity = sample.Activity
	} else {
		e.lastActivity = ""
	}

	appState, err := e.store.State()
	if err != nil {
		log.Printf("capture: failed to read app state: %v", err)
		return
	}

	if !appState.AutoMode {
		// Auto mode was switched off while armed or auto-capturing.
		if e.state == StateAutoCapturing {
			e.completeCurrentLocked("auto mode disabled")
		}
		if e.state == StateAutoArmed || e.state == StateAutoCapturing {
			e.state = StateIdle
		}
		return
	}

	// Auto mode supersedes a manual run: the manual session completes and the
	// engine arms for the external signal.
	if e.state == StateManualCapturing {
		e.completeCurrentLocked("auto mode enabled")
	}
	if e.state == StateIdle || e.state == StateManualCapturing {
		e.state = StateAutoArmed
	}

	switch {
	case sample.Running && !sample.Ignored:
		if e.state == StateAutoCapturing {
			if e.session != nil && e.session.ActivityFile != sample.Activity {
				// New activity started while capturing: close out the old
				// session and begin a fresh one on the same tick.
				e.completeCurrentLocked("activity changed")
				e.startAutoLocked(sample.Activity, appState)
			}
			return
		}
		e.startAutoLocked(sample.Activity, appState)

	case sample.Running && sample.Ignored:
		if e.state == StateAutoCapturing {
			log.Printf("capture: activity %q matches an ignored pattern, stopping", sample.Activity)
			e.completeCurrentLocked("activity ignored")
			e.state = StateAutoArmed
		}

	default: // not running
		if e.state == StateAutoCapturing {
			e.completeCurrentLocked("activity stopped")
			e.state = StateAutoArmed
		}
	}
}

// startAutoLocked creates or resumes the session for an unignored running
// activity and moves to auto-capturing. Creation failures leave the engine
// armed for the next sample.
func (e *Engine) startAutoLocked(activity string, appState storage.AppState) {
	session, err := e.acquireSession(activity, appState, true)
	if err != nil {
		log.Printf("capture: failed to start session for %q: %v", activity, err)
		e.state = StateAutoArmed
		return
	}
	e.session = session
	e.state = StateAutoCapturing
	log.Printf("capture: auto-started session %s for activity %q", session.ID, activity)
}

// acquireSession resumes the store's active session when it matches the
// activity, otherwise creates a new one.
func (e *Engine) acquireSession(activity string, appState storage.AppState, autoMode bool) (*storage.Session, error) {
	active, err := e.store.ActiveSession()
	if err != nil {
		return nil, err
	}
	if active != nil {
		if active.ActivityFile == activity {
			return active, nil
		}
		return nil, storage.ErrActiveSessionExists
	}

	return e.store.CreateSession(storage.CreateSessionParams{
		ActivityFile: activity,
		Camera:       appState.Camera,
		Interval:     NormalizeInterval(appState.Interval),
		AutoMode:     autoMode,
	}, time.Now())
}

// completeCurrentLocked transitions the current session to completed. Must be
// called with the engine mutex held.
func (e *Engine) completeCurrentLocked(reason string) {
	if e.session == nil {
		return
	}
	if _, err := e.store.CompleteSession(e.session.ID, time.Now()); err != nil && !errors.Is(err, storage.ErrSessionCompleted) {
		log.Printf("capture: failed to complete session %s: %v", e.session.ID, err)
	} else {
		log.Printf("capture: completed session %s (%s)", e.session.ID, reason)
	}
	e.session = nil
}

// tick captures one frame into the current session when in a capturing state.
// A failed grab is logged and counted but never drops the session.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	if !e.state.capturing() || e.session == nil {
		e.mu.Unlock()
		return
	}
	sessionID := e.session.ID
	device := e.session.Camera
	e.mu.Unlock()

	appState, err := e.store.State()
	if err != nil {
		log.Printf("capture: failed to read app state: %v", err)
		return
	}
	if device == "" {
		device = appState.Camera
	}

	frame, err := e.cameras.Capture(ctx, device, appState.CameraSettings)
	if err != nil {
		e.captureFailures.Add(1)
		log.Printf("capture: frame grab from %q failed: %v", device, err)
		return
	}

	record, err := e.store.AppendFrame(sessionID, frame, time.Now())
	if err != nil {
		// The session may have completed between the snapshot and the append;
		// that frame is simply dropped.
		if errors.Is(err, storage.ErrSessionCompleted) {
			return
		}
		e.captureFailures.Add(1)
		log.Printf("capture: failed to append frame to %s: %v", sessionID, err)
		return
	}
	log.Printf("capture: frame %d -> %s", record.Index, record.Path)
}

// Status returns a snapshot for status reporting.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		State:           e.state,
		StateName:       e.state.String(),
		IsCapturing:     e.state.capturing(),
		CaptureFailures: e.captureFailures.Load(),
	}
	if e.session != nil {
		status.SessionID = e.session.ID
		status.ActivityFile = e.session.ActivityFile
	}
	return status
}

// CurrentState returns the engine state.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastActivity returns the activity identifier from the most recent running
// sample.
func (e *Engine) LastActivity() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivity
}

// sessionCopy returns a copy of the current session for callers outside the
// engine, or nil.
func (e *Engine) sessionCopy() *storage.Session {
	if e.session == nil {
		return nil
	}
	copied := *e.session
	return &copied
}
