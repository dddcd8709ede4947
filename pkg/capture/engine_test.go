package capture

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"timelapser/pkg/camera"
	"timelapser/pkg/monitor"
	"timelapser/pkg/storage"
)

// stubProvider is an in-memory camera that returns a canned frame.
type stubProvider struct {
	mu       sync.Mutex
	captures int
	fail     bool
}

func (p *stubProvider) Enumerate() ([]string, error) {
	return []string{"stub:0"}, nil
}

func (p *stubProvider) Capture(ctx context.Context, device string, settings camera.Settings) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("stub capture failure")
	}
	p.captures++
	return []byte("stub-jpeg"), nil
}

func (p *stubProvider) ApplySettings(ctx context.Context, device string, settings camera.Settings) (camera.Settings, error) {
	return settings.Coerce(), nil
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store, *stubProvider) {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewStore(dir, filepath.Join(dir, "timelapses"))
	if err := store.Initialize(); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	provider := &stubProvider{}
	return NewEngine(store, provider), store, provider
}

func sampleRunning(activity string) monitor.Sample {
	return monitor.Sample{Running: true, Activity: activity, Known: true, At: time.Now()}
}

func sampleStopped() monitor.Sample {
	return monitor.Sample{Known: true, At: time.Now()}
}

func enableAuto(t *testing.T, store *storage.Store) {
	t.Helper()
	auto := true
	if _, err := store.UpdateState(storage.StatePatch{AutoMode: &auto}); err != nil {
		t.Fatalf("Failed to enable auto mode: %v", err)
	}
}

func TestManualStartStop(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	session, err := engine.Start(StartOptions{Camera: "stub:0", Interval: 7})
	if err != nil {
		t.Fatalf("Failed to start capture: %v", err)
	}
	if session == nil {
		t.Fatal("Manual start should return the session")
	}
	if engine.CurrentState() != StateManualCapturing {
		t.Errorf("Expected manual capturing, got %s", engine.CurrentState())
	}
	if session.Interval != 5 {
		t.Errorf("Interval 7 should normalize to 5, got %d", session.Interval)
	}

	active, err := store.ActiveSession()
	if err != nil {
		t.Fatalf("Failed to read active session: %v", err)
	}
	if active == nil || active.ID != session.ID {
		t.Fatalf("Store active session mismatch: %+v", active)
	}

	// Starting again while capturing is a conflict.
	if _, err := engine.Start(StartOptions{}); !errors.Is(err, storage.ErrActiveSessionExists) {
		t.Errorf("Expected ErrActiveSessionExists, got %v", err)
	}

	if err := engine.Stop(); err != nil {
		t.Fatalf("Failed to stop capture: %v", err)
	}
	if engine.CurrentState() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", engine.CurrentState())
	}
	stopped, err := store.GetSession(session.ID)
	if err != nil {
		t.Fatalf("Failed to read session: %v", err)
	}
	if stopped.State != storage.SessionCompleted {
		t.Errorf("Stop should complete the session, got %s", stopped.State)
	}

	if err := engine.Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("Second stop should report ErrNotCapturing, got %v", err)
	}
}

func TestAutoStartArmsWithoutSession(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	auto := true
	session, err := engine.Start(StartOptions{AutoMode: &auto})
	if err != nil {
		t.Fatalf("Failed to arm auto capture: %v", err)
	}
	if session != nil {
		t.Errorf("Arming must not create a session, got %+v", session)
	}
	if engine.CurrentState() != StateAutoArmed {
		t.Errorf("Expected auto armed, got %s", engine.CurrentState())
	}

	active, err := store.ActiveSession()
	if err != nil {
		t.Fatalf("Failed to read active session: %v", err)
	}
	if active != nil {
		t.Errorf("No session should exist while armed, got %s", active.ID)
	}
}

func TestAutoFlow(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	enableAuto(t, store)

	// Idle + auto mode: the first sample arms and, when running, starts.
	engine.HandleSample(sampleRunning("shot_01.blend"))
	if engine.CurrentState() != StateAutoCapturing {
		t.Fatalf("Expected auto capturing, got %s", engine.CurrentState())
	}
	first, err := store.ActiveSession()
	if err != nil || first == nil {
		t.Fatalf("Expected an active session: %v", err)
	}
	if first.ActivityFile != "shot_01.blend" {
		t.Errorf("Session labeled with wrong activity: %q", first.ActivityFile)
	}

	// Same activity again: nothing changes.
	engine.HandleSample(sampleRunning("shot_01.blend"))
	stillFirst, _ := store.ActiveSession()
	if stillFirst == nil || stillFirst.ID != first.ID {
		t.Fatalf("Repeated sample must not rotate the session")
	}

	// Activity change: old session completes, a new one starts on the same sample.
	engine.HandleSample(sampleRunning("shot_02.blend"))
	if engine.CurrentState() != StateAutoCapturing {
		t.Fatalf("Expected auto capturing after activity change, got %s", engine.CurrentState())
	}
	second, _ := store.ActiveSession()
	if second == nil || second.ID == first.ID {
		t.Fatal("Activity change should start a fresh session")
	}
	if second.ActivityFile != "shot_02.blend" {
		t.Errorf("New session labeled with wrong activity: %q", second.ActivityFile)
	}
	oldSession, err := store.GetSession(first.ID)
	if err != nil {
		t.Fatalf("Failed to read old session: %v", err)
	}
	if oldSession.State != storage.SessionCompleted {
		t.Errorf("Old session should be completed, got %s", oldSession.State)
	}

	// Target stopped: session completes, engine stays armed.
	engine.HandleSample(sampleStopped())
	if engine.CurrentState() != StateAutoArmed {
		t.Errorf("Expected auto armed after stop, got %s", engine.CurrentState())
	}
	if active, _ := store.ActiveSession(); active != nil {
		t.Errorf("No session should remain active, got %s", active.ID)
	}

	// Running again: a new session starts.
	engine.HandleSample(sampleRunning("shot_03.blend"))
	if engine.CurrentState() != StateAutoCapturing {
		t.Errorf("Expected auto capturing, got %s", engine.CurrentState())
	}
}

func TestIgnoredActivityNeverCreatesSession(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	enableAuto(t, store)

	ignored := sampleRunning("scene_autosave.tmp")
	ignored.Ignored = true
	engine.HandleSample(ignored)

	if engine.CurrentState() != StateAutoArmed {
		t.Errorf("Ignored activity should leave the engine armed, got %s", engine.CurrentState())
	}
	if active, _ := store.ActiveSession(); active != nil {
		t.Errorf("Ignored activity must not create a session, got %s", active.ID)
	}
}

func TestIgnoredActivityStopsCapture(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	enableAuto(t, store)

	engine.HandleSample(sampleRunning("shot.blend"))
	if engine.CurrentState() != StateAutoCapturing {
		t.Fatalf("Expected auto capturing, got %s", engine.CurrentState())
	}

	// The running activity now matches an ignored pattern.
	ignored := sampleRunning("shot.blend")
	ignored.Ignored = true
	engine.HandleSample(ignored)

	if engine.CurrentState() != StateAutoArmed {
		t.Errorf("Expected auto armed, got %s", engine.CurrentState())
	}
	if active, _ := store.ActiveSession(); active != nil {
		t.Errorf("Session should be completed, got %s", active.ID)
	}
}

func TestUnknownSampleIsNoChange(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	enableAuto(t, store)

	engine.HandleSample(sampleRunning("shot.blend"))
	first, _ := store.ActiveSession()
	if first == nil {
		t.Fatal("Expected an active session")
	}

	// Poll failure: the sample is unknown and must not close the session.
	engine.HandleSample(monitor.Sample{Known: false, At: time.Now()})
	if engine.CurrentState() != StateAutoCapturing {
		t.Errorf("Unknown sample changed state to %s", engine.CurrentState())
	}
	active, _ := store.ActiveSession()
	if active == nil || active.ID != first.ID {
		t.Error("Unknown sample must not close the session")
	}
}

func TestAutoModeOffNeverStarts(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	engine.HandleSample(sampleRunning("shot.blend"))
	if engine.CurrentState() != StateIdle {
		t.Errorf("auto_mode off should stay idle, got %s", engine.CurrentState())
	}
	if active, _ := store.ActiveSession(); active != nil {
		t.Errorf("auto_mode off must not create sessions, got %s", active.ID)
	}
}

func TestDisablingAutoModeStopsCapture(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	enableAuto(t, store)

	engine.HandleSample(sampleRunning("shot.blend"))
	if engine.CurrentState() != StateAutoCapturing {
		t.Fatalf("Expected auto capturing, got %s", engine.CurrentState())
	}

	auto := false
	if _, err := store.UpdateState(storage.StatePatch{AutoMode: &auto}); err != nil {
		t.Fatalf("Failed to disable auto mode: %v", err)
	}
	engine.HandleSample(sampleRunning("shot.blend"))

	if engine.CurrentState() != StateIdle {
		t.Errorf("Disabling auto mode should return to idle, got %s", engine.CurrentState())
	}
	if active, _ := store.ActiveSession(); active != nil {
		t.Errorf("Session should be completed, got %s", active.ID)
	}
}

func TestAutoModeSupersedesManual(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	manual, err := engine.Start(StartOptions{Camera: "stub:0"})
	if err != nil {
		t.Fatalf("Failed to start manual capture: %v", err)
	}

	enableAuto(t, store)
	engine.HandleSample(sampleRunning("shot.blend"))

	if engine.CurrentState() != StateAutoCapturing {
		t.Fatalf("Expected auto capturing, got %s", engine.CurrentState())
	}
	oldSession, err := store.GetSession(manual.ID)
	if err != nil {
		t.Fatalf("Failed to read manual session: %v", err)
	}
	if oldSession.State != storage.SessionCompleted {
		t.Errorf("Manual session should be completed, got %s", oldSession.State)
	}
}

func TestTickAppendsFrames(t *testing.T) {
	engine, store, provider := newTestEngine(t)

	session, err := engine.Start(StartOptions{Camera: "stub:0", Interval: 1})
	if err != nil {
		t.Fatalf("Failed to start capture: %v", err)
	}

	ctx := context.Background()
	engine.tick(ctx)
	engine.tick(ctx)

	frames, err := store.GetFrames(session.ID)
	if err != nil {
		t.Fatalf("Failed to get frames: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].Index != 1 || frames[1].Index != 2 {
		t.Errorf("Frame indices not contiguous: %d, %d", frames[0].Index, frames[1].Index)
	}

	// A failed grab keeps the session but counts the failure.
	provider.mu.Lock()
	provider.fail = true
	provider.mu.Unlock()
	engine.tick(ctx)

	if engine.Status().CaptureFailures != 1 {
		t.Errorf("Expected 1 capture failure, got %d", engine.Status().CaptureFailures)
	}
	frames, _ = store.GetFrames(session.ID)
	if len(frames) != 2 {
		t.Errorf("Failed grab must not add frames, got %d", len(frames))
	}
	if engine.CurrentState() != StateManualCapturing {
		t.Errorf("Failed grab must not stop the capture, got %s", engine.CurrentState())
	}
}

func TestTickWhileIdleIsNoOp(t *testing.T) {
	engine, store, provider := newTestEngine(t)

	engine.tick(context.Background())
	if provider.captures != 0 {
		t.Error("Idle ticks must not touch the camera")
	}
	if sessions, _ := store.ListSessions(); len(sessions) != 0 {
		t.Error("Idle ticks must not create sessions")
	}
}

func TestStatusSnapshot(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	status := engine.Status()
	if status.IsCapturing || status.StateName != "idle" {
		t.Errorf("Unexpected idle status: %+v", status)
	}

	session, err := engine.Start(StartOptions{Camera: "stub:0"})
	if err != nil {
		t.Fatalf("Failed to start capture: %v", err)
	}
	status = engine.Status()
	if !status.IsCapturing || status.SessionID != session.ID {
		t.Errorf("Unexpected capturing status: %+v", status)
	}
}
