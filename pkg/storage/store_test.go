package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(dir, filepath.Join(dir, "timelapses"))
	if err := store.Initialize(); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreInitialization(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, filepath.Join(dir, "timelapses"))
	if err := store.Initialize(); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(dir, "timelapser.db")); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	for _, table := range []string{"schema_version", "sessions", "frames", "app_state"} {
		var name string
		err := store.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s does not exist: %v", table, err)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

	session, err := store.CreateSession(CreateSessionParams{
		ActivityFile: "render.blend",
		Camera:       "/dev/video0",
		Interval:     5,
		AutoMode:     true,
	}, now)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if session.ID != "timelapse_20250314_150926" {
		t.Errorf("Unexpected session id: %s", session.ID)
	}
	if session.State != SessionActive {
		t.Errorf("New session should be active, got %s", session.State)
	}

	active, err := store.ActiveSession()
	if err != nil {
		t.Fatalf("Failed to get active session: %v", err)
	}
	if active == nil || active.ID != session.ID {
		t.Fatalf("Active session mismatch: %+v", active)
	}

	// Second create must refuse while one is active.
	if _, err := store.CreateSession(CreateSessionParams{}, now.Add(time.Minute)); !errors.Is(err, ErrActiveSessionExists) {
		t.Errorf("Expected ErrActiveSessionExists, got %v", err)
	}

	completed, err := store.CompleteSession(session.ID, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to complete session: %v", err)
	}
	if completed.State != SessionCompleted {
		t.Errorf("Expected completed state, got %s", completed.State)
	}
	if completed.EndTime == nil {
		t.Error("Completed session should have an end time")
	}

	// Completed is terminal.
	if _, err := store.CompleteSession(session.ID, now.Add(2*time.Hour)); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("Expected ErrSessionCompleted, got %v", err)
	}

	active, err = store.ActiveSession()
	if err != nil {
		t.Fatalf("Failed to get active session: %v", err)
	}
	if active != nil {
		t.Errorf("No session should be active, got %s", active.ID)
	}

	// A new session can start once the previous one completed.
	if _, err := store.CreateSession(CreateSessionParams{}, now.Add(3*time.Hour)); err != nil {
		t.Fatalf("Failed to create follow-up session: %v", err)
	}
}

func TestSessionIDCollision(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

	first, err := store.CreateSession(CreateSessionParams{}, now)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if _, err := store.CompleteSession(first.ID, now); err != nil {
		t.Fatalf("Failed to complete session: %v", err)
	}

	// Same second again: the id gets a numeric suffix.
	second, err := store.CreateSession(CreateSessionParams{}, now)
	if err != nil {
		t.Fatalf("Failed to create colliding session: %v", err)
	}
	if second.ID != first.ID+"_2" {
		t.Errorf("Expected suffixed id %s_2, got %s", first.ID, second.ID)
	}
}

func TestAppendFrame(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	session, err := store.CreateSession(CreateSessionParams{Camera: "/dev/video0", Interval: 5}, now)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	for i := 1; i <= 3; i++ {
		record, err := store.AppendFrame(session.ID, []byte("jpeg-data"), now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Failed to append frame %d: %v", i, err)
		}
		if record.Index != i {
			t.Errorf("Expected index %d, got %d", i, record.Index)
		}
		if _, err := os.Stat(store.AbsPath(record.Path)); err != nil {
			t.Errorf("Frame file missing: %v", err)
		}
	}

	updated, err := store.GetSession(session.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if updated.FrameCount != 3 {
		t.Errorf("Expected frame count 3, got %d", updated.FrameCount)
	}

	frames, err := store.GetFrames(session.ID)
	if err != nil {
		t.Fatalf("Failed to get frames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Index != i+1 {
			t.Errorf("Frame %d has index %d, indices must be contiguous from 1", i, f.Index)
		}
		if i > 0 && !(frames[i-1].Path < f.Path) {
			t.Errorf("Frame paths not in lexicographic order: %s >= %s", frames[i-1].Path, f.Path)
		}
	}

	if _, err := store.AppendFrame(session.ID, nil, now); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Expected ErrEmptyFrame, got %v", err)
	}

	if _, err := store.CompleteSession(session.ID, now); err != nil {
		t.Fatalf("Failed to complete session: %v", err)
	}
	if _, err := store.AppendFrame(session.ID, []byte("late"), now); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("Appending to a completed session should fail, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	session, err := store.CreateSession(CreateSessionParams{}, now)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if _, err := store.AppendFrame(session.ID, []byte("jpeg"), now); err != nil {
		t.Fatalf("Failed to append frame: %v", err)
	}

	// Deleting the active session is rejected and mutates nothing.
	if err := store.DeleteSession(session.ID); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
	if _, err := store.GetSession(session.ID); err != nil {
		t.Errorf("Session should survive a rejected delete: %v", err)
	}
	if _, err := os.Stat(store.SessionDir(session.ID)); err != nil {
		t.Errorf("Session directory should survive a rejected delete: %v", err)
	}

	if _, err := store.CompleteSession(session.ID, now); err != nil {
		t.Fatalf("Failed to complete session: %v", err)
	}
	if err := store.DeleteSession(session.ID); err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}
	if _, err := store.GetSession(session.ID); !IsNotFound(err) {
		t.Errorf("Deleted session should be gone, got %v", err)
	}
	if _, err := os.Stat(store.SessionDir(session.ID)); !os.IsNotExist(err) {
		t.Error("Session directory should be removed")
	}

	if err := store.DeleteSession("timelapse_19990101_000000"); !IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestSessionInfoSnapshot(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	session, err := store.CreateSession(CreateSessionParams{Camera: "0"}, now)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	infoPath := filepath.Join(store.SessionDir(session.ID), "session_info.json")
	data, err := os.ReadFile(infoPath)
	if err != nil {
		t.Fatalf("Session info snapshot missing: %v", err)
	}
	var snapshot Session
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("Failed to parse session info: %v", err)
	}
	if snapshot.State != SessionActive {
		t.Errorf("Snapshot should record active state, got %s", snapshot.State)
	}

	if _, err := store.CompleteSession(session.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("Failed to complete session: %v", err)
	}
	data, err = os.ReadFile(infoPath)
	if err != nil {
		t.Fatalf("Session info snapshot missing after complete: %v", err)
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("Failed to parse session info: %v", err)
	}
	if snapshot.State != SessionCompleted {
		t.Errorf("Snapshot should record completed state, got %s", snapshot.State)
	}
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		session, err := store.CreateSession(CreateSessionParams{}, base.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("Failed to create session %d: %v", i, err)
		}
		if _, err := store.AppendFrame(session.ID, []byte("jpeg"), base); err != nil {
			t.Fatalf("Failed to append frame: %v", err)
		}
		if _, err := store.CompleteSession(session.ID, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("Failed to complete session: %v", err)
		}
		ids = append(ids, session.ID)
	}

	summaries, err := store.ListSessions()
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(summaries))
	}
	// Newest first.
	for i, summary := range summaries {
		if summary.ID != ids[len(ids)-1-i] {
			t.Errorf("Sessions out of order at %d: %s", i, summary.ID)
		}
		if summary.Thumbnail == "" {
			t.Errorf("Session %s has no thumbnail", summary.ID)
		}
		if summary.HasVideo {
			t.Errorf("Session %s should have no video yet", summary.ID)
		}
	}

	// Record a video and put the artifact on disk.
	if _, err := store.SetSessionVideo(ids[0], 10, base); err != nil {
		t.Fatalf("Failed to set session video: %v", err)
	}
	if err := os.WriteFile(store.VideoPath(ids[0]), []byte("mp4"), 0644); err != nil {
		t.Fatalf("Failed to write video file: %v", err)
	}

	summaries, err = store.ListSessions()
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	for _, summary := range summaries {
		want := summary.ID == ids[0]
		if summary.HasVideo != want {
			t.Errorf("Session %s HasVideo = %v, want %v", summary.ID, summary.HasVideo, want)
		}
	}
}

func TestAppStateDefaultsAndMerge(t *testing.T) {
	store := newTestStore(t)

	state, err := store.State()
	if err != nil {
		t.Fatalf("Failed to read state: %v", err)
	}
	if state.AutoMode || state.Interval != 5 || state.CameraSettings.Brightness != 0.5 {
		t.Errorf("Unexpected default state: %+v", state)
	}

	autoMode := true
	interval := 10
	merged, err := store.UpdateState(StatePatch{AutoMode: &autoMode, Interval: &interval})
	if err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}
	if !merged.AutoMode || merged.Interval != 10 {
		t.Errorf("Patch not applied: %+v", merged)
	}

	// A later patch must not clobber unrelated fields.
	brightness := 0.8
	merged, err = store.UpdateState(StatePatch{Brightness: &brightness})
	if err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}
	if !merged.AutoMode || merged.Interval != 10 {
		t.Errorf("Unrelated fields were clobbered: %+v", merged)
	}
	if merged.CameraSettings.Brightness != 0.8 {
		t.Errorf("Brightness not applied: %v", merged.CameraSettings.Brightness)
	}

	// Out-of-range values are coerced, not rejected.
	brightness = 5.0
	merged, err = store.UpdateState(StatePatch{Brightness: &brightness})
	if err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}
	if merged.CameraSettings.Brightness != 1.0 {
		t.Errorf("Brightness should clamp to 1.0, got %v", merged.CameraSettings.Brightness)
	}

	patterns := []string{`\.tmp$`, "autosave"}
	merged, err = store.UpdateState(StatePatch{IgnoredPatterns: &patterns})
	if err != nil {
		t.Fatalf("Failed to update state: %v", err)
	}
	if len(merged.IgnoredPatterns) != 2 {
		t.Errorf("Patterns not replaced: %+v", merged.IgnoredPatterns)
	}

	// Everything survives a re-read.
	state, err = store.State()
	if err != nil {
		t.Fatalf("Failed to re-read state: %v", err)
	}
	if !state.AutoMode || state.Interval != 10 || state.CameraSettings.Brightness != 1.0 || len(state.IgnoredPatterns) != 2 {
		t.Errorf("Persisted state mismatch: %+v", state)
	}
}

// TestFrameFilenameOrder checks that lexicographic order of frame filenames
// always equals index order, which the video assembler relies on.
func TestFrameFilenameOrder(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("filename order equals index order", prop.ForAll(
		func(a, b int) bool {
			at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
			if a == b {
				return frameFilename(a, at) == frameFilename(b, at)
			}
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			return frameFilename(lo, at) < frameFilename(hi, at)
		},
		gen.IntRange(1, 999999),
		gen.IntRange(1, 999999),
	))

	properties.TestingRun(t)
}
