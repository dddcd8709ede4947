package storage

import (
	"time"

	"timelapser/pkg/camera"
)

// SessionState is the lifecycle state of a capture session.
type SessionState string

const (
	// SessionActive means the session is currently receiving frames.
	SessionActive SessionState = "active"
	// SessionCompleted is terminal; a completed session never becomes active again.
	SessionCompleted SessionState = "completed"
)

// Session represents one bounded capture run.
type Session struct {
	ID           string       `json:"id"`
	State        SessionState `json:"state"`
	ActivityFile string       `json:"activity_file,omitempty"`
	Camera       string       `json:"camera"`
	Interval     int          `json:"interval"`
	AutoMode     bool         `json:"auto_mode"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      *time.Time   `json:"end_time,omitempty"`
	FrameCount   int          `json:"frame_count"`
	Video        *VideoInfo   `json:"video,omitempty"`
}

// VideoInfo describes the assembled video artifact of a session, if any.
type VideoInfo struct {
	Path      string    `json:"path"`
	FPS       int       `json:"fps"`
	CreatedAt time.Time `json:"created_at"`
}

// FrameRecord is one captured frame within a session. Index is 1-based and
// strictly contiguous in capture order.
type FrameRecord struct {
	SessionID  string    `json:"session_id"`
	Index      int       `json:"index"`
	CapturedAt time.Time `json:"captured_at"`
	Path       string    `json:"path"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	Session
	Thumbnail string `json:"thumbnail,omitempty"`
	HasVideo  bool   `json:"has_video"`
}

// AppState is the persisted, process-wide application state shared between the
// poller, the capture engine, and the HTTP layer.
type AppState struct {
	AutoMode        bool            `json:"auto_mode"`
	Camera          string          `json:"camera"`
	Interval        int             `json:"interval"`
	CameraSettings  camera.Settings `json:"camera_settings"`
	IgnoredPatterns []string        `json:"ignored_patterns"`
}

// DefaultAppState returns the state used before any has been persisted.
func DefaultAppState() AppState {
	return AppState{
		AutoMode:        false,
		Camera:          "",
		Interval:        5,
		CameraSettings:  camera.DefaultSettings(),
		IgnoredPatterns: nil,
	}
}

// StatePatch is a partial update to AppState. Nil fields are left unchanged;
// IgnoredPatterns replaces the whole set when present.
type StatePatch struct {
	AutoMode        *bool     `json:"auto_mode,omitempty"`
	Camera          *string   `json:"camera,omitempty"`
	Interval        *int      `json:"interval,omitempty"`
	Brightness      *float64  `json:"brightness,omitempty"`
	Contrast        *float64  `json:"contrast,omitempty"`
	Exposure        *float64  `json:"exposure,omitempty"`
	Resolution      *string   `json:"resolution,omitempty"`
	IgnoredPatterns *[]string `json:"ignored_patterns,omitempty"`
}
