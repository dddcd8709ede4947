package storage

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"
)

// CreateSessionParams captures the recording configuration a new session
// starts with.
type CreateSessionParams struct {
	ActivityFile string
	Camera       string
	Interval     int
	AutoMode     bool
}

// CreateSession allocates a new active session. It fails with
// ErrActiveSessionExists while another session is active; the caller must
// complete that one first.
func (s *Store) CreateSession(params CreateSessionParams, now time.Time) (*Session, error) {
	active, err := s.ActiveSession()
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrActiveSessionExists
	}

	id, err := s.nextSessionID(now)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:           id,
		State:        SessionActive,
		ActivityFile: params.ActivityFile,
		Camera:       params.Camera,
		Interval:     params.Interval,
		AutoMode:     params.AutoMode,
		StartTime:    now,
	}

	stmt, err := s.getStmt(`
		INSERT INTO sessions (id, state, activity_file, camera, interval, auto_mode, start_time, frame_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`)
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}

	_, err = stmt.Exec(session.ID, session.State, session.ActivityFile, session.Camera,
		session.Interval, boolToInt(session.AutoMode), session.StartTime)
	if err != nil {
		// The partial unique index on state='active' is the backstop for the
		// single-active invariant under concurrent creates.
		if isUniqueConstraintError(err) {
			return nil, ErrActiveSessionExists
		}
		return nil, NewStorageError(ErrDatabase, "failed to create session", err)
	}

	if err := s.createSessionDir(session.ID); err != nil {
		return nil, err
	}
	if err := s.writeSessionInfo(session); err != nil {
		return nil, err
	}
	return session, nil
}

// nextSessionID derives a sortable session id from the timestamp,
// disambiguating same-second collisions with a numeric suffix.
func (s *Store) nextSessionID(now time.Time) (string, error) {
	base := "timelapse_" + now.Format("20060102_150405")
	id := base
	for n := 2; ; n++ {
		exists, err := s.sessionExists(id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

func (s *Store) sessionExists(id string) (bool, error) {
	stmt, err := s.getStmt("SELECT 1 FROM sessions WHERE id = ?")
	if err != nil {
		return false, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	var one int
	err = stmt.QueryRow(id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, NewStorageError(ErrDatabase, "failed to check session existence", err)
	}
	return true, nil
}

const sessionColumns = `id, state, activity_file, camera, interval, auto_mode, start_time, end_time,
	       frame_count, video_path, video_fps, video_created_at`

// scanSession scans one session row including the nullable end/video fields.
func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var session Session
	var autoMode int
	var endTime sql.NullTime
	var videoPath sql.NullString
	var videoFPS sql.NullInt64
	var videoCreatedAt sql.NullTime

	err := row.Scan(&session.ID, &session.State, &session.ActivityFile, &session.Camera,
		&session.Interval, &autoMode, &session.StartTime, &endTime,
		&session.FrameCount, &videoPath, &videoFPS, &videoCreatedAt)
	if err != nil {
		return nil, err
	}

	session.AutoMode = autoMode != 0
	if endTime.Valid {
		t := endTime.Time
		session.EndTime = &t
	}
	if videoPath.Valid && videoPath.String != "" {
		session.Video = &VideoInfo{
			Path:      videoPath.String,
			FPS:       int(videoFPS.Int64),
			CreatedAt: videoCreatedAt.Time,
		}
	}
	return &session, nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	stmt, err := s.getStmt("SELECT " + sessionColumns + " FROM sessions WHERE id = ?")
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	session, err := scanSession(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to get session", err)
	}
	return session, nil
}

// ActiveSession returns the currently active session, or nil if none.
func (s *Store) ActiveSession() (*Session, error) {
	stmt, err := s.getStmt("SELECT " + sessionColumns + " FROM sessions WHERE state = 'active' LIMIT 1")
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	session, err := scanSession(stmt.QueryRow())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to get active session", err)
	}
	return session, nil
}

// CompleteSession transitions an active session to completed. Completed is
// terminal: completing twice returns ErrSessionCompleted.
func (s *Store) CompleteSession(id string, now time.Time) (*Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	stmt, err := s.getStmt("UPDATE sessions SET state = 'completed', end_time = ? WHERE id = ? AND state = 'active'")
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	result, err := stmt.Exec(now, id)
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to complete session", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to complete session", err)
	}
	if affected == 0 {
		if _, err := s.GetSession(id); err != nil {
			return nil, err
		}
		return nil, ErrSessionCompleted
	}

	session, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	if err := s.writeSessionInfo(session); err != nil {
		return nil, err
	}
	return session, nil
}

// AppendFrame assigns the next sequential index, writes the frame image into
// the session directory, and updates the frame count. The capture loop is the
// sole writer of a session's frames.
func (s *Store) AppendFrame(sessionID string, image []byte, capturedAt time.Time) (*FrameRecord, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if len(image) == 0 {
		return nil, ErrEmptyFrame
	}

	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != SessionActive {
		return nil, ErrSessionCompleted
	}

	stmt, err := s.getStmt("SELECT COALESCE(MAX(idx), 0) FROM frames WHERE session_id = ?")
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	var maxIndex int
	if err := stmt.QueryRow(sessionID).Scan(&maxIndex); err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to read frame index", err)
	}
	index := maxIndex + 1

	relPath, err := s.writeFrameFile(sessionID, index, capturedAt, image)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO frames (session_id, idx, captured_at, file_path) VALUES (?, ?, ?, ?)",
		sessionID, index, capturedAt, relPath); err != nil {
		os.Remove(s.AbsPath(relPath))
		return nil, NewStorageError(ErrDatabase, "failed to record frame", err)
	}
	if _, err := tx.Exec("UPDATE sessions SET frame_count = ? WHERE id = ?", index, sessionID); err != nil {
		os.Remove(s.AbsPath(relPath))
		return nil, NewStorageError(ErrDatabase, "failed to update frame count", err)
	}
	if err := tx.Commit(); err != nil {
		os.Remove(s.AbsPath(relPath))
		return nil, NewStorageError(ErrDatabase, "failed to commit frame", err)
	}

	return &FrameRecord{
		SessionID:  sessionID,
		Index:      index,
		CapturedAt: capturedAt,
		Path:       relPath,
	}, nil
}

// GetFrames returns a session's frames sorted by index.
func (s *Store) GetFrames(sessionID string) ([]FrameRecord, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	stmt, err := s.getStmt("SELECT session_id, idx, captured_at, file_path FROM frames WHERE session_id = ? ORDER BY idx")
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	rows, err := stmt.Query(sessionID)
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to list frames", err)
	}
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		var f FrameRecord
		if err := rows.Scan(&f.SessionID, &f.Index, &f.CapturedAt, &f.Path); err != nil {
			return nil, NewStorageError(ErrDatabase, "failed to scan frame", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to list frames", err)
	}
	return frames, nil
}

// ListSessions returns session summaries newest first, each with a thumbnail
// reference (first frame) and whether a video artifact exists on disk.
func (s *Store) ListSessions() ([]SessionSummary, error) {
	rows, err := s.db.Query("SELECT " + sessionColumns + " FROM sessions ORDER BY id DESC")
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to list sessions", err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, NewStorageError(ErrDatabase, "failed to scan session", err)
		}
		summaries = append(summaries, SessionSummary{Session: *session})
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to list sessions", err)
	}

	for i := range summaries {
		summary := &summaries[i]
		thumb, err := s.firstFramePath(summary.ID)
		if err != nil {
			return nil, err
		}
		summary.Thumbnail = thumb
		if summary.Video != nil {
			if _, err := os.Stat(s.AbsPath(summary.Video.Path)); err == nil {
				summary.HasVideo = true
			}
		}
	}
	return summaries, nil
}

func (s *Store) firstFramePath(sessionID string) (string, error) {
	stmt, err := s.getStmt("SELECT file_path FROM frames WHERE session_id = ? ORDER BY idx LIMIT 1")
	if err != nil {
		return "", NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	var path string
	err = stmt.QueryRow(sessionID).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", NewStorageError(ErrDatabase, "failed to read thumbnail", err)
	}
	return path, nil
}

// DeleteSession removes a completed session's records, frames, and video
// artifact irreversibly. Deleting the active session fails with
// ErrSessionActive and performs no mutation.
func (s *Store) DeleteSession(id string) error {
	session, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if session.State == SessionActive {
		return ErrSessionActive
	}

	stmt, err := s.getStmt("DELETE FROM sessions WHERE id = ?")
	if err != nil {
		return NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	if _, err := stmt.Exec(id); err != nil {
		return NewStorageError(ErrDatabase, "failed to delete session", err)
	}
	return s.removeSessionDir(id)
}

// SetSessionVideo records a freshly assembled video artifact on the session.
func (s *Store) SetSessionVideo(id string, fps int, createdAt time.Time) (*Session, error) {
	relPath := id + "/" + VideoFilename(id)
	stmt, err := s.getStmt("UPDATE sessions SET video_path = ?, video_fps = ?, video_created_at = ? WHERE id = ?")
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}
	result, err := stmt.Exec(relPath, fps, createdAt, id)
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to record video", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, NewStorageError(ErrDatabase, "failed to record video", err)
	}
	if affected == 0 {
		return nil, ErrSessionNotFound
	}
	return s.GetSession(id)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError reports whether err is a SQLite unique constraint
// violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
