package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sessionInfoFile is the metadata snapshot written into each session
// directory so the on-disk layout is self-describing.
const sessionInfoFile = "session_info.json"

// SessionDir returns the absolute directory holding a session's frames.
func (s *Store) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// AbsPath resolves a root-relative frame or video path to an absolute one.
func (s *Store) AbsPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// frameFilename builds the frame file name. The zero-padded index comes first
// so lexicographic order of filenames equals capture order; the timestamp is
// informational.
func frameFilename(index int, capturedAt time.Time) string {
	return fmt.Sprintf("frame_%06d_%s.jpg", index, capturedAt.Format("20060102_150405"))
}

// VideoFilename returns the canonical video artifact name for a session.
func VideoFilename(sessionID string) string {
	return fmt.Sprintf("timelapse_%s.mp4", sessionID)
}

// VideoPath returns the absolute canonical video path for a session.
func (s *Store) VideoPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), VideoFilename(sessionID))
}

// writeFrameFile persists one frame image and returns its root-relative path.
func (s *Store) writeFrameFile(sessionID string, index int, capturedAt time.Time, data []byte) (string, error) {
	name := frameFilename(index, capturedAt)
	abs := filepath.Join(s.SessionDir(sessionID), name)
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return "", NewStorageError(ErrFileSystem, "failed to write frame file", err)
	}
	return sessionID + "/" + name, nil
}

// writeSessionInfo writes the session metadata snapshot into the session
// directory, overwriting any previous snapshot.
func (s *Store) writeSessionInfo(session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return NewStorageError(ErrSerialization, "failed to marshal session info", err)
	}
	path := filepath.Join(s.SessionDir(session.ID), sessionInfoFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return NewStorageError(ErrFileSystem, "failed to write session info", err)
	}
	return nil
}

// createSessionDir creates the backing directory for a new session.
func (s *Store) createSessionDir(sessionID string) error {
	if err := os.MkdirAll(s.SessionDir(sessionID), 0755); err != nil {
		return NewStorageError(ErrFileSystem, "failed to create session directory", err)
	}
	return nil
}

// removeSessionDir irreversibly removes a session's frames, metadata snapshot,
// and any video artifact.
func (s *Store) removeSessionDir(sessionID string) error {
	// Guard against ids that could escape the timelapse root.
	if sessionID == "" || strings.Contains(sessionID, "..") || strings.ContainsAny(sessionID, "/\\") {
		return ErrEmptySessionID
	}
	if err := os.RemoveAll(s.SessionDir(sessionID)); err != nil {
		return NewStorageError(ErrFileSystem, "failed to remove session directory", err)
	}
	return nil
}
