package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"timelapser/pkg/camera"
)

// State returns the last-known-good application state, falling back to
// defaults for anything never persisted.
func (s *Store) State() (AppState, error) {
	stmt, err := s.getStmt(`
		SELECT auto_mode, camera, interval, brightness, contrast, exposure, resolution, ignored_patterns
		FROM app_state WHERE id = 1
	`)
	if err != nil {
		return DefaultAppState(), NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}

	var state AppState
	var autoMode int
	var patternsJSON string
	err = stmt.QueryRow().Scan(&autoMode, &state.Camera, &state.Interval,
		&state.CameraSettings.Brightness, &state.CameraSettings.Contrast,
		&state.CameraSettings.Exposure, &state.CameraSettings.Resolution, &patternsJSON)
	if err == sql.ErrNoRows {
		return DefaultAppState(), nil
	}
	if err != nil {
		return DefaultAppState(), NewStorageError(ErrDatabase, "failed to load app state", err)
	}

	state.AutoMode = autoMode != 0
	if err := json.Unmarshal([]byte(patternsJSON), &state.IgnoredPatterns); err != nil {
		// A corrupt pattern list should not take the whole state down.
		state.IgnoredPatterns = nil
	}
	return state, nil
}

// UpdateState merges a partial patch over the current state and persists the
// whole record atomically, returning the merged state. Concurrent writers
// cannot lose each other's unrelated fields: the read-modify-write cycle is
// serialized.
func (s *Store) UpdateState(patch StatePatch) (AppState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	state, err := s.State()
	if err != nil {
		return state, err
	}

	if patch.AutoMode != nil {
		state.AutoMode = *patch.AutoMode
	}
	if patch.Camera != nil {
		state.Camera = *patch.Camera
	}
	if patch.Interval != nil {
		state.Interval = *patch.Interval
	}
	if patch.Brightness != nil {
		state.CameraSettings.Brightness = *patch.Brightness
	}
	if patch.Contrast != nil {
		state.CameraSettings.Contrast = *patch.Contrast
	}
	if patch.Exposure != nil {
		state.CameraSettings.Exposure = *patch.Exposure
	}
	if patch.Resolution != nil {
		state.CameraSettings.Resolution = *patch.Resolution
	}
	if patch.IgnoredPatterns != nil {
		state.IgnoredPatterns = append([]string(nil), (*patch.IgnoredPatterns)...)
	}
	state.CameraSettings = state.CameraSettings.Coerce()

	if err := s.saveState(state); err != nil {
		return state, err
	}
	return state, nil
}

// UpdateCameraSettings replaces the persisted camera settings wholesale and
// returns the merged state.
func (s *Store) UpdateCameraSettings(settings camera.Settings) (AppState, error) {
	coerced := settings.Coerce()
	return s.UpdateState(StatePatch{
		Brightness: &coerced.Brightness,
		Contrast:   &coerced.Contrast,
		Exposure:   &coerced.Exposure,
		Resolution: &coerced.Resolution,
	})
}

// saveState overwrites the single app_state row.
func (s *Store) saveState(state AppState) error {
	patterns := state.IgnoredPatterns
	if patterns == nil {
		patterns = []string{}
	}
	patternsJSON, err := json.Marshal(patterns)
	if err != nil {
		return NewStorageError(ErrSerialization, "failed to marshal ignored patterns", err)
	}

	stmt, err := s.getStmt(`
		INSERT INTO app_state (id, auto_mode, camera, interval, brightness, contrast, exposure, resolution, ignored_patterns, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			auto_mode = excluded.auto_mode,
			camera = excluded.camera,
			interval = excluded.interval,
			brightness = excluded.brightness,
			contrast = excluded.contrast,
			exposure = excluded.exposure,
			resolution = excluded.resolution,
			ignored_patterns = excluded.ignored_patterns,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return NewStorageError(ErrDatabase, "failed to prepare statement", err)
	}

	_, err = stmt.Exec(boolToInt(state.AutoMode), state.Camera, state.Interval,
		state.CameraSettings.Brightness, state.CameraSettings.Contrast,
		state.CameraSettings.Exposure, state.CameraSettings.Resolution,
		string(patternsJSON), time.Now())
	if err != nil {
		return NewStorageError(ErrDatabase, "failed to save app state", err)
	}
	return nil
}
