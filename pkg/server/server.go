// Package server exposes the HTTP control surface: status, session browsing,
// capture start/stop, camera settings, and video job management.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"timelapser/pkg/camera"
	"timelapser/pkg/capture"
	"timelapser/pkg/monitor"
	"timelapser/pkg/storage"
	"timelapser/pkg/video"
)

type Server struct {
	store     *storage.Store
	engine    *capture.Engine
	assembler *video.Assembler
	poller    *monitor.Poller
	cameras   camera.Provider
	port      string
}

func NewServer(store *storage.Store, engine *capture.Engine, assembler *video.Assembler, poller *monitor.Poller, cameras camera.Provider, port string) *Server {
	return &Server{
		store:     store,
		engine:    engine,
		assembler: assembler,
		poller:    poller,
		cameras:   cameras,
		port:      port,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return ":" + s.port
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Enable CORS
	cors := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("GET /status", cors(s.handleStatus))
	mux.HandleFunc("GET /cameras", cors(s.handleCameras))
	mux.HandleFunc("POST /start", cors(s.handleStart))
	mux.HandleFunc("POST /stop", cors(s.handleStop))
	mux.HandleFunc("GET /sessions", cors(s.handleSessions))
	mux.HandleFunc("GET /frames/{id}", cors(s.handleFrames))
	mux.HandleFunc("DELETE /delete/{id}", cors(s.handleDelete))
	mux.HandleFunc("POST /create_video", cors(s.handleCreateVideo))
	mux.HandleFunc("GET /video_progress/{id}", cors(s.handleVideoProgress))
	mux.HandleFunc("POST /cancel_video/{id}", cors(s.handleCancelVideo))
	mux.HandleFunc("POST /test_capture", cors(s.handleTestCapture))
	mux.HandleFunc("GET /state", cors(s.handleGetState))
	mux.HandleFunc("POST /state", cors(s.handleUpdateState))
	mux.HandleFunc("POST /update_camera_settings", cors(s.handleCameraSettings))
	mux.HandleFunc("GET /video/{id}", cors(s.handleVideo))

	// Static frame files
	fileServer := http.FileServer(http.Dir(s.store.Root()))
	mux.Handle("GET /image/", http.StripPrefix("/image/", fileServer))

	return mux
}

// GET /status -> capture state, persisted settings, and the poller's view.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	appState, err := s.store.State()
	if err != nil {
		writeError(w, err)
		return
	}
	status := s.engine.Status()
	sample := s.poller.LastSample()

	resp := map[string]any{
		"state":            status.StateName,
		"is_capturing":     status.IsCapturing,
		"auto_mode":        appState.AutoMode,
		"camera":           appState.Camera,
		"interval":         appState.Interval,
		"camera_settings":  appState.CameraSettings,
		"ignored_patterns": appState.IgnoredPatterns,
		"capture_failures": status.CaptureFailures,
		"target_running":   sample.Running,
		"target_known":     sample.Known,
		"current_activity": sample.Activity,
	}
	if status.SessionID != "" {
		session, err := s.store.GetSession(status.SessionID)
		if err == nil {
			resp["current_session"] = session
			if frames, err := s.store.GetFrames(session.ID); err == nil && len(frames) > 0 {
				resp["last_frame"] = frames[len(frames)-1].Path
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /cameras -> available device ids.
func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	devices, err := s.cameras.Enumerate()
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": devices})
}

// POST /start {camera, interval, auto_mode} -> begin or arm capture.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Camera   string `json:"camera"`
		Interval int    `json:"interval"`
		AutoMode *bool  `json:"auto_mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := s.engine.Start(capture.StartOptions{
		Camera:   req.Camera,
		Interval: req.Interval,
		AutoMode: req.AutoMode,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"state": s.engine.CurrentState().String()}
	if session != nil {
		resp["session"] = session
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /stop -> end the capture in progress.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": s.engine.CurrentState().String()})
}

// GET /sessions -> all sessions, newest first, with thumbnails.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []storage.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /frames/{id} -> the session's frames in capture order.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(id); err != nil {
		writeError(w, err)
		return
	}
	frames, err := s.store.GetFrames(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if frames == nil {
		frames = []storage.FrameRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "frames": frames})
}

// DELETE /delete/{id} -> remove a completed session and its files.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSession(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// POST /create_video {session_id, fps} -> start an assembly job.
func (s *Server) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		FPS       int    `json:"fps"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	snapshot, err := s.assembler.Create(req.SessionID, req.FPS)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot)
}

// GET /video_progress/{id} -> progress of the session's latest job.
func (s *Server) handleVideoProgress(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.assembler.Progress(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// POST /cancel_video/{id} -> request cancellation of an in-flight job.
func (s *Server) handleCancelVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.assembler.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": id})
}

// POST /test_capture {camera} -> one-off frame as a base64 data URL, without
// touching any session.
func (s *Server) handleTestCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Camera string `json:"camera"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appState, err := s.store.State()
	if err != nil {
		writeError(w, err)
		return
	}
	device := req.Camera
	if device == "" {
		device = appState.Camera
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()
	frame, err := s.cameras.Capture(ctx, device, appState.CameraSettings)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"camera": device,
		"image":  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame),
	})
}

// GET /state -> the persisted application state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	appState, err := s.store.State()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appState)
}

// POST /state -> merge a partial patch; omitted fields are untouched.
func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	var patch storage.StatePatch
	if err := decodeJSON(r, &patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if patch.Interval != nil {
		normalized := capture.NormalizeInterval(*patch.Interval)
		patch.Interval = &normalized
	}

	merged, err := s.store.UpdateState(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// POST /update_camera_settings -> apply settings to the device, persist what
// it accepted.
func (s *Server) handleCameraSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Camera string `json:"camera"`
		camera.Settings
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	appState, err := s.store.State()
	if err != nil {
		writeError(w, err)
		return
	}
	device := req.Camera
	if device == "" {
		device = appState.Camera
	}

	applied, err := s.cameras.ApplySettings(r.Context(), device, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	merged, err := s.store.UpdateCameraSettings(applied)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged.CameraSettings)
}

// GET /video/{id} -> the assembled artifact.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, err := s.store.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session.Video == nil {
		http.Error(w, "no video for session", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, s.store.VideoPath(id))
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case storage.IsNotFound(err) || errors.Is(err, camera.ErrDeviceNotFound):
		code = http.StatusNotFound
	case storage.IsConflict(err) || storage.IsBusy(err):
		code = http.StatusConflict
	case errors.Is(err, camera.ErrSettingsRejected) || errors.Is(err, capture.ErrNotCapturing):
		code = http.StatusBadRequest
	default:
		var serr *storage.StorageError
		if errors.As(err, &serr) && serr.Code == storage.ErrValidation {
			code = http.StatusBadRequest
		}
	}
	http.Error(w, err.Error(), code)
}
