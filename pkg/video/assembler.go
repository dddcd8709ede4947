// Package video assembles a session's frame sequence into a video artifact
// via asynchronous, cancellable, progress-reporting jobs.
package video

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"timelapser/pkg/storage"
)

// Sentinel errors for job preconditions.
var (
	ErrJobInFlight = storage.NewStorageError(storage.ErrConflict, "video job already in flight for session", nil)
	ErrNoFrames    = storage.NewStorageError(storage.ErrValidation, "session has no frames", nil)
	ErrNoJob       = storage.NewStorageError(storage.ErrNotFound, "no video job for session", nil)
)

// Encoder turns an ordered frame sequence into a video file. Implementations
// must honor context cancellation mid-run and report per-frame progress.
type Encoder interface {
	Encode(ctx context.Context, frames []string, fps int, output string, progress func(frame int)) error
}

// Assembler runs at most one video job per session at a time. Jobs execute on
// their own goroutines so long encodes never block status polling or frame
// capture of other sessions.
type Assembler struct {
	store   *storage.Store
	encoder Encoder

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewAssembler creates an assembler over the given store and encoder.
func NewAssembler(store *storage.Store, encoder Encoder) *Assembler {
	return &Assembler{
		store:   store,
		encoder: encoder,
		jobs:    make(map[string]*Job),
	}
}

// Create starts a video job for a session. It refuses while the session is
// actively capturing (ErrSessionActive) or while another job for the same
// session is in flight (ErrJobInFlight). An existing artifact is overwritten;
// confirming overwrite intent is the caller's concern.
func (a *Assembler) Create(sessionID string, fps int) (Snapshot, error) {
	if fps <= 0 {
		fps = 10
	}

	session, err := a.store.GetSession(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if session.State == storage.SessionActive {
		return Snapshot{}, storage.ErrSessionActive
	}

	frames, err := a.store.GetFrames(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if len(frames) == 0 {
		return Snapshot{}, ErrNoFrames
	}

	paths := make([]string, len(frames))
	for i, frame := range frames {
		paths[i] = a.store.AbsPath(frame.Path)
	}

	a.mu.Lock()
	if existing, ok := a.jobs[sessionID]; ok && !existing.Snapshot().Status.Terminal() {
		a.mu.Unlock()
		return Snapshot{}, ErrJobInFlight
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := newJob(uuid.NewString(), sessionID, fps, len(frames), cancel)
	a.jobs[sessionID] = job
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(ctx, job, paths)

	return job.Snapshot(), nil
}

// run executes one job: encode to a temporary path, then atomically move the
// artifact into place only on success so a previous good video is never
// replaced by a partial one.
func (a *Assembler) run(ctx context.Context, job *Job, frames []string) {
	defer a.wg.Done()

	// The job record stays in the registry after it finishes so progress
	// polling keeps working; it is replaced when the next job starts.
	job.setProcessing()
	log.Printf("video: assembling %d frames for session %s at %d fps", len(frames), job.SessionID, job.FPS)

	final := a.store.VideoPath(job.SessionID)
	partial := final + ".partial"

	err := a.encoder.Encode(ctx, frames, job.FPS, partial, job.updateProgress)
	if err != nil {
		os.Remove(partial)
		if job.cancelRequested() || errors.Is(err, context.Canceled) {
			job.finish(StatusCancelled, "")
			log.Printf("video: job for session %s cancelled", job.SessionID)
			return
		}
		job.finish(StatusFailed, err.Error())
		log.Printf("video: job for session %s failed: %v", job.SessionID, err)
		return
	}

	// Cancellation that lands after the encoder finished still discards the
	// artifact; the job was asked not to produce one.
	if job.cancelRequested() {
		os.Remove(partial)
		job.finish(StatusCancelled, "")
		log.Printf("video: job for session %s cancelled", job.SessionID)
		return
	}

	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		job.finish(StatusFailed, err.Error())
		log.Printf("video: failed to move artifact for session %s: %v", job.SessionID, err)
		return
	}

	if _, err := a.store.SetSessionVideo(job.SessionID, job.FPS, time.Now()); err != nil {
		log.Printf("video: failed to record artifact for session %s: %v", job.SessionID, err)
	}
	job.finish(StatusCompleted, "")
	log.Printf("video: session %s -> %s", job.SessionID, final)
}

// Cancel requests cancellation of the session's in-flight job. Cancelling a
// finished job is a no-op; having no job at all is an error.
func (a *Assembler) Cancel(sessionID string) error {
	a.mu.Lock()
	job, ok := a.jobs[sessionID]
	a.mu.Unlock()
	if !ok {
		return ErrNoJob
	}
	job.Cancel()
	return nil
}

// Progress returns the progress record of the session's most recent job.
func (a *Assembler) Progress(sessionID string) (Snapshot, error) {
	a.mu.Lock()
	job, ok := a.jobs[sessionID]
	a.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNoJob
	}
	return job.Snapshot(), nil
}

// Wait blocks until all in-flight jobs have finished, for shutdown.
func (a *Assembler) Wait() {
	a.wg.Wait()
}
