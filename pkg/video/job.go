package video

import (
	"context"
	"sync"
	"time"
)

// Status is a video job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal statuses latch: a
// job never transitions out of one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one video assembly run. Progress updates and polling reads race by
// design; every access goes through the job mutex so a reader can never
// observe a torn record.
type Job struct {
	ID        string
	SessionID string
	FPS       int

	mu           sync.Mutex
	status       Status
	progress     float64
	currentFrame int
	totalFrames  int
	errMsg       string
	startTime    time.Time
	endTime      time.Time
	cancelReq    bool
	cancel       context.CancelFunc
}

// Snapshot is a consistent copy of a job's progress record.
type Snapshot struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	Status         Status  `json:"status"`
	Progress       float64 `json:"progress"`
	CurrentFrame   int     `json:"frame"`
	TotalFrames    int     `json:"total_frames"`
	Error          string  `json:"error,omitempty"`
	StartTime      int64   `json:"start_time"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func newJob(id, sessionID string, fps, totalFrames int, cancel context.CancelFunc) *Job {
	return &Job{
		ID:          id,
		SessionID:   sessionID,
		FPS:         fps,
		status:      StatusQueued,
		totalFrames: totalFrames,
		startTime:   time.Now(),
		cancel:      cancel,
	}
}

// Snapshot returns the current progress record.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	end := j.endTime
	if end.IsZero() {
		end = time.Now()
	}
	return Snapshot{
		ID:             j.ID,
		SessionID:      j.SessionID,
		Status:         j.status,
		Progress:       j.progress,
		CurrentFrame:   j.currentFrame,
		TotalFrames:    j.totalFrames,
		Error:          j.errMsg,
		StartTime:      j.startTime.Unix(),
		ElapsedSeconds: end.Sub(j.startTime).Seconds(),
	}
}

// setProcessing moves a queued job to processing.
func (j *Job) setProcessing() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusQueued {
		j.status = StatusProcessing
	}
}

// updateProgress records the encoder's frame counter. Progress is monotonic
// and capped below 100 until the artifact is actually in place.
func (j *Job) updateProgress(frame int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	if frame <= j.currentFrame {
		return
	}
	j.currentFrame = frame
	if j.totalFrames > 0 {
		p := float64(frame) / float64(j.totalFrames) * 100
		if p > 99 {
			p = 99
		}
		if p > j.progress {
			j.progress = p
		}
	}
}

// finish transitions the job to a terminal status. The first terminal
// transition wins; later ones are ignored. A completed job always reports
// 100% with a full frame counter, so status and progress can never disagree.
func (j *Job) finish(status Status, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = status
	j.errMsg = errMsg
	j.endTime = time.Now()
	if status == StatusCompleted {
		j.progress = 100
		j.currentFrame = j.totalFrames
	}
}

// Cancel requests cooperative cancellation. Cancelling a terminal job is a
// no-op.
func (j *Job) Cancel() {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.cancelReq = true
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// cancelRequested reports whether cancellation was asked for.
func (j *Job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelReq
}
