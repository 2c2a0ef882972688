package store

import (
	"errors"
	"sync"
	"time"

	"github.com/subwave/pkg/logger"
)

// ErrDuplicateJob is returned when creating a job whose id is still tracked.
var ErrDuplicateJob = errors.New("job id already exists")

// Status tracks each lifecycle stage of a transcription job.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusLoadingModel     Status = "loading_model"
	StatusTranscribing     Status = "transcribing"
	StatusGeneratingOutput Status = "generating_output"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusNotFound         Status = "not_found"
)

// rank orders statuses along the state machine so a job can never move
// backwards. Both terminal states share the top rank; Update refuses to
// leave either one.
func rank(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusLoadingModel:
		return 1
	case StatusTranscribing:
		return 2
	case StatusGeneratingOutput:
		return 3
	case StatusCompleted, StatusFailed:
		return 4
	default:
		return -1
	}
}

// Terminal reports whether a status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result holds the output of a completed job.
type Result struct {
	SubtitleText     string `json:"subtitle_text"`
	SegmentsCount    int    `json:"segments_count"`
	DetectedLanguage string `json:"detected_language"`
}

// Job is the tracked state of one transcription request. Values handed out
// by Get are snapshots; only the store mutates the live copy.
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Update carries the mutable fields a runner publishes for one transition.
type Update struct {
	Status   Status
	Progress int
	Message  string
	Result   *Result
	Error    string
}

// Store is the process-wide registry of in-flight and recently finished
// jobs. A single mutex guards the map; every read and write of a job goes
// through it, so pollers never see a half-applied transition.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time // swapped in tests
}

// New creates an empty job store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*Job),
		stop: make(chan struct{}),
		now:  time.Now,
	}
}

// Create registers a new job in queued state at progress 0.
func (s *Store) Create(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return Job{}, ErrDuplicateJob
	}

	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		Progress:  0,
		Message:   "Job queued",
		CreatedAt: s.now(),
	}
	s.jobs[id] = job
	return *job, nil
}

// Update atomically applies a transition to an existing job. A missing id
// is a silent no-op: the owning runner may lose a race with eviction, and
// there is nobody left to tell. Terminal jobs are immutable, regressive
// status or progress values are dropped.
func (s *Store) Update(id string, upd Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	if job.Status.Terminal() {
		return
	}
	if rank(upd.Status) < rank(job.Status) {
		return
	}

	job.Status = upd.Status
	job.Message = upd.Message
	if upd.Progress > job.Progress {
		job.Progress = upd.Progress
	}
	if upd.Result != nil {
		job.Result = upd.Result
	}
	if upd.Error != "" {
		job.Error = upd.Error
	}
}

// Get returns a snapshot of a job. ok is false when the id is unknown or
// already evicted; HTTP callers translate that into a not_found body
// rather than an error, since absence is a routine condition.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Len reports the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// EvictOlderThan removes every job created more than age ago, regardless
// of status, and returns how many were dropped. Active jobs go too: their
// runner's later updates become no-ops, which bounds memory even when a
// client abandons a job mid-flight.
func (s *Store) EvictOlderThan(age time.Duration) int {
	cutoff := s.now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs the eviction sweep every interval until Stop is called.
func (s *Store) StartSweeper(interval, retention time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if n := s.EvictOlderThan(retention); n > 0 {
					logger.Debugf("🧹 Evicted %d expired job(s)", n)
				}
			}
		}
	}()

	logger.Infof("🧹 Job sweeper started (every %v, retention %v)", interval, retention)
}

// Stop halts the sweeper goroutine.
func (s *Store) Stop() {
	close(s.stop)
	s.wg.Wait()
}
