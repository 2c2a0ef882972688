package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/subwave/internal/client/apprise"
	"github.com/subwave/internal/engine"
	"github.com/subwave/internal/srt"
	"github.com/subwave/internal/store"
	"github.com/subwave/pkg/logger"
)

// Request is everything one job needs: where the uploaded audio landed and
// the caller's knobs, already validated by the transport layer.
type Request struct {
	TaskID       string
	AudioPath    string
	ModelSize    string
	Language     string
	WordsPerLine int
}

// Runner drives a job from queued to a terminal state, publishing each
// phase into the store.
type Runner struct {
	store   *store.Store
	cache   *engine.Cache
	limiter *rate.Limiter
	apprise *apprise.Client
}

// New creates a runner. rateLimitRPM > 0 throttles engine invocations;
// appriseClient may be nil when notifications are disabled.
func New(s *store.Store, cache *engine.Cache, rateLimitRPM int, appriseClient *apprise.Client) *Runner {
	r := &Runner{
		store:   s,
		cache:   cache,
		apprise: appriseClient,
	}

	if rateLimitRPM > 0 {
		rps := float64(rateLimitRPM) / 60.0
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		logger.Infof("🚦 Engine rate limit: %d RPM", rateLimitRPM)
	}

	return r
}

// Start launches the job in its own goroutine and returns immediately.
// The caller already holds the task id; everything after this point is
// observed through the store.
func (r *Runner) Start(req Request) {
	go r.run(context.Background(), req)
}

// run executes the pipeline. Nothing here is retried: transcription is
// expensive, and a deterministic failure (bad codec, corrupt upload)
// would fail the same way again. Resubmitting is the caller's decision.
func (r *Runner) run(ctx context.Context, req Request) {
	start := time.Now()
	defer r.cleanup(req.AudioPath)

	r.store.Update(req.TaskID, store.Update{
		Status:   store.StatusLoadingModel,
		Progress: 20,
		Message:  fmt.Sprintf("Loading model %s...", req.ModelSize),
	})

	model, err := r.cache.Get(ctx, req.ModelSize)
	if err != nil {
		r.fail(req.TaskID, fmt.Errorf("load model: %w", err))
		return
	}

	r.store.Update(req.TaskID, store.Update{
		Status:   store.StatusTranscribing,
		Progress: 40,
		Message:  "Transcribing audio...",
	})

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.fail(req.TaskID, fmt.Errorf("rate limit: %w", err))
			return
		}
	}

	result, err := model.Transcribe(ctx, req.AudioPath, engine.Options{Language: req.Language})
	if err != nil {
		r.fail(req.TaskID, fmt.Errorf("transcribe: %w", err))
		return
	}

	r.store.Update(req.TaskID, store.Update{
		Status:   store.StatusGeneratingOutput,
		Progress: 80,
		Message:  "Generating subtitles...",
	})

	subtitleText, _ := srt.Generate(result.Segments, req.WordsPerLine)

	r.store.Update(req.TaskID, store.Update{
		Status:   store.StatusCompleted,
		Progress: 100,
		Message:  "Transcription completed",
		Result: &store.Result{
			SubtitleText:     subtitleText,
			SegmentsCount:    len(result.Segments),
			DetectedLanguage: result.Language,
		},
	})

	elapsed := time.Since(start).Round(time.Second)
	logger.Infof("✅ Job completed: %s (%d segments, %v)", req.TaskID, len(result.Segments), elapsed)

	if r.apprise != nil {
		body := fmt.Sprintf("Job %s: %d segments in %v", req.TaskID, len(result.Segments), elapsed)
		if err := r.apprise.NotifySuccess("Transcription completed", body); err != nil {
			logger.Warnf("⚠️ Notification failed: %v", err)
		}
	}
}

// fail records the terminal failed state. The submitting request already
// got its 200, so this is the only place the error surfaces.
func (r *Runner) fail(taskID string, err error) {
	logger.Errorf("❌ Job %s failed: %v", taskID, err)

	r.store.Update(taskID, store.Update{
		Status:  store.StatusFailed,
		Message: fmt.Sprintf("Error: %v", err),
		Error:   err.Error(),
	})

	if r.apprise != nil {
		if nerr := r.apprise.NotifyError("Transcription failed", fmt.Sprintf("Job %s: %v", taskID, err)); nerr != nil {
			logger.Warnf("⚠️ Notification failed: %v", nerr)
		}
	}
}

// cleanup removes the temp audio upload once the job is terminal.
func (r *Runner) cleanup(audioPath string) {
	if audioPath == "" {
		return
	}
	if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
		logger.Warnf("⚠️ Failed to remove temp audio %s: %v", audioPath, err)
	}
}
