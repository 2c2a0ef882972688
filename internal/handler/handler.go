package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/subwave/internal/config"
	"github.com/subwave/internal/fileops"
	"github.com/subwave/internal/runner"
	"github.com/subwave/internal/store"
	"github.com/subwave/internal/version"
	"github.com/subwave/pkg/logger"
)

// Handler handles HTTP requests.
type Handler struct {
	store     *store.Store
	runner    *runner.Runner
	cfg       *config.Config
	uploadDir string
}

// New creates a new Handler. uploadDir is where multipart audio is staged
// until the job's runner reclaims it.
func New(s *store.Store, r *runner.Runner, cfg *config.Config, uploadDir string) *Handler {
	return &Handler{
		store:     s,
		runner:    r,
		cfg:       cfg,
		uploadDir: uploadDir,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/version", h.Version)

	r.POST("/transcribe", h.Transcribe)
	r.GET("/progress/:task_id", h.Progress)
	r.GET("/download/:task_id", h.Download)
}

// Health returns service health status.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Version returns service version.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": version.Version})
}

// Transcribe accepts a multipart audio upload, registers the job and kicks
// off the runner. It answers as soon as the job is registered; all of the
// actual work is observed through /progress.
func (h *Handler) Transcribe(c *gin.Context) {
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}

	wordsPerLine := h.cfg.Transcribe.WordsPerLine
	if raw := c.PostForm("words_per_line"); raw != "" {
		wordsPerLine, err = strconv.Atoi(raw)
		if err != nil || wordsPerLine <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "words_per_line must be a positive integer"})
			return
		}
	}

	modelSize := c.PostForm("model_size")
	if modelSize == "" {
		modelSize = h.cfg.Engine.DefaultModel
	}

	language := c.PostForm("language")
	if language == "" {
		language = h.cfg.Transcribe.Language
	}

	taskID := c.PostForm("task_id")
	if taskID == "" {
		taskID = uuid.New().String()
	}

	// Staged under a fresh name, not the task id: a duplicate submission
	// must not clobber a running job's audio.
	audioPath := filepath.Join(h.uploadDir, uuid.New().String()+fileops.SafeExtension(file.Filename))
	if err := c.SaveUploadedFile(file, audioPath); err != nil {
		logger.Errorf("❌ Failed to stage upload: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store audio"})
		return
	}

	if _, err := h.store.Create(taskID); err != nil {
		_ = fileops.Remove(audioPath)
		if errors.Is(err, store.ErrDuplicateJob) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "task_id already in use"})
			return
		}
		logger.Errorf("❌ Failed to register job: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register job"})
		return
	}

	logger.Infof("📥 Job accepted: %s (%s, model=%s, words_per_line=%d)",
		taskID, file.Filename, modelSize, wordsPerLine)

	h.runner.Start(runner.Request{
		TaskID:       taskID,
		AudioPath:    audioPath,
		ModelSize:    modelSize,
		Language:     language,
		WordsPerLine: wordsPerLine,
	})

	c.JSON(http.StatusOK, gin.H{
		"status":  "started",
		"task_id": taskID,
	})
}

// Progress reports the current state of a job. Always 200: an unknown or
// evicted id is routine data for a poller, not a transport error.
func (h *Handler) Progress(c *gin.Context) {
	taskID := c.Param("task_id")

	job, ok := h.store.Get(taskID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"status":   store.StatusNotFound,
			"progress": 0,
			"message":  "Task not found",
		})
		return
	}

	resp := gin.H{
		"status":   job.Status,
		"progress": job.Progress,
		"message":  job.Message,
	}
	if job.Status == store.StatusCompleted && job.Result != nil {
		resp["result"] = job.Result.SubtitleText
		resp["segments_count"] = job.Result.SegmentsCount
		resp["detected_language"] = job.Result.DetectedLanguage
	}
	if job.Status == store.StatusFailed {
		resp["error"] = job.Error
	}

	c.JSON(http.StatusOK, resp)
}

// Download serves a completed job's subtitle as an .srt attachment.
func (h *Handler) Download(c *gin.Context) {
	taskID := c.Param("task_id")

	job, ok := h.store.Get(taskID)
	if !ok || job.Status != store.StatusCompleted || job.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subtitle not available"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.srt"`, taskID))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(job.Result.SubtitleText))
}
