package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/subwave/internal/config"
	"github.com/subwave/pkg/logger"
)

// Remote talks to an OpenAI-compatible transcription API. The server owns
// model loading, so Load just binds the model id to a handle.
type Remote struct {
	cfg    config.EngineConfig
	client *resty.Client
}

// NewRemote creates the remote API engine.
func NewRemote(cfg config.EngineConfig) *Remote {
	client := resty.New().
		SetTimeout(30 * time.Minute).
		SetRetryCount(0) // transcription is expensive; resubmission is the caller's call

	return &Remote{
		cfg:    cfg,
		client: client,
	}
}

// Load returns a handle bound to modelID. The remote server loads lazily
// on first transcription.
func (e *Remote) Load(_ context.Context, modelID string) (Model, error) {
	return &remoteModel{engine: e, modelID: modelID}, nil
}

type remoteModel struct {
	engine  *Remote
	modelID string
}

// Transcribe uploads the audio and asks for verbose JSON with word-level
// timestamps, which decodes straight into Result.
func (m *remoteModel) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	logger.Infof("🎤 Transcribing (remote API): %s", filepath.Base(audioPath))

	form := map[string]string{
		"model":                     m.modelID,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	}
	if !autoLanguage(opts.Language) {
		form["language"] = opts.Language
	}

	var result Result
	url := fmt.Sprintf("%s/v1/audio/transcriptions", m.engine.cfg.BaseURL)

	req := m.engine.client.R().
		SetContext(ctx).
		SetFile("file", audioPath).
		SetFormData(form).
		SetResult(&result)
	if m.engine.cfg.APIKey != "" {
		req.SetAuthToken(m.engine.cfg.APIKey)
	}

	resp, err := req.Post(url)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("transcription api error (%d): %s", resp.StatusCode(), resp.String())
	}
	if len(result.Segments) == 0 {
		return nil, fmt.Errorf("transcription api returned no segments")
	}

	logger.Infof("✅ Transcription complete: %d segment(s), language=%s",
		len(result.Segments), result.Language)
	return &result, nil
}
