package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/subwave/internal/config"
	"github.com/subwave/internal/srt"
)

// Options tunes a single transcription call.
type Options struct {
	// Language is an ISO hint; empty or "auto" lets the engine detect.
	Language string
}

// Result is what the inference engine hands back: the detected (or
// confirmed) language plus segments carrying word-level timing.
type Result struct {
	Language string        `json:"language"`
	Segments []srt.Segment `json:"segments"`
}

// Model is a ready-to-use inference handle for one model identifier.
type Model interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
}

// Engine loads models. Load may block for a long time on first use of a
// model id; the Cache makes sure that only happens once per id.
type Engine interface {
	Load(ctx context.Context, modelID string) (Model, error)
}

// New selects an engine provider from config.
func New(cfg config.EngineConfig) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "local":
		return NewLocal(cfg), nil
	case "remote":
		return NewRemote(cfg), nil
	default:
		return nil, fmt.Errorf("unknown engine provider: %q", cfg.Provider)
	}
}

// autoLanguage reports whether a language value means "detect".
func autoLanguage(lang string) bool {
	return lang == "" || strings.EqualFold(lang, "auto")
}
