package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/subwave/internal/config"
	"github.com/subwave/pkg/logger"
)

const defaultScript = "/app/scripts/transcribe.py"

// Local runs transcription through a faster-whisper helper script. Load
// warms the model once so later transcriptions skip the download/compile
// cost; the helper prints verbose JSON with word timestamps on stdout.
type Local struct {
	script string
}

// NewLocal creates the local exec-based engine.
func NewLocal(cfg config.EngineConfig) *Local {
	script := cfg.Script
	if script == "" {
		script = defaultScript
	}
	return &Local{script: script}
}

// Load warms a model by invoking the helper with --preload. This is the
// slow path the cache serializes per model id.
func (e *Local) Load(ctx context.Context, modelID string) (Model, error) {
	logger.Infof("📥 Loading model: %s", modelID)

	args := []string{e.script, "--preload", "--model", modelID}
	logger.Debugf("  Command: python3 %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "python3", args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("load model %s: %w\nStderr: %s", modelID, err, stderrBuf.String())
	}

	logger.Infof("✅ Model loaded: %s", modelID)
	return &localModel{script: e.script, modelID: modelID}, nil
}

type localModel struct {
	script  string
	modelID string
}

// Transcribe shells out to the helper and decodes its JSON transcript.
func (m *localModel) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	args := []string{
		m.script,
		audioPath,
		"--model", m.modelID,
		"--word-timestamps",
		"--json",
	}
	if !autoLanguage(opts.Language) {
		args = append(args, "--language", opts.Language)
	}

	logger.Infof("🎤 Transcribing (faster-whisper): %s", filepath.Base(audioPath))
	logger.Debugf("  Command: python3 %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "python3", args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf

	var wg sync.WaitGroup
	wg.Add(1)
	go streamDimmed(&wg, stderrPipe, &stderrBuf)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start transcription: %w", err)
	}

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("transcription failed: %w\nStderr: %s", err, stderrBuf.String())
	}

	// The script may exit 0 but still report a failure
	stderrStr := stderrBuf.String()
	if strings.Contains(stderrStr, "Error:") || strings.Contains(stderrStr, "Traceback") {
		return nil, fmt.Errorf("transcription reported errors:\n%s", stderrStr)
	}

	var result Result
	if err := json.Unmarshal(stdoutBuf.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if len(result.Segments) == 0 {
		return nil, fmt.Errorf("transcript has no segments (transcription failed)\nStderr: %s", stderrStr)
	}

	logger.Infof("✅ Transcription complete: %d segment(s), language=%s",
		len(result.Segments), result.Language)
	return &result, nil
}

const (
	dimStart = "\033[2m"
	dimEnd   = "\033[0m"
)

// streamDimmed reads from r, writes to buf for capture, and prints dimmed to stderr.
// This creates a Docker-build-like experience where script output is visible but greyed out.
func streamDimmed(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	// Increase buffer for potentially long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		// Print dimmed to stderr (doesn't interfere with structured logs)
		fmt.Fprintf(os.Stderr, "%s  │ %s%s\n", dimStart, line, dimEnd)
	}

	if err := scanner.Err(); err != nil {
		logger.Debugf("Scanner error (may be normal): %v", err)
	}
}
