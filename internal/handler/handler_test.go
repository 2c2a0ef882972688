package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/subwave/internal/config"
	"github.com/subwave/internal/engine"
	"github.com/subwave/internal/runner"
	"github.com/subwave/internal/srt"
	"github.com/subwave/internal/store"
	"github.com/subwave/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(true)
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubEngine struct{}

func (e *stubEngine) Load(ctx context.Context, modelID string) (engine.Model, error) {
	return e, nil
}

func (e *stubEngine) Transcribe(ctx context.Context, audioPath string, opts engine.Options) (*engine.Result, error) {
	return &engine.Result{
		Language: "en",
		Segments: []srt.Segment{{Words: []srt.Word{
			{Text: "hello", Start: 0.0, End: 0.4},
			{Text: "there", Start: 0.5, End: 0.9},
			{Text: "world", Start: 1.0, End: 1.4},
		}}},
	}, nil
}

func newTestServer(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Engine.DefaultModel = "base"
	cfg.Transcribe.WordsPerLine = 5
	cfg.Transcribe.Language = "auto"

	s := store.New()
	r := runner.New(s, engine.NewCache(&stubEngine{}, true), 0, nil)

	router := gin.New()
	New(s, r, cfg, t.TempDir()).RegisterRoutes(router)
	return router, s
}

func multipartBody(t *testing.T, fields map[string]string, withAudio bool) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if withAudio {
		part, err := w.CreateFormFile("audio", "clip.wav")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte("RIFF....WAVE")); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func doJSON(t *testing.T, router *gin.Engine, req *http.Request) (int, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)

	code, body := doJSON(t, router, httptest.NewRequest("GET", "/health", nil))
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}
}

func TestTranscribeMissingAudio(t *testing.T) {
	router, s := newTestServer(t)

	buf, ctype := multipartBody(t, map[string]string{"words_per_line": "3"}, false)
	req := httptest.NewRequest("POST", "/transcribe", buf)
	req.Header.Set("Content-Type", ctype)

	code, _ := doJSON(t, router, req)
	if code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", code)
	}
	if s.Len() != 0 {
		t.Fatal("rejected request created a job")
	}
}

func TestTranscribeRejectsBadWordsPerLine(t *testing.T) {
	router, s := newTestServer(t)

	for _, bad := range []string{"0", "-2", "five"} {
		buf, ctype := multipartBody(t, map[string]string{"words_per_line": bad}, true)
		req := httptest.NewRequest("POST", "/transcribe", buf)
		req.Header.Set("Content-Type", ctype)

		code, _ := doJSON(t, router, req)
		if code != http.StatusBadRequest {
			t.Errorf("words_per_line=%q: code = %d, want 400", bad, code)
		}
	}
	if s.Len() != 0 {
		t.Fatal("rejected request created a job")
	}
}

func pollUntil(t *testing.T, router *gin.Engine, taskID string, status string) map[string]any {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		code, body := doJSON(t, router, httptest.NewRequest("GET", "/progress/"+taskID, nil))
		if code != http.StatusOK {
			t.Fatalf("progress returned %d", code)
		}
		if body["status"] == status {
			return body
		}
		if body["status"] == string(store.StatusFailed) && status != string(store.StatusFailed) {
			t.Fatalf("job failed: %v", body)
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached %s (last: %v)", status, body)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestTranscribeLifecycle(t *testing.T) {
	router, _ := newTestServer(t)

	buf, ctype := multipartBody(t, map[string]string{
		"words_per_line": "2",
		"task_id":        "lifecycle-1",
		"language":       "auto",
	}, true)
	req := httptest.NewRequest("POST", "/transcribe", buf)
	req.Header.Set("Content-Type", ctype)

	code, body := doJSON(t, router, req)
	if code != http.StatusOK {
		t.Fatalf("submit = %d %v", code, body)
	}
	if body["status"] != "started" || body["task_id"] != "lifecycle-1" {
		t.Fatalf("submit body = %v", body)
	}

	done := pollUntil(t, router, "lifecycle-1", string(store.StatusCompleted))
	if done["progress"].(float64) != 100 {
		t.Errorf("progress = %v, want 100", done["progress"])
	}
	if done["detected_language"] != "en" {
		t.Errorf("detected_language = %v", done["detected_language"])
	}
	if done["segments_count"].(float64) != 1 {
		t.Errorf("segments_count = %v", done["segments_count"])
	}
	result, _ := done["result"].(string)
	want := "1\n00:00:00,000 --> 00:00:00,900\nhello there\n\n" +
		"2\n00:00:01,000 --> 00:00:01,400\nworld\n\n"
	if result != want {
		t.Errorf("result = %q, want %q", result, want)
	}
}

func TestTranscribeDuplicateTaskID(t *testing.T) {
	router, _ := newTestServer(t)

	for i, wantCode := range []int{http.StatusOK, http.StatusBadRequest} {
		buf, ctype := multipartBody(t, map[string]string{"task_id": "dup-1"}, true)
		req := httptest.NewRequest("POST", "/transcribe", buf)
		req.Header.Set("Content-Type", ctype)

		code, _ := doJSON(t, router, req)
		if code != wantCode {
			t.Fatalf("submit %d = %d, want %d", i, code, wantCode)
		}
	}
}

func TestProgressUnknownTask(t *testing.T) {
	router, _ := newTestServer(t)

	code, body := doJSON(t, router, httptest.NewRequest("GET", "/progress/nope", nil))
	if code != http.StatusOK {
		t.Fatalf("code = %d, want 200 (absence is data)", code)
	}
	if body["status"] != string(store.StatusNotFound) {
		t.Errorf("status = %v, want not_found", body["status"])
	}
	if body["progress"].(float64) != 0 {
		t.Errorf("progress = %v, want 0", body["progress"])
	}
}

func TestProgressAfterEviction(t *testing.T) {
	router, s := newTestServer(t)

	s.Create("stale-1")
	s.EvictOlderThan(0)

	code, body := doJSON(t, router, httptest.NewRequest("GET", "/progress/stale-1", nil))
	if code != http.StatusOK || body["status"] != string(store.StatusNotFound) {
		t.Fatalf("evicted poll = %d %v, want 200 not_found", code, body)
	}
}

func TestDownload(t *testing.T) {
	router, s := newTestServer(t)

	// Not there yet
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/download/dl-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("download before completion = %d, want 404", rec.Code)
	}

	s.Create("dl-1")
	s.Update("dl-1", store.Update{
		Status:   store.StatusCompleted,
		Progress: 100,
		Result:   &store.Result{SubtitleText: "1\n00:00:00,000 --> 00:00:00,500\nhi\n\n", SegmentsCount: 1, DetectedLanguage: "en"},
	})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/download/dl-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download = %d, want 200", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="dl-1.srt"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("00:00:00,000 --> 00:00:00,500")) {
		t.Errorf("body = %q", rec.Body.String())
	}
}
