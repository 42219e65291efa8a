package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/stillcast/internal/job"
	"github.com/maauso/stillcast/internal/media"
	"github.com/maauso/stillcast/internal/storage"
)

// mockAssembler implements job.Assembler for testing.
type mockAssembler struct {
	mock.Mock
}

func (m *mockAssembler) Assemble(ctx context.Context, j media.Job) (media.Handle, media.Plan, error) {
	args := m.Called(ctx, j)
	h, _ := args.Get(0).(media.Handle)
	return h, args.Get(1).(media.Plan), args.Error(2)
}

// replayHandle emits its script and, without a terminal event in it, waits
// for the run context and reports cancellation.
type replayHandle struct {
	script []media.Event
	events chan media.Event
}

func newReplayHandle(script ...media.Event) *replayHandle {
	return &replayHandle{script: script, events: make(chan media.Event)}
}

func (h *replayHandle) run(ctx context.Context) {
	defer close(h.events)
	for _, ev := range h.script {
		h.events <- ev
		if ev.IsTerminal() {
			return
		}
	}
	<-ctx.Done()
	h.events <- media.Event{Kind: media.EventTerminal, Outcome: media.OutcomeCancelled, Err: media.ErrCancelled}
}

func (h *replayHandle) Events() <-chan media.Event { return h.events }
func (h *replayHandle) Cancel()                    {}

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	mp3Bytes = append([]byte("ID3\x03\x00\x00"), make([]byte, 32)...)
)

type testEnv struct {
	handlers *Handlers
	service  *job.RenderService
	repo     *job.MemoryRepository
	asm      *mockAssembler
	image    string
	audio    string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, opts ...HandlerOption) *testEnv {
	t.Helper()
	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "staging"))
	require.NoError(t, err)

	dir := t.TempDir()
	image := filepath.Join(dir, "cover.png")
	audio := filepath.Join(dir, "voice.mp3")
	require.NoError(t, os.WriteFile(image, pngBytes, 0o600))
	require.NoError(t, os.WriteFile(audio, mp3Bytes, 0o600))

	repo := job.NewMemoryRepository()
	asm := new(mockAssembler)
	svc := job.NewRenderService(repo, asm, store, testLogger(), job.WithMediaRoot(dir))

	// Disable async processing by default so tests drive the service directly.
	opts = append([]HandlerOption{WithAsyncProcessing(false)}, opts...)
	return &testEnv{
		handlers: NewHandlers(svc, testLogger(), opts...),
		service:  svc,
		repo:     repo,
		asm:      asm,
		image:    image,
		audio:    audio,
	}
}

func (e *testEnv) router() http.Handler {
	return NewRouter(e.handlers, testLogger(), DefaultConfig())
}

func (e *testEnv) expectRun(h *replayHandle, total float64) {
	e.asm.On("Assemble", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			go h.run(args.Get(0).(context.Context))
		}).
		Return(h, media.Plan{Total: total}, nil).
		Once()
}

func (e *testEnv) createJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := e.service.CreateJob(context.Background(), job.RenderInput{
		ImagePaths: []string{e.image},
		AudioPath:  e.audio,
	})
	require.NoError(t, err)
	return j
}

func (e *testEnv) fetch(t *testing.T, id string) *job.Job {
	t.Helper()
	j, err := e.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return j
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, WithFFmpegVersion("ffmpeg version 7.0"))

	rec := get(env.router(), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ffmpeg version 7.0", resp.FFmpeg)
}

func TestCreateJob_WithPaths(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router(), "/jobs", CreateJobRequest{
		ImagePaths: []string{env.image, env.image},
		AudioPath:  env.audio,
		Resolution: "1280x720",
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[CreateJobResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "IN_QUEUE", resp.Status)

	saved := env.fetch(t, resp.ID)
	assert.Equal(t, []string{env.image, env.image}, saved.ImagePaths)
	assert.Equal(t, "1280x720", saved.Resolution)
	env.asm.AssertNotCalled(t, "Assemble", mock.Anything, mock.Anything)
}

func TestCreateJob_WithBase64(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router(), "/jobs", CreateJobRequest{
		ImagesBase64: []string{base64.StdEncoding.EncodeToString(pngBytes)},
		AudioBase64:  base64.StdEncoding.EncodeToString(mp3Bytes),
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	saved := env.fetch(t, decode[CreateJobResponse](t, rec).ID)
	require.Len(t, saved.ImagePaths, 1)
	assert.Equal(t, ".png", filepath.Ext(saved.ImagePaths[0]))
	assert.FileExists(t, saved.AudioPath)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("invalid json")))
	rec := httptest.NewRecorder()
	env.handlers.CreateJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decode[ErrorResponse](t, rec).Code)
}

func TestCreateJob_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	b64 := base64.StdEncoding.EncodeToString(pngBytes)

	tests := []struct {
		name    string
		req     CreateJobRequest
		message string
	}{
		{
			name:    "no images",
			req:     CreateJobRequest{AudioPath: env.audio},
			message: "one_image_source",
		},
		{
			name:    "both image sources",
			req:     CreateJobRequest{ImagePaths: []string{env.image}, ImagesBase64: []string{b64}, AudioPath: env.audio},
			message: "one_image_source",
		},
		{
			name:    "no audio",
			req:     CreateJobRequest{ImagePaths: []string{env.image}},
			message: "one_audio_source",
		},
		{
			name:    "both audio sources",
			req:     CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: env.audio, AudioBase64: b64},
			message: "one_audio_source",
		},
		{
			name:    "empty image path",
			req:     CreateJobRequest{ImagePaths: []string{env.image, ""}, AudioPath: env.audio},
			message: "required",
		},
		{
			name:    "bad resolution",
			req:     CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: env.audio, Resolution: "wide"},
			message: "resolution",
		},
		{
			name:    "zero resolution",
			req:     CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: env.audio, Resolution: "0x720"},
			message: "resolution",
		},
		{
			name:    "unsupported output container",
			req:     CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: env.audio, OutputPath: "/tmp/out.gif"},
			message: "OutputPath",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, env.router(), "/jobs", tt.req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
			assert.Contains(t, resp.Error, tt.message)
		})
	}

	jobs, err := env.service.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCreateJob_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  CreateJobRequest
	}{
		{
			name: "missing image file",
			req:  CreateJobRequest{ImagePaths: []string{filepath.Join(t.TempDir(), "gone.png")}, AudioPath: env.audio},
		},
		{
			name: "undecodable base64",
			req:  CreateJobRequest{ImagesBase64: []string{"!!not base64!!"}, AudioPath: env.audio},
		},
		{
			name: "base64 that is not an image",
			req:  CreateJobRequest{ImagesBase64: []string{base64.StdEncoding.EncodeToString([]byte("plain text"))}, AudioPath: env.audio},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, env.router(), "/jobs", tt.req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_INPUT", decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCreateJob_PathsOutsideMediaRoot(t *testing.T) {
	env := newTestEnv(t)
	outside := t.TempDir()
	foreign := filepath.Join(outside, "secret.mp3")
	require.NoError(t, os.WriteFile(foreign, mp3Bytes, 0o600))
	target := filepath.Join(outside, "intro.mp4")
	require.NoError(t, os.WriteFile(target, []byte("keep me"), 0o600))

	tests := []struct {
		name string
		req  CreateJobRequest
	}{
		{
			name: "absolute audio outside",
			req:  CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: foreign},
		},
		{
			name: "dot-dot image escape",
			req:  CreateJobRequest{ImagePaths: []string{"../../../../../../../../etc/passwd"}, AudioPath: env.audio},
		},
		{
			name: "absolute output outside",
			req:  CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: env.audio, OutputPath: target},
		},
		{
			name: "dot-dot output escape",
			req:  CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: env.audio, OutputPath: "../intro.mp4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, env.router(), "/jobs", tt.req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "INVALID_INPUT", resp.Code)
		})
	}

	jobs, err := env.service.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestCreateJob_OutputInsideMediaRoot(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router(), "/jobs", CreateJobRequest{
		ImagePaths: []string{"cover.png"},
		AudioPath:  env.audio,
		OutputPath: "renders/../intro.mp4",
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	saved := env.fetch(t, decode[CreateJobResponse](t, rec).ID)
	assert.Equal(t, []string{env.image}, saved.ImagePaths)
	assert.Equal(t, filepath.Join(filepath.Dir(env.image), "intro.mp4"), saved.OutputPath)
}

func TestCreateJob_AsyncProcessing(t *testing.T) {
	env := newTestEnv(t, WithAsyncProcessing(true))
	env.expectRun(newReplayHandle(
		media.Event{Kind: media.EventProgress, Elapsed: 5, Percent: 50},
		media.Event{Kind: media.EventTerminal, Outcome: media.OutcomeSucceeded},
	), 10)
	router := env.router()

	rec := postJSON(t, router, "/jobs", CreateJobRequest{ImagePaths: []string{env.image}, AudioPath: env.audio})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[CreateJobResponse](t, rec).ID

	require.Eventually(t, func() bool {
		return env.fetch(t, id).Status == job.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	resp := decode[JobResponse](t, get(router, "/jobs/"+id))
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.InDelta(t, 10, resp.Duration, 1e-9)
	assert.NotNil(t, resp.StartedAt)
	assert.NotNil(t, resp.CompletedAt)

	require.NoError(t, env.service.Shutdown(context.Background()))
	env.asm.AssertExpectations(t)
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t)

	rec := get(env.router(), "/jobs/"+created.ID)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[JobResponse](t, rec)
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, "IN_QUEUE", resp.Status)
	assert.Equal(t, 1, resp.Images)
	assert.Zero(t, resp.Progress)
	assert.Nil(t, resp.StartedAt)
}

func TestGetJob_Failed(t *testing.T) {
	env := newTestEnv(t)
	j := job.NewWithID("job-failed")
	require.NoError(t, j.Start())
	require.NoError(t, j.Fail("ffmpeg exited with code 1", []string{"Error opening input file", "Conversion failed!"}))
	require.NoError(t, env.repo.Save(context.Background(), j))

	resp := decode[JobResponse](t, get(env.router(), "/jobs/job-failed"))

	assert.Equal(t, "FAILED", resp.Status)
	assert.Equal(t, "ffmpeg exited with code 1", resp.Error)
	assert.Equal(t, []string{"Error opening input file", "Conversion failed!"}, resp.ErrorLines)
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := get(env.router(), "/jobs/nonexistent")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func TestGetJob_MissingID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()
	env.handlers.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decode[ErrorResponse](t, rec).Code)
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)

	resp := decode[ListJobsResponse](t, get(env.router(), "/jobs"))
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Jobs)

	first := env.createJob(t)
	second := env.createJob(t)

	resp = decode[ListJobsResponse](t, get(env.router(), "/jobs"))
	require.Equal(t, 2, resp.Count)
	ids := []string{resp.Jobs[0].ID, resp.Jobs[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestCancelJob_Queued(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t)
	router := env.router()

	rec := postJSON(t, router, "/jobs/"+created.ID+"/cancel", nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "CANCELLED", decode[CreateJobResponse](t, rec).Status)
	assert.Equal(t, job.StatusCancelled, env.fetch(t, created.ID).Status)

	rec = postJSON(t, router, "/jobs/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_ACTIVE", decode[ErrorResponse](t, rec).Code)
}

func TestCancelJob_Running(t *testing.T) {
	env := newTestEnv(t)
	env.expectRun(newReplayHandle(
		media.Event{Kind: media.EventProgress, Elapsed: 1, Percent: 10},
	), 10)
	created := env.createJob(t)

	done := make(chan error, 1)
	go func() { done <- env.service.ProcessExistingJob(context.Background(), created.ID) }()

	require.Eventually(t, func() bool {
		return env.fetch(t, created.ID).Progress == 10
	}, 5*time.Second, 10*time.Millisecond)

	rec := postJSON(t, env.router(), "/jobs/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "CANCELLING", decode[CreateJobResponse](t, rec).Status)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("render did not stop after cancel")
	}
	assert.Equal(t, job.StatusCancelled, env.fetch(t, created.ID).Status)
}

func TestCancelJob_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := postJSON(t, env.router(), "/jobs/nonexistent/cancel", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func completedJob(t *testing.T, env *testEnv, id, videoURL string) string {
	t.Helper()
	output := filepath.Join(t.TempDir(), id+".mp4")
	require.NoError(t, os.WriteFile(output, []byte("fake mp4 payload"), 0o600))

	j := job.NewWithID(id)
	j.OutputPath = output
	require.NoError(t, j.Start())
	require.NoError(t, j.Complete(videoURL))
	require.NoError(t, env.repo.Save(context.Background(), j))
	return output
}

func deleteReq(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)
	output := completedJob(t, env, "job-done", "")
	router := env.router()

	rec := deleteReq(router, "/jobs/job-done")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.FileExists(t, output, "outputs outside the staging dir are kept")

	assert.Equal(t, http.StatusNotFound, get(router, "/jobs/job-done").Code)

	rec = deleteReq(router, "/jobs/job-done")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func TestDeleteJob_Active(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t)

	rec := deleteReq(env.router(), "/jobs/"+created.ID)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_ACTIVE", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, job.StatusInQueue, env.fetch(t, created.ID).Status)
}

func TestGetVideo_Local(t *testing.T) {
	env := newTestEnv(t)
	completedJob(t, env, "job-local", "")

	rec := get(env.router(), "/jobs/job-local/video")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "fake mp4 payload", rec.Body.String())
}

func TestGetVideo_RedirectsToS3(t *testing.T) {
	env := newTestEnv(t)
	url := "https://renders.s3.us-east-1.amazonaws.com/renders/job-s3.mp4"
	completedJob(t, env, "job-s3", url)

	rec := get(env.router(), "/jobs/job-s3/video")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, url, rec.Header().Get("Location"))
}

func TestGetVideo_Gone(t *testing.T) {
	env := newTestEnv(t)
	output := completedJob(t, env, "job-gone", "")
	require.NoError(t, os.Remove(output))

	rec := get(env.router(), "/jobs/job-gone/video")

	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "VIDEO_GONE", decode[ErrorResponse](t, rec).Code)
}

func TestGetVideo_NotCompleted(t *testing.T) {
	env := newTestEnv(t)
	created := env.createJob(t)

	rec := get(env.router(), "/jobs/"+created.ID+"/video")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_COMPLETED", decode[ErrorResponse](t, rec).Code)
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t)

	rec := get(env.router(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stillcast_active_renders")

	noMetrics := NewRouter(env.handlers, testLogger(), Config{AllowedOrigins: []string{"*"}})
	assert.Equal(t, http.StatusNotFound, get(noMetrics, "/metrics").Code)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := deleteReq(env.router(), "/jobs")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)
	router := NewRouter(env.handlers, testLogger(), Config{AllowedOrigins: []string{"https://studio.example"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://studio.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://studio.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://studio.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "caller-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-42", seen)
	assert.Equal(t, "caller-42", rec.Header().Get(RequestIDHeader))
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, requestLevel("/jobs", http.StatusInternalServerError))
	assert.Equal(t, slog.LevelWarn, requestLevel("/jobs/x", http.StatusNotFound))
	assert.Equal(t, slog.LevelWarn, requestLevel("/health", http.StatusTooManyRequests))
	assert.Equal(t, slog.LevelDebug, requestLevel("/health", http.StatusOK))
	assert.Equal(t, slog.LevelDebug, requestLevel("/metrics", http.StatusOK))
	assert.Equal(t, slog.LevelInfo, requestLevel("/jobs", http.StatusAccepted))
}

func TestLoggingMiddleware_RecordsStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, 5, entry["bytes"])
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})
	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode[ErrorResponse](t, rec).Code)
}
