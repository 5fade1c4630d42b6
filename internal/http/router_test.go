package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clearcut/internal/adapter/repo"
	"clearcut/internal/domain"
	"clearcut/internal/http/handlers"
	"clearcut/internal/infra"
	"clearcut/internal/processing"
	"clearcut/internal/queue"
	"clearcut/internal/service"
	"clearcut/internal/storage"
	"clearcut/internal/worker"
)

type fakeEnqueuer struct {
	messages []*queue.TaskMessage
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, msg *queue.TaskMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type env struct {
	router  http.Handler
	enq     *fakeEnqueuer
	store   domain.JobStore
	ledger  domain.CredentialLedger
	backend storage.Backend
	exec    *worker.Executor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repo.NewJobStoreMemory()
	ledger := repo.NewCredentialLedgerMemory()
	backend, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	enq := &fakeEnqueuer{}
	log := zerolog.Nop()
	cfg := &infra.Config{MaxBatchSize: 20, RetentionHours: 24}

	orch := service.NewOrchestrator(store, enq, backend, nil, log, 24*time.Hour)
	app := handlers.NewApp(orch, ledger, backend, cfg, log)

	passthrough := processing.Func(func(_ context.Context, data []byte) ([]byte, error) {
		return data, nil
	})
	procs := map[string]processing.Processor{
		queue.OpRemoveBackground: passthrough,
		queue.OpRemoveWatermark:  passthrough,
	}
	exec := worker.NewExecutor(store, backend, procs, nil, worker.NewPool(1), log)

	return &env{
		router:  NewRouter(app, RouterOptions{}),
		enq:     enq,
		store:   store,
		ledger:  ledger,
		backend: backend,
		exec:    exec,
	}
}

// drainQueue hands every enqueued message to the executor, standing in for
// the broker round trip.
func (e *env) drainQueue(t *testing.T) {
	t.Helper()
	for _, msg := range e.enq.messages {
		if err := e.exec.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	e.enq.messages = nil
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

func (e *env) do(t *testing.T, method, target, apiKey string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) *service.JobView {
	t.Helper()
	var view service.JobView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return &view
}

func TestSingleUploadLifecycle(t *testing.T) {
	e := newEnv(t)

	body, ct := multipartBody(t, "file", map[string][]byte{"cat.png": []byte("png-bytes")})
	rec := e.do(t, http.MethodPost, "/api/v1/remove-bg", "", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if view.Status != domain.StatusPending || view.TotalCount != 1 {
		t.Fatalf("initial view = %+v", view)
	}

	e.drainQueue(t)

	rec = e.do(t, http.MethodGet, "/api/v1/status/"+view.JobID, "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status query = %d", rec.Code)
	}
	done := decodeView(t, rec)
	if done.Status != domain.StatusCompleted || done.Progress != 1.0 {
		t.Fatalf("final view = %+v", done)
	}

	var imageID string
	for id := range done.Images {
		imageID = id
	}
	rec = e.do(t, http.MethodGet, done.Images[imageID].DownloadURL, "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "png-bytes" {
		t.Fatalf("downloaded bytes = %q", rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/download/"+view.JobID, "", nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("archive = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "file", map[string][]byte{"anim.gif": []byte("gif")})
	rec := e.do(t, http.MethodPost, "/api/v1/remove-bg", "", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("gif upload status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unsupported_type") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestUploadRejectsOversizeFile(t *testing.T) {
	e := newEnv(t)
	huge := bytes.Repeat([]byte("x"), int(domain.LimitsForTier(domain.TierFree).MaxFileSize)+1)
	body, ct := multipartBody(t, "file", map[string][]byte{"big.png": huge})
	rec := e.do(t, http.MethodPost, "/api/v1/remove-bg", "", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize upload status = %d, want 413", rec.Code)
	}
}

func TestBatchTierGate(t *testing.T) {
	e := newEnv(t)
	files := map[string][]byte{"a.png": []byte("a"), "b.png": []byte("b")}

	// Anonymous batches are always admitted.
	body, ct := multipartBody(t, "files", files)
	rec := e.do(t, http.MethodPost, "/api/v1/remove-bg/batch", "", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("anonymous batch = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if view := decodeView(t, rec); view.TotalCount != 2 {
		t.Fatalf("anonymous batch view = %+v", view)
	}

	// A free-tier key is rejected: its tier has no batch entitlement.
	free, err := e.ledger.Issue(context.Background(), "free@example.com", domain.TierFree)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	body, ct = multipartBody(t, "files", files)
	rec = e.do(t, http.MethodPost, "/api/v1/remove-bg/batch", free.Key, body, ct)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("free-tier batch = %d, want 403: %s", rec.Code, rec.Body.String())
	}

	pro, err := e.ledger.Issue(context.Background(), "pro@example.com", domain.TierPro)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	body, ct = multipartBody(t, "files", files)
	rec = e.do(t, http.MethodPost, "/api/v1/remove-bg/batch", pro.Key, body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pro batch = %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if view.TotalCount != 2 {
		t.Fatalf("batch view = %+v", view)
	}
}

func TestWatermarkRemovalLifecycle(t *testing.T) {
	e := newEnv(t)

	body, ct := multipartBody(t, "file", map[string][]byte{"logo.png": []byte("png-bytes")})
	rec := e.do(t, http.MethodPost, "/api/v1/remove-watermark", "", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if len(e.enq.messages) != 1 || e.enq.messages[0].Operation != queue.OpRemoveWatermark {
		t.Fatalf("enqueued = %+v", e.enq.messages)
	}

	e.drainQueue(t)

	rec = e.do(t, http.MethodGet, "/api/v1/status/"+view.JobID, "", nil, "")
	done := decodeView(t, rec)
	if done.Status != domain.StatusCompleted {
		t.Fatalf("final view = %+v", done)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/status/no-such-job", "", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "file", map[string][]byte{"cat.png": []byte("x")})
	rec := e.do(t, http.MethodPost, "/api/v1/remove-bg", "", body, ct)
	view := decodeView(t, rec)

	rec = e.do(t, http.MethodDelete, "/api/v1/jobs/"+view.JobID, "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = e.do(t, http.MethodDelete, "/api/v1/jobs/"+view.JobID, "", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", rec.Code)
	}
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "file", map[string][]byte{"cat.png": []byte("x")})
	view := decodeView(t, e.do(t, http.MethodPost, "/api/v1/remove-bg", "", body, ct))

	var imageID string
	for id := range view.Images {
		imageID = id
	}
	rec := e.do(t, http.MethodGet, "/api/v1/download/"+view.JobID+"/"+imageID, "", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("early download = %d, want 409", rec.Code)
	}
}

func TestKeyLifecycle(t *testing.T) {
	e := newEnv(t)

	payload := bytes.NewBufferString(`{"email":"dev@example.com","tier":"pro"}`)
	rec := e.do(t, http.MethodPost, "/api/v1/generate-key", "", payload, "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate = %d: %s", rec.Code, rec.Body.String())
	}
	var issued struct {
		APIKey string `json:"api_key"`
		Tier   string `json:"tier"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode issued key: %v", err)
	}
	if !strings.HasPrefix(issued.APIKey, "cc_") || issued.Tier != "pro" {
		t.Fatalf("issued = %+v", issued)
	}

	payload = bytes.NewBufferString(`{"email":"dev@example.com","tier":"free"}`)
	rec = e.do(t, http.MethodPost, "/api/v1/generate-key", "", payload, "application/json")
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate generate = %d, want 409", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/usage", issued.APIKey, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("usage = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), issued.APIKey) {
		t.Fatal("usage response leaked the full key")
	}

	rec = e.do(t, http.MethodPost, "/api/v1/rotate-key", issued.APIKey, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate = %d: %s", rec.Code, rec.Body.String())
	}
	var rotated struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode rotated key: %v", err)
	}
	if rotated.APIKey == issued.APIKey {
		t.Fatal("rotation returned the same key")
	}

	rec = e.do(t, http.MethodGet, "/api/v1/usage", issued.APIKey, nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old key usage = %d, want 401", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/revoke-key", rotated.APIKey, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke = %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/v1/usage", rotated.APIKey, nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key usage = %d, want 401", rec.Code)
	}
}

func TestAdminStats(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartBody(t, "file", map[string][]byte{"cat.png": []byte("x")})
	if rec := e.do(t, http.MethodPost, "/api/v1/remove-bg", "", body, ct); rec.Code != http.StatusAccepted {
		t.Fatalf("upload = %d", rec.Code)
	}
	e.drainQueue(t)

	rec := e.do(t, http.MethodGet, "/api/v1/admin/stats", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin stats = %d", rec.Code)
	}
	var stats struct {
		Jobs struct {
			Total     int `json:"total"`
			Completed int `json:"completed"`
		} `json:"jobs"`
		Images int `json:"images"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Jobs.Total != 1 || stats.Jobs.Completed != 1 || stats.Images != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
