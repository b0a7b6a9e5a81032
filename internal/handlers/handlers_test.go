package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/farpomon/bca-app-sub013/internal/config"
	"github.com/farpomon/bca-app-sub013/internal/models"
	"github.com/farpomon/bca-app-sub013/internal/store"
	"github.com/farpomon/bca-app-sub013/internal/sync"
	"github.com/farpomon/bca-app-sub013/internal/websocket"
)

const testSecret = "test-secret"

// unreachableAdapter simulates a node with no cloud connectivity:
// every push fails transiently so entities stay pending.
type unreachableAdapter struct{}

func (unreachableAdapter) PushAssessment(ctx context.Context, op models.Operation, a *models.OfflineAssessment) sync.Outcome {
	return sync.Outcome{Class: sync.OutcomeTransient, Reason: "cloud unreachable"}
}

func (unreachableAdapter) UploadPhoto(ctx context.Context, p *models.OfflinePhoto, assessmentRemoteID string, onProgress sync.ProgressFunc) sync.Outcome {
	return sync.Outcome{Class: sync.OutcomeTransient, Reason: "cloud unreachable"}
}

type testEnv struct {
	store  *store.MemoryStore
	engine *sync.Engine
	router *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := &config.SyncConfig{
		MaxAttempts:   5,
		BaseDelay:     time.Hour, // park retries outside the test window
		MaxDelay:      time.Hour,
		Concurrency:   2,
		WriteTimeout:  time.Second,
		UploadTimeout: time.Second,
	}
	engine := sync.NewEngine(st, unreachableAdapter{}, cfg, nil)
	reporter := sync.NewReporter(st, engine, nil)
	router := NewRouter(st, engine, reporter, nil, websocket.NewHub(), testSecret)
	return &testEnv{store: st, engine: engine, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func signToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "assessor-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return &buf
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sync/status", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}
}

func TestCreateAssessmentLandsLocallyAndQueues(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/assessments", jsonBody(t, map[string]interface{}{
		"asset_id": "asset-1",
		"payload":  map[string]interface{}{"condition": "fair"},
	}), "application/json")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var created models.OfflineAssessment
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.LocalID == "" {
		t.Fatal("expected a generated local ID")
	}

	env.engine.Wait()
	a, err := env.store.GetAssessment(created.LocalID)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if a.SyncStatus != models.SyncStatusPending {
		t.Errorf("expected pending while cloud unreachable, got %s", a.SyncStatus)
	}
	items, _ := env.store.ListQueue()
	if len(items) != 1 || items[0].Operation != models.OperationCreate {
		t.Errorf("expected one queued create, got %+v", items)
	}
}

func TestCreateAssessmentRequiresAssetID(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/assessments", jsonBody(t, map[string]interface{}{
		"payload": map[string]interface{}{"condition": "fair"},
	}), "application/json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestCreatePhotoMultipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("caption", "north facade")
	part, _ := w.CreateFormFile("photo", "facade.jpg")
	part.Write([]byte("jpeg-bytes"))
	w.Close()

	rr := env.do(t, http.MethodPost, "/api/photos", &buf, w.FormDataContentType())
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var created models.OfflinePhoto
	json.Unmarshal(rr.Body.Bytes(), &created)
	env.engine.Wait()

	p, err := env.store.GetPhoto(created.LocalID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if p.Caption != "north facade" || p.FileSize != int64(len("jpeg-bytes")) {
		t.Errorf("photo metadata mismatch: %+v", p)
	}
}

func TestCreatePhotoStorageFull(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetCapacity(4)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("photo", "big.jpg")
	part.Write([]byte("more-than-four-bytes"))
	w.Close()

	rr := env.do(t, http.MethodPost, "/api/photos", &buf, w.FormDataContentType())
	if rr.Code != http.StatusInsufficientStorage {
		t.Errorf("expected 507 when storage is full, got %d", rr.Code)
	}
}

func TestDiscardPendingAssessmentIsRejected(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/assessments", jsonBody(t, map[string]interface{}{
		"asset_id": "asset-1",
		"payload":  map[string]interface{}{"condition": "fair"},
	}), "application/json")
	var created models.OfflineAssessment
	json.Unmarshal(rr.Body.Bytes(), &created)
	env.engine.Wait()

	rr = env.do(t, http.MethodDelete, "/api/assessments/"+created.LocalID, nil, "")
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for non-terminal entity, got %d", rr.Code)
	}
}

func TestSyncStatusAndStart(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/assessments", jsonBody(t, map[string]interface{}{
		"asset_id": "asset-1",
		"payload":  map[string]interface{}{"condition": "fair"},
	}), "application/json")
	env.engine.Wait()

	rr := env.do(t, http.MethodGet, "/api/sync/status", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap sync.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.PendingCount != 1 {
		t.Errorf("expected 1 pending, got %d", snap.PendingCount)
	}

	rr = env.do(t, http.MethodPost, "/api/sync/start", nil, "")
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected 202 from sync start, got %d", rr.Code)
	}
	env.engine.Wait()
}

func TestRetryUnknownEntityReturns404(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/sync/retry/assessment/nope", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown entity, got %d", rr.Code)
	}
}

func TestGetMissingAssessmentReturns404(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/api/assessments/missing", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}
