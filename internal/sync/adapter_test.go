package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/farpomon/bca-app-sub013/internal/config"
	"github.com/farpomon/bca-app-sub013/internal/models"
)

func newTestClient(serverURL string) *CloudClient {
	return NewCloudClient(config.CloudConfig{
		BaseURL:   serverURL,
		APIKey:    "test-key",
		ProjectID: "proj-1",
		DeviceID:  "node-test",
	})
}

func testAssessment() *models.OfflineAssessment {
	return &models.OfflineAssessment{
		LocalID: "local-1",
		AssetID: "asset-1",
		Payload: datatypes.JSONMap{"condition": "fair"},
	}
}

func TestPushAssessmentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/assessments" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Local-ID") != "local-1" {
			t.Errorf("missing idempotency key, got %q", r.Header.Get("X-Local-ID"))
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"srv-42","revision":"rev-1"}`))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL).PushAssessment(context.Background(), models.OperationCreate, testAssessment())
	if out.Class != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", out.Class, out.Reason)
	}
	if out.RemoteID != "srv-42" || out.Revision != "rev-1" {
		t.Errorf("expected srv-42/rev-1, got %s/%s", out.RemoteID, out.Revision)
	}
}

func TestPushAssessmentUpdateSendsPrecondition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/v1/assessments/srv-42" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("If-Match") != "rev-1" {
			t.Errorf("expected If-Match rev-1, got %q", r.Header.Get("If-Match"))
		}
		w.Write([]byte(`{"id":"srv-42","revision":"rev-2"}`))
	}))
	defer srv.Close()

	a := testAssessment()
	remoteID := "srv-42"
	a.RemoteID = &remoteID
	a.BaseRevision = "rev-1"

	out := newTestClient(srv.URL).PushAssessment(context.Background(), models.OperationUpdate, a)
	if out.Class != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", out.Class, out.Reason)
	}
}

func TestPushAssessmentClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   OutcomeClass
	}{
		{"server error is transient", http.StatusInternalServerError, "boom", OutcomeTransient},
		{"throttling is transient", http.StatusTooManyRequests, "slow down", OutcomeTransient},
		{"gateway timeout is transient", http.StatusGatewayTimeout, "", OutcomeTransient},
		{"validation rejection is permanent", http.StatusUnprocessableEntity, "bad payload", OutcomePermanent},
		{"missing asset is permanent", http.StatusNotFound, "no such asset", OutcomePermanent},
		{"auth rejection is permanent", http.StatusForbidden, "", OutcomePermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out := newTestClient(srv.URL).PushAssessment(context.Background(), models.OperationCreate, testAssessment())
			if out.Class != tt.want {
				t.Errorf("status %d: expected %s, got %s", tt.status, tt.want, out.Class)
			}
			if out.Reason == "" {
				t.Error("failure outcomes must carry a reason")
			}
		})
	}
}

func TestPushAssessmentConflictCarriesServerVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"revision":"rev-5","payload":{"condition":"good"},"message":"concurrent edit"}`))
	}))
	defer srv.Close()

	out := newTestClient(srv.URL).PushAssessment(context.Background(), models.OperationCreate, testAssessment())
	if out.Class != OutcomeConflict {
		t.Fatalf("expected conflict, got %s", out.Class)
	}
	if out.Revision != "rev-5" {
		t.Errorf("expected server revision rev-5, got %s", out.Revision)
	}
	if out.ServerPayload["condition"] != "good" {
		t.Errorf("expected server payload, got %v", out.ServerPayload)
	}
}

func TestPushAssessmentUnreachableServerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	out := newTestClient(srv.URL).PushAssessment(context.Background(), models.OperationCreate, testAssessment())
	if out.Class != OutcomeTransient {
		t.Errorf("expected transient for refused connection, got %s", out.Class)
	}
}

func TestPushAssessmentTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hang until the client gives up
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := newTestClient(srv.URL).PushAssessment(ctx, models.OperationCreate, testAssessment())
	if out.Class != OutcomeTransient {
		t.Errorf("expected transient for an elapsed write deadline, got %s (%s)", out.Class, out.Reason)
	}
}

func TestPushAssessmentCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestClient(srv.URL).PushAssessment(ctx, models.OperationCreate, testAssessment())
	if out.Class != OutcomeCanceled {
		t.Errorf("expected canceled, got %s (%s)", out.Class, out.Reason)
	}
}

func TestUploadPhotoReportsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("assessment_id") != "srv-42" {
			t.Errorf("expected assessment link srv-42, got %q", r.FormValue("assessment_id"))
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"photo-srv-1","revision":""}`))
	}))
	defer srv.Close()

	photo := &models.OfflinePhoto{
		LocalID:  "photo-1",
		MimeType: "image/jpeg",
		Content:  make([]byte, 64*1024),
	}

	var reported []int
	out := newTestClient(srv.URL).UploadPhoto(context.Background(), photo, "srv-42", func(pct int) {
		reported = append(reported, pct)
	})
	if out.Class != OutcomeSuccess {
		t.Fatalf("expected success, got %s (%s)", out.Class, out.Reason)
	}
	if out.RemoteID != "photo-srv-1" {
		t.Errorf("expected remote ID photo-srv-1, got %s", out.RemoteID)
	}

	if len(reported) == 0 {
		t.Fatal("expected progress callbacks")
	}
	last := 0
	for _, pct := range reported {
		if pct < last {
			t.Fatalf("progress went backwards: %v", reported)
		}
		if pct < 0 || pct > 100 {
			t.Fatalf("progress out of range: %d", pct)
		}
		last = pct
	}
	if reported[len(reported)-1] != 100 {
		t.Errorf("progress must end at 100 after confirmation, got %d", reported[len(reported)-1])
	}
}
