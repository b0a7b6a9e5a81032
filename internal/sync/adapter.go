package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/farpomon/bca-app-sub013/internal/config"
	"github.com/farpomon/bca-app-sub013/internal/models"
)

// CloudClient pushes field mutations to the BCA cloud API and maps
// every HTTP result onto an Outcome class.
type CloudClient struct {
	cfg        config.CloudConfig
	httpClient *http.Client

	// baseURL is swapped to the fallback by the connectivity monitor
	// when the primary stops answering probes.
	baseURL string
}

// NewCloudClient creates a cloud API client for the configured tenant
func NewCloudClient(cfg config.CloudConfig) *CloudClient {
	return &CloudClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// UseFallback switches subsequent requests to the fallback URL
func (c *CloudClient) UseFallback() {
	if c.cfg.FallbackURL != "" {
		c.baseURL = strings.TrimRight(c.cfg.FallbackURL, "/")
		log.Printf("🌐 Cloud client switched to fallback URL: %s", c.baseURL)
	}
}

// UsePrimary switches subsequent requests back to the primary URL
func (c *CloudClient) UsePrimary() {
	c.baseURL = strings.TrimRight(c.cfg.BaseURL, "/")
}

// writeResponse is the body the cloud API returns for accepted writes
type writeResponse struct {
	ID       string `json:"id"`
	Revision string `json:"revision"`
}

// conflictResponse is the body returned with 409 Conflict
type conflictResponse struct {
	Revision string                 `json:"revision"`
	Payload  map[string]interface{} `json:"payload"`
	Message  string                 `json:"message"`
}

// PushAssessment creates or updates an assessment on the cloud API.
// Creates carry an X-Local-ID idempotency key so a retried create that
// already landed resolves to the same remote record instead of a
// duplicate. Updates carry If-Match with the base revision so the
// server can detect concurrent edits.
func (c *CloudClient) PushAssessment(ctx context.Context, op models.Operation, a *models.OfflineAssessment) Outcome {
	body, err := json.Marshal(map[string]interface{}{
		"asset_id":   a.AssetID,
		"project_id": c.cfg.ProjectID,
		"payload":    a.Payload,
	})
	if err != nil {
		return Outcome{Class: OutcomePermanent, Reason: fmt.Sprintf("encode assessment: %v", err)}
	}

	var req *http.Request
	switch op {
	case models.OperationUpdate:
		if a.RemoteID == nil {
			return Outcome{Class: OutcomePermanent, Reason: "update for assessment with no remote ID"}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPut,
			fmt.Sprintf("%s/api/v1/assessments/%s", c.baseURL, *a.RemoteID), bytes.NewReader(body))
		if err == nil && a.BaseRevision != "" {
			req.Header.Set("If-Match", a.BaseRevision)
		}
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/assessments", bytes.NewReader(body))
	}
	if err != nil {
		return Outcome{Class: OutcomePermanent, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Local-ID", a.LocalID)
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	return c.classifyResponse(resp)
}

// UploadPhoto streams the photo bytes as multipart form data, reporting
// progress as the body is consumed by the transport. The caller passes
// the owning assessment's remote ID; unlinked photos upload standalone.
func (c *CloudClient) UploadPhoto(ctx context.Context, p *models.OfflinePhoto, assessmentRemoteID string, onProgress ProgressFunc) Outcome {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"local_id":   p.LocalID,
		"project_id": c.cfg.ProjectID,
		"caption":    p.Caption,
	}
	if assessmentRemoteID != "" {
		fields["assessment_id"] = assessmentRemoteID
	}
	if p.Latitude != nil && p.Longitude != nil {
		fields["latitude"] = fmt.Sprintf("%f", *p.Latitude)
		fields["longitude"] = fmt.Sprintf("%f", *p.Longitude)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return Outcome{Class: OutcomePermanent, Reason: fmt.Sprintf("encode upload: %v", err)}
		}
	}

	part, err := w.CreateFormFile("photo", p.LocalID+extensionFor(p.MimeType))
	if err != nil {
		return Outcome{Class: OutcomePermanent, Reason: fmt.Sprintf("encode upload: %v", err)}
	}
	if _, err := part.Write(p.Content); err != nil {
		return Outcome{Class: OutcomePermanent, Reason: fmt.Sprintf("encode upload: %v", err)}
	}
	if err := w.Close(); err != nil {
		return Outcome{Class: OutcomePermanent, Reason: fmt.Sprintf("encode upload: %v", err)}
	}

	total := int64(buf.Len())
	body := &progressReader{r: &buf, total: total, onProgress: onProgress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/photos", body)
	if err != nil {
		return Outcome{Class: OutcomePermanent, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Local-ID", p.LocalID)
	req.ContentLength = total
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	out := c.classifyResponse(resp)
	if out.Class == OutcomeSuccess && onProgress != nil {
		onProgress(100)
	}
	return out
}

func (c *CloudClient) setAuth(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("X-Device-ID", c.cfg.DeviceID)
}

// classifyResponse maps an HTTP status onto an outcome class. 429 and
// 5xx are retried; every other 4xx is a hard rejection.
func (c *CloudClient) classifyResponse(resp *http.Response) Outcome {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var wr writeResponse
		if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
			return Outcome{Class: OutcomeTransient, Reason: fmt.Sprintf("decode response: %v", err)}
		}
		return Outcome{Class: OutcomeSuccess, RemoteID: wr.ID, Revision: wr.Revision}

	case resp.StatusCode == http.StatusConflict:
		var cr conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			log.Printf("⚠️ Conflict response had no parsable body: %v", err)
		}
		return Outcome{Class: OutcomeConflict, Revision: cr.Revision, ServerPayload: cr.Payload, Reason: cr.Message}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Outcome{Class: OutcomeTransient, Reason: readErrorBody(resp)}

	default:
		return Outcome{Class: OutcomePermanent, Reason: readErrorBody(resp)}
	}
}

// classifyTransportError maps request errors. A cancelled context is
// the caller's decision, not a server failure. A per-write deadline
// that elapsed is a timeout and stays transient; everything else at
// the transport layer (DNS, refused connection) is transient too.
func classifyTransportError(ctx context.Context, err error) Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return Outcome{Class: OutcomeCanceled, Reason: "request cancelled"}
	}
	return Outcome{Class: OutcomeTransient, Reason: err.Error()}
}

func readErrorBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// progressReader reports percentage progress as the transport reads
// the request body. The final 100 is only reported after the server
// confirms the write.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       int
	onProgress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.onProgress != nil && p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 99 {
			pct = 99 // 100 is reserved for server confirmation
		}
		if pct > p.last {
			p.last = pct
			p.onProgress(pct)
		}
	}
	return n, err
}
