package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/ownertag/internal/metrics"
	"github.com/agentstation/ownertag/internal/papertest"
	"github.com/agentstation/ownertag/internal/queue"
	"github.com/agentstation/ownertag/pkg/documents"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
	"github.com/agentstation/ownertag/pkg/mapping"
	"github.com/agentstation/ownertag/pkg/reconciler"
	"github.com/agentstation/ownertag/pkg/tagdir"
)

type harness struct {
	svc     *papertest.Service
	queue   *queue.Queue
	metrics *metrics.Metrics
	url     string
}

// newHarness wires a listener to a running queue that reconciles against an
// in-memory document service.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := logging.NewNopLogger()
	svc := papertest.New()
	m := metrics.New()

	dir := tagdir.New(svc, tagdir.WithLogger(logger), tagdir.WithOnCreate(func(documents.Tag) { m.TagCreated() }))
	rec, err := reconciler.New(svc, dir, mapping.New("owner:", nil), reconciler.WithLogger(logger))
	require.NoError(t, err)

	q := queue.New(func(ctx context.Context, id int) error {
		_, err := rec.ReconcileID(ctx, id)
		return err
	}, queue.WithDelay(0), queue.WithWorkers(2), queue.WithLogger(logger))
	q.Start(context.Background())
	t.Cleanup(func() { _ = q.Close(context.Background()) })

	srv, err := New(cfg, q, m, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{svc: svc, queue: q, metrics: m, url: ts.URL}
}

func (h *harness) post(t *testing.T, path, body string, header http.Header) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.url+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeEnvelope(t, resp.Body)
}

func decodeEnvelope(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&env))
	return env
}

func TestNewRequiresQueue(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil, nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestConfigAddr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())

	cfg.Host = "::1"
	cfg.Port = 8080
	assert.Equal(t, "[::1]:8080", cfg.Addr())
}

func TestWebhookReconcilesDocument(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.svc.AddDocument(documents.Document{ID: 55, Owner: "john"})

	status, env := h.post(t, "/webhook/document", `{"url":"https://paperless.example.com/documents/55/"}`, nil)
	require.Equal(t, http.StatusAccepted, status)
	data := env["data"].(map[string]any)
	assert.Equal(t, float64(55), data["document_id"])
	assert.Contains(t, []any{"queued", "coalesced"}, data["status"])

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"owner:john"}, h.svc.TagNames(55))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.svc.Creates())
}

func TestWebhookRejectsBadPayloads(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "not json", body: `not json`, status: http.StatusBadRequest},
		{name: "url without id", body: `{"url":"https://paperless.example.com/tags/"}`, status: http.StatusBadRequest},
		{name: "no reference", body: `{"title":"Invoice"}`, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := h.post(t, "/webhook/document", tt.body, nil)
			assert.Equal(t, tt.status, status)
		})
	}
	assert.Zero(t, h.svc.Updates())
}

func TestWebhookSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = "s3cret"
	h := newHarness(t, cfg)
	h.svc.AddDocument(documents.Document{ID: 7, Owner: "jane"})

	status, _ := h.post(t, "/webhook/document", `{"document_id":7}`, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.post(t, "/webhook/document", `{"document_id":7}`, http.Header{"X-Webhook-Token": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.post(t, "/webhook/document", `{"document_id":7}`, http.Header{"X-Webhook-Token": {"s3cret"}})
	assert.Equal(t, http.StatusAccepted, status)

	status, _ = h.post(t, "/webhook/document", `{"document_id":7}`, http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusAccepted, status)

	// Probes stay public.
	resp, err := http.Get(h.url + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProbes(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	resp, err := http.Get(h.url + "/health")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", env["data"].(map[string]any)["status"])

	resp, err = http.Get(h.url + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, h.queue.Close(context.Background()))
	resp, err = http.Get(h.url + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// A closed queue refuses new notifications.
	status, _ := h.post(t, "/webhook/document", `{"document_id":1}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.svc.AddDocument(documents.Document{ID: 3, Owner: "john"})

	status, _ := h.post(t, "/webhook/document", `{"document_id":"3"}`, nil)
	require.Equal(t, http.StatusAccepted, status)
	require.Eventually(t, func() bool { return h.svc.Updates() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(h.url + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "ownertag_webhook_requests_total")
	assert.Contains(t, string(body), "ownertag_tags_created_total 1")

	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	off := newHarness(t, cfg)
	resp, err = http.Get(off.url + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookBodyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 32
	h := newHarness(t, cfg)

	body := `{"url":"https://paperless.example.com/` + strings.Repeat("x", 64) + `/documents/5/"}`
	status, env := h.post(t, "/webhook/document", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", env["error"].(map[string]any)["code"])
}
