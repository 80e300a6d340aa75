package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/agentstation/ownertag/pkg/logging"
)

// TestChain_ExecutionOrder verifies first added is outermost middleware.
func TestChain_ExecutionOrder(t *testing.T) {
	var executionLog []string

	wrap := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				executionLog = append(executionLog, "start-"+name)
				next.ServeHTTP(w, r)
				executionLog = append(executionLog, "end-"+name)
			})
		}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		executionLog = append(executionLog, "handler")
		w.WriteHeader(http.StatusOK)
	})

	chained := Chain(wrap("1"), wrap("2"))(handler)
	chained.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	expected := []string{"start-1", "start-2", "handler", "end-2", "end-1"}
	if strings.Join(executionLog, ",") != strings.Join(expected, ",") {
		t.Errorf("expected %v, got %v", expected, executionLog)
	}
}

// TestLogger tests request logging middleware.
func TestLogger(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		path          string
		handlerStatus int
		level         string
	}{
		{name: "webhook accepted", method: "POST", path: "/webhook/document", handlerStatus: http.StatusAccepted, level: "info"},
		{name: "webhook rejected", method: "POST", path: "/webhook/document", handlerStatus: http.StatusBadRequest, level: "info"},
		{name: "health probe", method: "GET", path: "/health", handlerStatus: http.StatusOK, level: "debug"},
		{name: "failing probe", method: "GET", path: "/ready", handlerStatus: http.StatusServiceUnavailable, level: "info"},
	}

	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.handlerStatus)
			})

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.RemoteAddr = "192.168.1.1:12345"
			w := httptest.NewRecorder()
			Logger(&logger)(handler).ServeHTTP(w, req)

			if w.Code != tt.handlerStatus {
				t.Errorf("expected status %d, got %d", tt.handlerStatus, w.Code)
			}

			var logEntry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
				t.Fatalf("log is not valid JSON: %v (%s)", err, buf.String())
			}
			if logEntry["level"] != tt.level {
				t.Errorf("log level: expected %s, got %v", tt.level, logEntry["level"])
			}
			if logEntry["path"] != tt.path {
				t.Errorf("log path: expected %s, got %v", tt.path, logEntry["path"])
			}
			if status, ok := logEntry["status"].(float64); !ok || int(status) != tt.handlerStatus {
				t.Errorf("log status: expected %d, got %v", tt.handlerStatus, logEntry["status"])
			}
			if logEntry["remote_addr"] != "192.168.1.1:12345" {
				t.Errorf("log remote_addr: got %v", logEntry["remote_addr"])
			}
			if _, ok := logEntry["duration_ms"]; !ok {
				t.Error("log missing duration_ms field")
			}
		})
	}
}

// TestLogger_ContextLogger verifies handlers receive a request-scoped logger.
func TestLogger_ContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest("POST", "/webhook/document", nil)
	Logger(&logger)(handler).ServeHTTP(httptest.NewRecorder(), req)

	first, _, _ := strings.Cut(buf.String(), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(first), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["message"] != "inside handler" {
		t.Fatalf("expected handler log first, got %v", entry["message"])
	}
	if entry["trigger"] != "webhook" || entry["path"] != "/webhook/document" {
		t.Errorf("handler log missing request fields: %v", entry)
	}
}

// TestRecovery tests panic recovery middleware.
func TestRecovery(t *testing.T) {
	tests := []struct {
		name         string
		panicValue   any
		expectStatus int
	}{
		{name: "no panic", panicValue: nil, expectStatus: http.StatusOK},
		{name: "panic with string", panicValue: "something went wrong", expectStatus: http.StatusInternalServerError},
		{name: "panic with error", panicValue: http.ErrBodyNotAllowed, expectStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.panicValue != nil {
					panic(tt.panicValue)
				}
				w.WriteHeader(http.StatusOK)
			})

			w := httptest.NewRecorder()
			Recovery(&logger)(handler).ServeHTTP(w, httptest.NewRequest("POST", "/webhook/document", nil))

			if w.Code != tt.expectStatus {
				t.Errorf("expected status %d, got %d", tt.expectStatus, w.Code)
			}
			logged := strings.Contains(buf.String(), "Panic recovered")
			if logged != (tt.panicValue != nil) {
				t.Errorf("panic logged = %v, output: %s", logged, buf.String())
			}
			if tt.panicValue != nil && !strings.Contains(w.Body.String(), "INTERNAL_ERROR") {
				t.Errorf("expected error envelope, got %s", w.Body.String())
			}
		})
	}
}
