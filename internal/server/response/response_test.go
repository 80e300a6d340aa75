package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/ownertag/pkg/errors"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestSuccessHelpers(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(w http.ResponseWriter)
		status int
	}{
		{name: "OK", fn: func(w http.ResponseWriter) { OK(w, map[string]int{"pending": 1}) }, status: http.StatusOK},
		{name: "Accepted", fn: func(w http.ResponseWriter) { Accepted(w, map[string]int{"document_id": 55}) }, status: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.fn(w)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			resp := decode(t, w)
			assert.NotNil(t, resp.Data)
			assert.Nil(t, resp.Error)
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(w http.ResponseWriter)
		status int
		code   string
	}{
		{name: "BadRequest", fn: func(w http.ResponseWriter) { BadRequest(w, "Invalid", "Missing field") }, status: http.StatusBadRequest, code: "BAD_REQUEST"},
		{name: "Unauthorized", fn: func(w http.ResponseWriter) { Unauthorized(w, "Auth failed", "") }, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "NotFound", fn: func(w http.ResponseWriter) { NotFound(w, "Not found", "") }, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "MethodNotAllowed", fn: func(w http.ResponseWriter) { MethodNotAllowed(w, "GET") }, status: http.StatusMethodNotAllowed, code: "METHOD_NOT_ALLOWED"},
		{name: "RateLimited", fn: func(w http.ResponseWriter) { RateLimited(w, "slow down") }, status: http.StatusTooManyRequests, code: "RATE_LIMITED"},
		{name: "InternalError", fn: func(w http.ResponseWriter) { InternalError(w, errors.New("boom")) }, status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
		{name: "ServiceUnavailable", fn: func(w http.ResponseWriter) { ServiceUnavailable(w, "queue full") }, status: http.StatusServiceUnavailable, code: "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.fn(w)

			assert.Equal(t, tt.status, w.Code)
			resp := decode(t, w)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestErrorFromType(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "validation", err: errors.NewValidationError("document_id", "x", "must be a positive integer"), status: http.StatusBadRequest},
		{name: "not found", err: errors.NewNotFoundError("document", "55"), status: http.StatusNotFound},
		{name: "unauthorized", err: errors.NewAPIError("GET", "/api/documents/55/", 401, "Invalid token."), status: http.StatusUnauthorized},
		{name: "transient", err: errors.NewTransientError("GET /api/documents/55/", errors.New("reset")), status: http.StatusServiceUnavailable},
		{name: "configuration", err: errors.NewConfigurationError("owner mapping", "missing tag", nil), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			ErrorFromType(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestErrorDetailsOmittedWhenEmpty(t *testing.T) {
	data, err := json.Marshal(Fail("TEST", "message", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":null,"error":{"code":"TEST","message":"message"}}`, string(data))
}
