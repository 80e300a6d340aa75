package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/agentstation/ownertag/pkg/constants"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
)

// DecodeResponse decodes a JSON response into the target structure.
// Non-2xx responses become an *errors.APIError carrying the start of the
// body; 401 and 403 wrap it in an *errors.AuthenticationError. A nil target
// discards the body.
func DecodeResponse(resp *http.Response, target any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := ResponseError(resp)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return errors.NewAuthenticationError(authScheme(resp), "credential rejected by "+apiErr.Endpoint, apiErr)
		}
		return apiErr
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapIO("read", "response body", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", endpointOf(resp), err)
	}

	return nil
}

// ResponseError builds the APIError for a failed response. The body is
// read up to constants.MaxErrorBody bytes; it is not closed.
func ResponseError(resp *http.Response) *errors.APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBody))
	method := ""
	if resp.Request != nil {
		method = resp.Request.Method
	}
	return errors.NewAPIError(method, endpointOf(resp), resp.StatusCode, strings.TrimSpace(string(body)))
}

func endpointOf(resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.Path
}

// authScheme names the credential the request presented, for error reports.
func authScheme(resp *http.Response) string {
	if resp.Request == nil {
		return "none"
	}
	scheme, _, _ := strings.Cut(resp.Request.Header.Get("Authorization"), " ")
	if scheme == "" {
		return "none"
	}
	return strings.ToLower(scheme)
}
