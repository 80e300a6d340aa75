package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentstation/ownertag/internal/queue"
	"github.com/agentstation/ownertag/internal/server/response"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
)

var (
	// documentPathRE matches document URLs such as
	// https://paperless.example.com/documents/55/.
	documentPathRE = regexp.MustCompile(`/documents/(\d+)/?$`)

	// documentParamRE matches URLs carrying the id as a query parameter.
	documentParamRE = regexp.MustCompile(`document_id=(\d+)`)

	errNoPayload = errors.New("no payload")
)

// Notification is the webhook payload. Paperless workflows send the
// document URL; document_id is accepted for senders that know the id.
type Notification struct {
	DocumentID json.RawMessage `json:"document_id,omitempty"`
	URL        string          `json:"url,omitempty"`
}

// HandleWebhook handles POST /webhook/document.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())
	if r.Method != http.MethodPost {
		h.metrics.WebhookRequest("rejected")
		response.MethodNotAllowed(w, r.Method)
		return
	}

	note, err := h.decode(w, r)
	if err != nil {
		h.metrics.WebhookRequest("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.PayloadTooLarge(w, tooLarge.Limit)
			return
		}
		response.BadRequest(w, "No JSON data received", err.Error())
		return
	}

	id, found, err := ExtractDocumentID(note)
	switch {
	case err != nil:
		logger.Error().Err(err).Str("url", note.URL).Msg("Could not extract document id from webhook")
		h.metrics.WebhookRequest("rejected")
		response.BadRequest(w, "Invalid document URL", err.Error())
		return
	case !found:
		logger.Warn().Msg("Webhook received without document reference")
		h.metrics.WebhookRequest("ignored")
		response.OK(w, map[string]any{
			"status":  "ignored",
			"message": "No URL in payload",
		})
		return
	}

	queued, err := h.queue.Submit(id)
	if err != nil {
		logger.Warn().Err(err).Int("document_id", id).Msg("Webhook not queued")
		h.metrics.WebhookRequest("unavailable")
		if errors.Is(err, queue.ErrQueueFull) {
			w.Header().Set("Retry-After", "5")
		}
		response.ServiceUnavailable(w, err.Error())
		return
	}

	status := "queued"
	if !queued {
		status = "coalesced"
	}
	h.metrics.WebhookRequest(status)
	logger.Info().
		Int("document_id", id).
		Str("url", note.URL).
		Str("status", status).
		Msg("Received webhook for document")

	response.Accepted(w, map[string]any{
		"status":      status,
		"document_id": id,
	})
}

// decode reads a JSON body, or a form body for senders that post
// url-encoded fields. Bodies over the limit fail with *http.MaxBytesError.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request) (Notification, error) {
	var note Notification
	body := io.Reader(r.Body)
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		data, err := io.ReadAll(body)
		if err != nil {
			return note, err
		}
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return note, err
		}
		if v := values.Get("document_id"); v != "" {
			note.DocumentID = json.RawMessage(strconv.Quote(v))
		}
		note.URL = values.Get("url")
		if note.DocumentID == nil && note.URL == "" && len(values) == 0 {
			return note, errNoPayload
		}
		return note, nil
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return note, errNoPayload
		}
		return note, err
	}
	if len(raw) == 0 {
		return note, errNoPayload
	}
	note.DocumentID = raw["document_id"]
	if u, ok := raw["url"]; ok {
		if err := json.Unmarshal(u, &note.URL); err != nil {
			return note, errors.NewValidationError("url", string(u), "must be a string")
		}
	}
	return note, nil
}

// ExtractDocumentID finds the document id in a notification. It reports
// found=false when the notification carries no document reference at all
// and an error when a reference is present but unusable.
func ExtractDocumentID(note Notification) (id int, found bool, err error) {
	if raw := strings.TrimSpace(string(note.DocumentID)); raw != "" && raw != "null" {
		id, err := parseID(raw)
		if err != nil {
			return 0, true, errors.NewValidationError("document_id", raw, "must be a positive integer")
		}
		return id, true, nil
	}

	if note.URL == "" {
		return 0, false, nil
	}
	if id, ok := DocumentIDFromURL(note.URL); ok {
		return id, true, nil
	}
	return 0, true, errors.NewValidationError("url", note.URL, "does not reference a document")
}

// DocumentIDFromURL extracts the id from a document URL.
func DocumentIDFromURL(raw string) (int, bool) {
	for _, re := range []*regexp.Regexp{documentPathRE, documentParamRE} {
		if m := re.FindStringSubmatch(raw); m != nil {
			id, err := strconv.Atoi(m[1])
			if err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

func parseID(raw string) (int, error) {
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("not positive")
	}
	return id, nil
}
