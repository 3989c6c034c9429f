package chatwire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// Outcome classifies a form-POST send attempt. A Degraded outcome means
// the message was not delivered over the AJAX path and the caller should
// fall back to its non-destructive reload path.
type Outcome int

const (
	Sent Outcome = iota
	Degraded
)

// SendResult is the two-tier result of FormPoster.Send. On Sent, Echo
// carries the server-confirmed content and timestamp for local rendering
// as a self-authored message. On Degraded, Reason explains the failure.
type SendResult struct {
	Outcome Outcome
	Echo    Message
	Reason  error
}

// FormPoster sends chat messages by POSTing form-encoded content to the
// room page URL, the alternate transport used when no websocket is
// available. All requests carry the CSRF token and the AJAX marker
// header.
type FormPoster struct {
	client     *http.Client
	pageURL    string
	csrfToken  string
	selfID     int64
	selfSender string
}

func NewFormPoster(client *http.Client, pageURL, csrfToken string, selfID int64, selfSender string) *FormPoster {
	if client == nil {
		client = http.DefaultClient
	}
	return &FormPoster{
		client:     client,
		pageURL:    pageURL,
		csrfToken:  csrfToken,
		selfID:     selfID,
		selfSender: selfSender,
	}
}

// Send posts one message. Whitespace-only content is rejected with
// ErrEmptyMessage before any network activity; all delivery failures are
// reported as a Degraded result rather than an error.
func (p *FormPoster) Send(ctx context.Context, content string) (SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return SendResult{}, ErrEmptyMessage
	}

	body := url.Values{"content": {content}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.pageURL, strings.NewReader(body.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-CSRFToken", p.csrfToken)

	resp, err := p.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("[chat] form send failed")
		return SendResult{Outcome: Degraded, Reason: err}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reason := fmt.Errorf("form send: unexpected status %d", resp.StatusCode)
		log.Warn().Int("status", resp.StatusCode).Msg("[chat] form send rejected")
		return SendResult{Outcome: Degraded, Reason: reason}, nil
	}

	var echo struct {
		Content   string `json:"content"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&echo); err != nil {
		return SendResult{Outcome: Degraded, Reason: fmt.Errorf("decode echo: %w", err)}, nil
	}
	return SendResult{
		Outcome: Sent,
		Echo: Message{
			Content:   echo.Content,
			Sender:    p.selfSender,
			SenderID:  p.selfID,
			Timestamp: echo.Timestamp,
		},
	}, nil
}
