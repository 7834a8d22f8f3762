package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookPublisher POSTs custody and registry events to an HTTP endpoint.
// Bodies are signed with HMAC-SHA256. Any non-2xx answer is an error, so the
// outbox dispatcher retries the event and eventually dead-letters it.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookPublisher returns a publisher for url. A timeout <= 0 means
// defaultWebhookTimeout.
func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// Publish sends the envelope as JSON with these headers:
//
//	Content-Type:              application/json
//	X-Keyledger-Topic:         <topic>
//	X-Keyledger-Event-Type:    <event.EventType>
//	X-Keyledger-Organization:  <event.Organization>
//	X-Keyledger-Delivery:      <event.EventID>
//	X-Hub-Signature-256:       sha256=<hex-encoded HMAC-SHA256>
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	sig := p.sign(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Keyledger-Topic", topic)
	req.Header.Set("X-Keyledger-Event-Type", event.EventType)
	req.Header.Set("X-Keyledger-Organization", event.Organization)
	req.Header.Set("X-Keyledger-Delivery", event.EventID)
	req.Header.Set("X-Hub-Signature-256", "sha256="+sig)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookPublisher) sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
