package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ppiankov/relaypan/internal/rotation"
)

const errorBodyLimit = 512

// ErrWebhookOpen is returned while the breaker refuses calls.
var ErrWebhookOpen = errors.New("webhook circuit open")

// WebhookNotifier fires the downstream automation with the published post.
// Repeated failures open a breaker so a dead endpoint is not called on every
// pass of a long-running watch.
type WebhookNotifier struct {
	url     string
	token   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWebhook(endpoint, token string, timeout time.Duration) (*WebhookNotifier, error) {
	if endpoint == "" {
		return nil, errors.New("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	st := gobreaker.Settings{Name: "webhook"}
	st.Interval = 30 * time.Minute
	st.Timeout = 15 * time.Minute
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}

	return &WebhookNotifier{
		url:     endpoint,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(st),
	}, nil
}

type webhookPayload struct {
	PostID   string `json:"post_id"`
	PostText string `json:"post_text"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, n rotation.Notification) error {
	_, err := w.breaker.Execute(func() (interface{}, error) {
		return nil, w.post(ctx, n)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrWebhookOpen, err)
	}
	return err
}

// State reports the breaker state, for status output.
func (w *WebhookNotifier) State() string {
	return w.breaker.State().String()
}

func (w *WebhookNotifier) post(ctx context.Context, n rotation.Notification) error {
	// IDs travel as strings; automation tools lose precision on 64-bit numbers.
	body, err := json.Marshal(webhookPayload{
		PostID:   strconv.FormatInt(n.PostID, 10),
		PostText: n.PostText,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Token "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopNotifier is used when no automation endpoint is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, rotation.Notification) error { return nil }
