package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"faceguard/internal/config"
	"faceguard/internal/model"
)

var severityColor = map[model.Severity]string{
	model.SeverityLow:      "#36a64f",
	model.SeverityMedium:   "#ff9900",
	model.SeverityHigh:     "#ff0000",
	model.SeverityCritical: "#8b0000",
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Title  string      `json:"title"`
	Text   string      `json:"text"`
	Fields []chatField `json:"fields"`
	Ts     int64       `json:"ts"`
}

type chatPayload struct {
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments"`
}

// WebhookNotifier posts chat-style messages. Deliveries are rate limited and
// go through a circuit breaker so a dead endpoint is skipped quickly.
type WebhookNotifier struct {
	url      string
	channels []string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[any]
	retries  int
	backoff  time.Duration
}

func NewWebhookNotifier(cfg config.WebhookNotify, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
	})
	return &WebhookNotifier{
		url:      cfg.URL,
		channels: append([]string(nil), cfg.Channels...),
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		breaker:  breaker,
		retries:  cfg.Retries,
		backoff:  cfg.RetryBackoff,
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Channels() []string { return n.channels }

func (n *WebhookNotifier) Notify(ctx context.Context, a model.Alert) error {
	body, err := json.Marshal(buildChatPayload(a))
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 && !sleep(ctx, n.backoff*time.Duration(attempt)) {
			break
		}
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		_, lastErr = n.breaker.Execute(func() (any, error) {
			return nil, n.post(ctx, body)
		})
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, gobreaker.ErrOpenState) || errors.Is(lastErr, gobreaker.ErrTooManyRequests) {
			return lastErr
		}
	}
	return lastErr
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func buildChatPayload(a model.Alert) chatPayload {
	return chatPayload{
		Text: fmt.Sprintf("[%s] %s", a.Severity, a.Type),
		Attachments: []chatAttachment{{
			Color: severityColor[a.Severity],
			Title: string(a.Type),
			Text:  a.Message,
			Fields: []chatField{
				{Title: "Session", Value: a.SessionID, Short: true},
				{Title: "Severity", Value: string(a.Severity), Short: true},
				{Title: "Score", Value: fmt.Sprintf("%.2f", a.Score), Short: true},
				{Title: "Occurrences", Value: fmt.Sprintf("%d", a.Occurrences), Short: true},
			},
			Ts: a.Timestamp.Unix(),
		}},
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
