// Package notify delivers pipeline lifecycle events to a chat webhook.
// Delivery is best effort: nothing here ever fails the pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
)

// DefaultRateLimitDelay is slept after a rate-limit response that carries no hint
const DefaultRateLimitDelay = time.Second

// Notifier receives pipeline events
type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent)
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, models.NotificationEvent) {}

// Webhook posts events to a chat webhook
type Webhook struct {
	client   *resty.Client
	settings models.NotificationSettings
	sleep    func(ctx context.Context, d time.Duration)
}

// New returns a notifier for settings; without an endpoint it is a Nop
func New(settings models.NotificationSettings) Notifier {
	if settings.WebhookURL == "" {
		return Nop{}
	}
	return NewWebhook(settings)
}

// NewWebhook creates a webhook notifier. Requests are never retried.
func NewWebhook(settings models.NotificationSettings) *Webhook {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	return &Webhook{
		client:   client,
		settings: settings,
		sleep:    sleepContext,
	}
}

// Notify posts event. Rate-limited deliveries wait out the indicated delay
// and are dropped; every other failure is logged and dropped.
func (w *Webhook) Notify(ctx context.Context, event models.NotificationEvent) {
	if !w.wants(event.Type) {
		return
	}

	entry := logger.WithFields(map[string]interface{}{
		"event":       string(event.Type),
		"service":     event.Service.Name,
		"environment": string(event.Environment),
	})

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(buildMessage(w.settings.Username, event)).
		Post(w.settings.WebhookURL)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Notification delivery failed")
		return
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		delay := retryAfter(resp.Header().Get("Retry-After"), resp.Body(), w.defaultDelay())
		entry.WithField("delay_ms", delay.Milliseconds()).Warn("Notification rate limited, dropping")
		w.sleep(ctx, delay)
	case resp.IsError():
		entry.WithFields(map[string]interface{}{
			"status": resp.StatusCode(),
			"body":   resp.String(),
		}).Warn("Notification rejected")
	default:
		entry.Debug("Notification delivered")
	}
}

// wants reports whether the event passes the configured allow-list.
// No list means every event is sent.
func (w *Webhook) wants(t models.EventType) bool {
	if len(w.settings.Events) == 0 {
		return true
	}
	for _, e := range w.settings.Events {
		if e == string(t) {
			return true
		}
	}
	return false
}

func (w *Webhook) defaultDelay() time.Duration {
	if w.settings.RateLimitDelayMs > 0 {
		return time.Duration(w.settings.RateLimitDelayMs) * time.Millisecond
	}
	return DefaultRateLimitDelay
}

// retryAfter reads the delay from the Retry-After header or a JSON body
// field retry_after, both in seconds.
func retryAfter(header string, body []byte, fallback time.Duration) time.Duration {
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Message is the webhook payload
type Message struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content"`
	Embeds   []Embed `json:"embeds,omitempty"`
}

// Embed is a rich block attached to a message
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp"`
}

// EmbedField is one name/value row of an embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const (
	colorInfo    = 0x3498db
	colorSuccess = 0x2ecc71
	colorError   = 0xe74c3c
	colorMuted   = 0x95a5a6
)

var titles = map[models.EventType]string{
	models.EventDeployStart:    "Deployment started",
	models.EventDeploySuccess:  "Deployment succeeded",
	models.EventDeployError:    "Deployment failed",
	models.EventBuildStart:     "Build started",
	models.EventBuildSuccess:   "Build succeeded",
	models.EventBuildSkipped:   "Build skipped",
	models.EventUploadStart:    "Upload started",
	models.EventUploadSuccess:  "Upload succeeded",
	models.EventUploadSkipped:  "Upload skipped",
	models.EventPodsRestarting: "Restarting pods",
	models.EventPodsReady:      "Pods ready",
	models.EventWebDeploying:   "Deploying static site",
	models.EventWebDeployed:    "Static site deployed",
	models.EventCleanup:        "Cleaned up",
	models.EventDryRun:         "Dry run",
}

func colorFor(t models.EventType) int {
	switch t {
	case models.EventDeploySuccess, models.EventBuildSuccess, models.EventUploadSuccess,
		models.EventPodsReady, models.EventWebDeployed:
		return colorSuccess
	case models.EventDeployError:
		return colorError
	case models.EventBuildSkipped, models.EventUploadSkipped, models.EventCleanup, models.EventDryRun:
		return colorMuted
	}
	return colorInfo
}

func buildMessage(username string, event models.NotificationEvent) Message {
	title, ok := titles[event.Type]
	if !ok {
		title = string(event.Type)
	}

	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]EmbedField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, EmbedField{
			Name:   k,
			Value:  fmt.Sprintf("%v", event.Details[k]),
			Inline: true,
		})
	}

	svc := event.Service.Name
	if event.Service.Product != "" {
		svc = event.Service.Product + "/" + svc
	}

	return Message{
		Username: username,
		Content:  fmt.Sprintf("%s: %s (%s)", title, svc, event.Environment),
		Embeds: []Embed{{
			Title:     title,
			Color:     colorFor(event.Type),
			Fields:    fields,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		}},
	}
}
