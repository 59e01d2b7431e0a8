// Package eventsink fans Blocked verdicts out to external alerting
// channels (Slack webhook, Datadog logs API). It is best-effort and
// asynchronous: a channel failing to deliver never affects the
// verdict already returned to the caller.
package eventsink

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/reflexlayer/reflex/pkg/reflex"
)

// Event describes a single Blocked-verdict occurrence to notify on.
type Event struct {
	RequestID string
	UserID    string
	ClientIP  string
	Verdict   reflex.Verdict
}

// Channel delivers one Event to one external system.
type Channel interface {
	Name() string
	Notify(ctx context.Context, event Event) error
	Shutdown(ctx context.Context) error
}

// Sink fans Event out to every registered Channel. Per-channel delivery
// errors are discarded: they are neither logged nor returned.
type Sink struct {
	channels []Channel
}

// NewSink builds a Sink from the given channels, skipping any nil entries
// (a channel that failed to construct because its config was incomplete).
func NewSink(channels ...Channel) *Sink {
	s := &Sink{}
	for _, c := range channels {
		if c != nil {
			s.channels = append(s.channels, c)
		}
	}
	return s
}

// Notify fans event out to all channels asynchronously and returns
// immediately; it never blocks the request path.
func (s *Sink) Notify(event Event) {
	for _, ch := range s.channels {
		ch := ch
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = ch.Notify(ctx, event)
		}()
	}
}

// Shutdown shuts every channel down, returning the first error encountered.
func (s *Sink) Shutdown(ctx context.Context) error {
	var first error
	for _, ch := range s.channels {
		if err := ch.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// --- Slack webhook channel ---

// SlackConfig configures the Slack alerting channel.
type SlackConfig struct {
	WebhookURL       string
	Channel          string
	Username         string
	IconEmoji        string
	MinErrorInterval time.Duration
}

// DefaultSlackConfig returns configuration sourced from the environment.
func DefaultSlackConfig() SlackConfig {
	return SlackConfig{
		WebhookURL:       os.Getenv("SLACK_WEBHOOK_URL"),
		Channel:          os.Getenv("SLACK_CHANNEL"),
		Username:         "reflex-layer",
		IconEmoji:        ":shield:",
		MinErrorInterval: 0,
	}
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackChannel delivers blocked-verdict alerts to a Slack incoming webhook.
type SlackChannel struct {
	config SlackConfig
	client *http.Client

	mu        sync.Mutex
	lastAlert time.Time
}

// NewSlackChannel builds a SlackChannel, or returns nil if no webhook URL
// is configured (channel is simply omitted from the sink).
func NewSlackChannel(cfg SlackConfig) *SlackChannel {
	if cfg.WebhookURL == "" {
		return nil
	}
	return &SlackChannel{config: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Notify(ctx context.Context, event Event) error {
	s.mu.Lock()
	if s.config.MinErrorInterval > 0 && time.Since(s.lastAlert) < s.config.MinErrorInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastAlert = time.Now()
	s.mu.Unlock()

	msg := s.buildMessage(event)
	return s.send(ctx, msg)
}

func (s *SlackChannel) buildMessage(event Event) slackMessage {
	fields := []slackField{
		{Title: "Request ID", Value: event.RequestID, Short: true},
		{Title: "Status", Value: string(event.Verdict.Status), Short: true},
	}
	if event.UserID != "" {
		fields = append(fields, slackField{Title: "User", Value: event.UserID, Short: true})
	}
	if event.ClientIP != "" {
		fields = append(fields, slackField{Title: "Client IP", Value: event.ClientIP, Short: true})
	}
	detail := fmt.Sprintf("%d PII match(es), %d injection match(es), highest severity: %s",
		len(event.Verdict.PIIMatches), len(event.Verdict.InjectionMatches), event.Verdict.HighestSeverity())

	return slackMessage{
		Channel:   s.config.Channel,
		Username:  s.config.Username,
		IconEmoji: s.config.IconEmoji,
		Attachments: []slackAttachment{
			{
				Color:     "danger",
				Title:     ":no_entry: Request blocked",
				Text:      detail,
				Fields:    fields,
				Footer:    "reflex-layer",
				Timestamp: time.Now().Unix(),
			},
		},
	}
}

func (s *SlackChannel) send(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: failed to send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackChannel) Shutdown(ctx context.Context) error { return nil }

// --- Datadog logs API channel ---

// DatadogConfig configures the Datadog logs intake channel.
type DatadogConfig struct {
	APIKey   string
	Site     string
	Service  string
	Hostname string
}

// DefaultDatadogConfig returns configuration sourced from the environment.
func DefaultDatadogConfig() DatadogConfig {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return DatadogConfig{
		APIKey:   os.Getenv("DD_API_KEY"),
		Site:     os.Getenv("DD_SITE"),
		Service:  "reflex-layer",
		Hostname: hostname,
	}
}

type datadogPayload struct {
	DDSource  string `json:"ddsource"`
	Hostname  string `json:"hostname"`
	Message   string `json:"message"`
	Service   string `json:"service"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// DatadogChannel delivers blocked-verdict alerts as structured logs to
// Datadog's logs intake API.
type DatadogChannel struct {
	config    DatadogConfig
	client    *http.Client
	intakeURL string
}

// NewDatadogChannel builds a DatadogChannel, or returns nil if no API key
// is configured.
func NewDatadogChannel(cfg DatadogConfig) *DatadogChannel {
	if cfg.APIKey == "" {
		return nil
	}
	site := cfg.Site
	if site == "" {
		site = "datadoghq.com"
	}
	return &DatadogChannel{
		config:    cfg,
		client:    &http.Client{Timeout: 30 * time.Second},
		intakeURL: fmt.Sprintf("https://http-intake.logs.%s/api/v2/logs", site),
	}
}

func (d *DatadogChannel) Name() string { return "datadog" }

func (d *DatadogChannel) Notify(ctx context.Context, event Event) error {
	msg := fmt.Sprintf("request %s blocked: %d pii match(es), %d injection match(es), highest severity %s",
		event.RequestID, len(event.Verdict.PIIMatches), len(event.Verdict.InjectionMatches), event.Verdict.HighestSeverity())

	payload := []datadogPayload{{
		DDSource:  "reflex-layer",
		Hostname:  d.config.Hostname,
		Message:   msg,
		Service:   d.config.Service,
		Status:    "warning",
		Timestamp: time.Now().UnixMilli(),
	}}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("datadog: failed to marshal logs: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("datadog: failed to compress logs: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("datadog: failed to close gzip writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.intakeURL, &buf)
	if err != nil {
		return fmt.Errorf("datadog: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("DD-API-KEY", d.config.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("datadog: failed to send logs: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("datadog: unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func (d *DatadogChannel) Shutdown(ctx context.Context) error { return nil }
