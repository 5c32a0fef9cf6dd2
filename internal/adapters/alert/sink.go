// Package alert forwards recovery-loop faults to operators.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/okian/xferkarma/pkg/logger"
)

// ErrWebhook is returned when the webhook rejects a message.
var ErrWebhook = errors.New("webhook rejected message")

// Discord caps message content at 2000 characters.
const discordMaxContent = 2000

// Sink delivers a single alert message.
type Sink interface {
	Send(ctx context.Context, msg string) error
}

type discordBody struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// DiscordSink posts messages to a Discord incoming webhook.
type DiscordSink struct {
	url      string
	username string
	client   *http.Client
}

// DiscordOption applies a configuration option to the DiscordSink.
type DiscordOption func(*DiscordSink)

// WithUsername overrides the name the webhook posts as.
func WithUsername(name string) DiscordOption {
	return func(s *DiscordSink) {
		s.username = name
	}
}

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(c *http.Client) DiscordOption {
	return func(s *DiscordSink) {
		if c != nil {
			s.client = c
		}
	}
}

// NewDiscordSink creates a sink for webhookURL.
func NewDiscordSink(webhookURL string, log *slog.Logger, opts ...DiscordOption) *DiscordSink {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 5 * time.Second
	if log != nil {
		rc.Logger = log.With("subsystem", "discord-webhook")
	} else {
		rc.Logger = nil
	}
	client := rc.StandardClient()
	client.Timeout = 15 * time.Second

	s := &DiscordSink{url: webhookURL, username: "Karma Transfer Bot", client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts msg, truncated to Discord's content limit.
func (s *DiscordSink) Send(ctx context.Context, msg string) error {
	if r := []rune(msg); len(r) > discordMaxContent {
		msg = string(r[:discordMaxContent-1]) + "…"
	}
	body, err := json.Marshal(discordBody{Content: msg, Username: s.username})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrWebhook, resp.StatusCode)
	}
	return nil
}

// LogSink writes alerts to the log. It stands in when no webhook is set.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a sink writing to log.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(ctx context.Context, msg string) error {
	s.log.Warn(ctx, "alert", logger.String("message", msg))
	return nil
}
