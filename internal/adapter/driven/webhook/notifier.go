// Package webhook delivers vault notifications to a chat webhook using the
// Discord embed format.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/ericfisherdev/contractorvault/internal/domain/model"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
)

const (
	username       = "Contractor Vault"
	requestTimeout = 10 * time.Second
	maxFieldLength = 1024

	colorGreen  = 0x57F287
	colorBlue   = 0x5865F2
	colorRed    = 0xED4245
	colorYellow = 0xFEE75C
)

// Compile-time interface satisfaction checks.
var (
	_ driven.Notifier = (*Notifier)(nil)
	_ driven.Notifier = Nop{}
)

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Fields      []field `json:"fields,omitempty"`
	Footer      *footer `json:"footer,omitempty"`
}

type message struct {
	Username string  `json:"username"`
	Embeds   []embed `json:"embeds"`
}

// Options tunes retry behaviour. Zero values keep the library defaults.
type Options struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Notifier posts notifications to a single webhook URL.
type Notifier struct {
	url       string
	client    *retryablehttp.Client
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// New creates a Notifier for url.
func New(url string, opts Options, logger zerolog.Logger) *Notifier {
	logger = logger.With().Str("component", "webhook").Logger()

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = requestTimeout
	client.Logger = leveledLogger{logger: logger}
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}

	return &Notifier{
		url:       url,
		client:    client,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// Notify renders n and posts it. Non-2xx responses after retries are errors.
func (w *Notifier) Notify(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(w.render(n))
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}

	w.logger.Debug().Str("kind", string(n.Kind)).Msg("webhook delivered")
	return nil
}

func (w *Notifier) render(n model.Notification) message {
	e := embed{Color: colorBlue}
	if !n.OccurredAt.IsZero() {
		e.Timestamp = n.OccurredAt.UTC().Format(time.RFC3339)
	}

	contractor := w.field("Contractor", n.Contractor, true)
	resource := w.field("Credential", n.Resource, true)

	switch n.Kind {
	case model.NotifyAccessGranted:
		e.Title = "Access Granted"
		e.Description = "New temporary access created"
		e.Color = colorGreen
		e.Fields = []field{contractor, resource, w.field("Granted By", n.Actor, true)}
		if n.ExpiresAt != nil {
			e.Fields = append(e.Fields, w.field("Expires", n.ExpiresAt.UTC().Format(time.RFC3339), true))
		}
	case model.NotifyAccessClaimed:
		e.Title = "Access Claimed"
		e.Description = "Contractor claimed their credentials"
		e.Fields = []field{contractor, resource, w.field("IP Address", n.IPAddress, true)}
	case model.NotifyAccessRevoked:
		e.Title = "Access Revoked"
		e.Description = "Contractor access terminated"
		e.Color = colorRed
		e.Fields = []field{contractor, resource, w.field("Revoked By", n.Actor, true)}
	case model.NotifyKillSwitch:
		e.Title = "KILL SWITCH ACTIVATED"
		e.Description = "All access for contractor terminated immediately"
		e.Color = colorRed
		e.Fields = []field{
			contractor,
			w.field("Tokens Revoked", strconv.Itoa(n.Count), true),
			w.field("Revoked By", n.Actor, true),
		}
	case model.NotifySecurityAlert:
		e.Title = "Security Alert"
		e.Description = "Security violation detected"
		e.Color = colorRed
		e.Fields = []field{contractor, resource, w.field("IP Address", n.IPAddress, true)}
		e.Footer = &footer{Text: "Immediate investigation recommended"}
	default:
		e.Title = "Vault Notification"
		e.Description = string(n.Kind)
		e.Color = colorYellow
	}

	if n.Reason != "" {
		e.Fields = append(e.Fields, w.field("Reason", n.Reason, false))
	}
	return message{Username: username, Embeds: []embed{e}}
}

// field scrubs markup from caller-supplied text before it reaches the chat.
func (w *Notifier) field(name, value string, inline bool) field {
	value = strings.TrimSpace(w.sanitizer.Sanitize(value))
	if value == "" {
		value = "-"
	}
	if len(value) > maxFieldLength {
		value = value[:maxFieldLength]
	}
	return field{Name: name, Value: value, Inline: inline}
}

// Nop discards notifications. It is used when no webhook is configured.
type Nop struct{}

// Notify implements driven.Notifier.
func (Nop) Notify(context.Context, model.Notification) error { return nil }

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.logger.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.logger.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.logger.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn().Fields(kv).Msg(msg) }
