// Package notify implements the notification dispatcher (C13): webhook,
// email and telegram delivery channels driven by a small template engine,
// each delivering the event kinds (trigger, resolve) it subscribes to.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/streamgraph/corepipeline/pkg/logging"
)

// Kind is the notification event a channel was configured to react to.
type Kind string

const (
	EventTrigger Kind = "trigger"
	EventResolve Kind = "resolve"
)

// Channel delivers a rendered notification for one anomaly event.
type Channel interface {
	Events() []Kind
	Deliver(ctx context.Context, event Kind, tctx Context) error
}

func defaultEvents(events []Kind) []Kind {
	if len(events) == 0 {
		return []Kind{EventTrigger}
	}
	return events
}

func envLookup(log *logging.Logger) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := os.LookupEnv(name)
		if !ok && log != nil {
			log.WithField("var", name).Warn("env() reference in template is not set, using empty string")
		}
		return value, ok
	}
}

func hasEvent(events []Kind, event Kind) bool {
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookConfig configures an HTTP webhook channel.
type WebhookConfig struct {
	Events       []Kind            `yaml:"-"`
	URL          string            `yaml:"url"`
	Method       string            `yaml:"method,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
	BodyTemplate string            `yaml:"body_template,omitempty"`
}

// WebhookChannel POSTs a rendered (or default JSON) payload to a URL.
type WebhookChannel struct {
	events  []Kind
	url     string
	method  string
	headers map[string]string
	body    *Template
	client  *http.Client
	log     *logging.Logger
}

// NewWebhookChannel resolves env interpolation in the URL/headers and
// validates the body template (parse only) at construction time.
func NewWebhookChannel(cfg WebhookConfig, log *logging.Logger) (*WebhookChannel, error) {
	resolvedURL, err := interpolateEnv(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	if resolvedURL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if _, err := url.Parse(resolvedURL); err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}

	headers, err := interpolateEnvMap(cfg.Headers)
	if err != nil {
		return nil, fmt.Errorf("webhook headers: %w", err)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	var tmpl *Template
	if strings.TrimSpace(cfg.BodyTemplate) != "" {
		tmpl, err = ParseTemplate(cfg.BodyTemplate)
		if err != nil {
			return nil, fmt.Errorf("webhook body template: %w", err)
		}
	}

	if log == nil {
		log = logging.NewDefault("notify-webhook")
	}

	return &WebhookChannel{
		events:  defaultEvents(cfg.Events),
		url:     resolvedURL,
		method:  method,
		headers: headers,
		body:    tmpl,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}, nil
}

func (c *WebhookChannel) Events() []Kind { return c.events }

// Deliver renders the body template if configured, otherwise marshals a
// default JSON payload from the context, and POSTs it. A non-2xx
// response is recorded as an error with the URL, status and request
// payload logged; retries are left to the caller.
func (c *WebhookChannel) Deliver(ctx context.Context, event Kind, tctx Context) error {
	var payload []byte
	if c.body != nil {
		rendered, err := c.body.Render(tctx, envLookup(c.log))
		if err != nil {
			return fmt.Errorf("render webhook body: %w", err)
		}
		payload = []byte(rendered)
	} else {
		var err error
		payload, err = json.Marshal(defaultPayload(tctx))
		if err != nil {
			return fmt.Errorf("marshal default webhook payload: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithField("url", c.url).WithError(err).Warn("webhook delivery failed")
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WithField("url", c.url).WithField("status", resp.StatusCode).WithField("body", string(payload)).
			Warn("webhook delivery returned non-2xx status")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func defaultPayload(tctx Context) map[string]any {
	return map[string]any{
		"rule_id":        tctx.Rule.ID,
		"rule_name":      tctx.Rule.Name,
		"event":          string(tctx.Event),
		"entity_key":     tctx.Anomaly.Key,
		"score":          tctx.Anomaly.Score,
		"classification": tctx.Anomaly.Classification,
		"timestamp":      tctx.Timestamp.UTC().Format(time.RFC3339),
	}
}

// EmailConfig configures an SMTP email channel.
type EmailConfig struct {
	Events          []Kind   `yaml:"-"`
	SMTPHost        string   `yaml:"smtp_host"`
	SMTPPort        string   `yaml:"smtp_port,omitempty"`
	SMTPUser        string   `yaml:"smtp_user,omitempty"`
	SMTPPass        string   `yaml:"smtp_pass,omitempty"`
	From            string   `yaml:"from"`
	To              []string `yaml:"to"`
	SubjectTemplate string   `yaml:"subject_template,omitempty"`
	BodyTemplate    string   `yaml:"body_template,omitempty"`
}

// EmailChannel sends a rendered message through net/smtp.
type EmailChannel struct {
	events  []Kind
	addr    string
	auth    smtp.Auth
	from    string
	to      []string
	subject *Template
	body    *Template
	log     *logging.Logger
	sendFn  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel resolves env interpolation in the SMTP settings and
// validates both templates at construction time.
func NewEmailChannel(cfg EmailConfig, log *logging.Logger) (*EmailChannel, error) {
	host, err := interpolateEnv(cfg.SMTPHost)
	if err != nil {
		return nil, fmt.Errorf("smtp host: %w", err)
	}
	port, err := interpolateEnv(cfg.SMTPPort)
	if err != nil {
		return nil, fmt.Errorf("smtp port: %w", err)
	}
	user, err := interpolateEnv(cfg.SMTPUser)
	if err != nil {
		return nil, fmt.Errorf("smtp user: %w", err)
	}
	pass, err := interpolateEnv(cfg.SMTPPass)
	if err != nil {
		return nil, fmt.Errorf("smtp pass: %w", err)
	}
	from, err := interpolateEnv(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if host == "" || from == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email channel requires smtp host, from and at least one recipient")
	}

	subjectSrc := cfg.SubjectTemplate
	if subjectSrc == "" {
		subjectSrc = "[{{ rule.name }}] anomaly {{ event }}"
	}
	subject, err := ParseTemplate(subjectSrc)
	if err != nil {
		return nil, fmt.Errorf("email subject template: %w", err)
	}
	body, err := ParseTemplate(cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("email body template: %w", err)
	}

	if log == nil {
		log = logging.NewDefault("notify-email")
	}

	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}

	return &EmailChannel{
		events:  defaultEvents(cfg.Events),
		addr:    host + ":" + port,
		auth:    auth,
		from:    from,
		to:      cfg.To,
		subject: subject,
		body:    body,
		log:     log,
		sendFn:  smtp.SendMail,
	}, nil
}

func (c *EmailChannel) Events() []Kind { return c.events }

// Deliver renders the subject/body and sends through SMTP.
func (c *EmailChannel) Deliver(ctx context.Context, event Kind, tctx Context) error {
	lookup := envLookup(c.log)
	subject, err := c.subject.Render(tctx, lookup)
	if err != nil {
		return fmt.Errorf("render email subject: %w", err)
	}
	body, err := c.body.Render(tctx, lookup)
	if err != nil {
		return fmt.Errorf("render email body: %w", err)
	}

	msg := buildEmailMessage(c.from, c.to, subject, body)
	if err := c.sendFn(c.addr, c.auth, c.from, c.to, msg); err != nil {
		c.log.WithField("to", c.to).WithError(err).Warn("email delivery failed")
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func buildEmailMessage(from string, to []string, subject, body string) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}

// TelegramConfig configures a Telegram bot channel.
type TelegramConfig struct {
	Events       []Kind `yaml:"-"`
	BotToken     string `yaml:"bot_token"`
	ChatID       string `yaml:"chat_id"`
	ParseMode    string `yaml:"parse_mode,omitempty"`
	BodyTemplate string `yaml:"body_template,omitempty"`
}

// TelegramChannel sends a rendered message through the Telegram bot API.
type TelegramChannel struct {
	events    []Kind
	botToken  string
	chatID    string
	parseMode string
	body      *Template
	client    *http.Client
	log       *logging.Logger
	apiBase   string
}

const telegramAPIBase = "https://api.telegram.org"

// NewTelegramChannel resolves env interpolation in the bot token/chat id
// and validates the body template at construction time.
func NewTelegramChannel(cfg TelegramConfig, log *logging.Logger) (*TelegramChannel, error) {
	token, err := interpolateEnv(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("bot token: %w", err)
	}
	chatID, err := interpolateEnv(cfg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("chat id: %w", err)
	}
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("telegram channel requires bot_token and chat_id")
	}

	body, err := ParseTemplate(cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("telegram body template: %w", err)
	}

	if log == nil {
		log = logging.NewDefault("notify-telegram")
	}

	return &TelegramChannel{
		events:    defaultEvents(cfg.Events),
		botToken:  token,
		chatID:    chatID,
		parseMode: cfg.ParseMode,
		body:      body,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
		apiBase:   telegramAPIBase,
	}, nil
}

func (c *TelegramChannel) Events() []Kind { return c.events }

// Deliver renders the body and posts it to the bot API's sendMessage
// endpoint.
func (c *TelegramChannel) Deliver(ctx context.Context, event Kind, tctx Context) error {
	text, err := c.body.Render(tctx, envLookup(c.log))
	if err != nil {
		return fmt.Errorf("render telegram body: %w", err)
	}

	payload := map[string]any{"chat_id": c.chatID, "text": text}
	if c.parseMode != "" {
		payload["parse_mode"] = c.parseMode
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).Warn("telegram delivery failed")
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WithField("status", resp.StatusCode).Warn("telegram delivery returned non-2xx status")
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}
