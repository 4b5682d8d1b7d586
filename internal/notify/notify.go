// Package notify sends sync failure and recovery alerts over a webhook and
// email, with a cooldown so a persistently broken backend does not flood
// either channel.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/macjediwizard/notiondavsync/internal/config"
	"github.com/macjediwizard/notiondavsync/internal/validator"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AlertType classifies an alert.
type AlertType string

const (
	AlertTypeFailure  AlertType = "sync_failed"
	AlertTypeRecovery AlertType = "sync_recovered"
)

// Alert is one notification.
type Alert struct {
	Type      AlertType
	Trigger   string
	Message   string
	Details   string
	Timestamp time.Time
}

// Notifier sends alerts via the configured channels. The zero-configuration
// notifier is valid and silently does nothing.
type Notifier struct {
	cfg        config.AlertConfig
	httpClient *http.Client
	urls       *validator.Validator
	now        func() time.Time

	mu        sync.Mutex
	failing   bool
	lastAlert time.Time
}

// New creates a notifier from the alert configuration.
func New(cfg config.AlertConfig) *Notifier {
	return &Notifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		urls:       validator.New(),
		now:        time.Now,
	}
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.WebhookURL != "" || n.cfg.SMTPHost != ""
}

// PassFailed raises a failure alert unless one went out within the cooldown.
func (n *Notifier) PassFailed(trigger string, err error) {
	if !n.Enabled() {
		return
	}

	cooldown := time.Duration(n.cfg.CooldownMinutes) * time.Minute

	n.mu.Lock()
	if n.failing && n.now().Sub(n.lastAlert) < cooldown {
		n.mu.Unlock()
		return
	}
	n.failing = true
	n.lastAlert = n.now()
	n.mu.Unlock()

	go n.send(Alert{
		Type:      AlertTypeFailure,
		Trigger:   trigger,
		Message:   "Sync pass failed",
		Details:   err.Error(),
		Timestamp: n.now(),
	})
}

// PassRecovered raises a recovery alert if a failure alert was outstanding.
func (n *Notifier) PassRecovered(trigger string) {
	if !n.Enabled() {
		return
	}

	n.mu.Lock()
	wasFailing := n.failing
	n.failing = false
	n.lastAlert = time.Time{}
	n.mu.Unlock()

	if !wasFailing {
		return
	}

	go n.send(Alert{
		Type:      AlertTypeRecovery,
		Trigger:   trigger,
		Message:   "Sync pass recovered",
		Details:   "Reconciliation is running normally again",
		Timestamp: n.now(),
	})
}

// send delivers the alert on every configured channel.
func (n *Notifier) send(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if n.cfg.WebhookURL != "" {
		if err := n.sendWebhook(ctx, alert, n.cfg.WebhookURL); err != nil {
			log.Printf("[notify] webhook error: %v", err)
		}
	}
	if n.cfg.SMTPHost != "" {
		if err := n.sendEmail(alert); err != nil {
			log.Printf("[notify] email error: %v", err)
		}
	}
}

// WebhookPayload is the JSON body posted to the alert webhook. The Text
// field makes the payload renderable by Slack-style receivers.
type WebhookPayload struct {
	AlertType string `json:"alert_type"`
	Trigger   string `json:"trigger"`
	Message   string `json:"message"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
	Text      string `json:"text,omitempty"`
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert, webhookURL string) error {
	if err := n.urls.ValidateWebhookURL(webhookURL); err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}

	emoji := ":x:"
	if alert.Type == AlertTypeRecovery {
		emoji = ":white_check_mark:"
	}

	payload := WebhookPayload{
		AlertType: string(alert.Type),
		Trigger:   alert.Trigger,
		Message:   alert.Message,
		Details:   alert.Details,
		Timestamp: alert.Timestamp.Format(time.RFC3339),
		Text:      fmt.Sprintf("%s *%s*\n%s", emoji, alert.Message, alert.Details),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("[notify] webhook sent: %s", alert.Message)
	return nil
}

// SendTestWebhook posts a test message so operators can verify their
// webhook configuration from the admin surface.
func (n *Notifier) SendTestWebhook(ctx context.Context, webhookURL string) error {
	return n.sendWebhook(ctx, Alert{
		Type:      "test",
		Trigger:   "manual",
		Message:   "Test alert",
		Details:   "This is a test message to verify the webhook configuration",
		Timestamp: n.now(),
	}, webhookURL)
}

func (n *Notifier) sendEmail(alert Alert) error {
	recipients := splitRecipients(n.cfg.SMTPTo)
	if len(recipients) == 0 || n.cfg.SMTPFrom == "" {
		return fmt.Errorf("email channel misconfigured: missing sender or recipients")
	}

	message := sanitizeForEmail(alert.Message)
	details := sanitizeForEmail(alert.Details)
	subject := "[NotionDAVSync] " + message

	var body strings.Builder
	fmt.Fprintf(&body, "Alert: %s\n", alert.Type)
	fmt.Fprintf(&body, "Trigger: %s\n", sanitizeForEmail(alert.Trigger))
	fmt.Fprintf(&body, "Time: %s\n\n", alert.Timestamp.Format(time.RFC1123))
	fmt.Fprintf(&body, "%s\n%s\n", message, details)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.cfg.SMTPFrom, strings.Join(recipients, ", "), subject, body.String())

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	var auth smtp.Auth
	if n.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}

	var err error
	if n.cfg.SMTPPort == 465 {
		err = n.sendEmailTLS(addr, auth, recipients, []byte(msg))
	} else {
		err = smtp.SendMail(addr, auth, n.cfg.SMTPFrom, recipients, []byte(msg))
	}
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	log.Printf("[notify] email sent to %d recipients: %s", len(recipients), message)
	return nil
}

// sendEmailTLS delivers over an implicit-TLS connection (port 465).
func (n *Notifier) sendEmailTLS(addr string, auth smtp.Auth, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: n.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial TLS: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(n.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("rcpt to %s: %w", recipient, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return client.Quit()
}

// splitRecipients parses the comma-separated recipient list, dropping
// anything that does not look like an address.
func splitRecipients(raw string) []string {
	var recipients []string
	for _, part := range strings.Split(raw, ",") {
		addr := strings.ToLower(strings.TrimSpace(part))
		if addr == "" {
			continue
		}
		if !emailRegex.MatchString(addr) {
			log.Printf("[notify] skipping invalid recipient %q", addr)
			continue
		}
		recipients = append(recipients, addr)
	}
	return recipients
}

// sanitizeForEmail strips header-injection characters and caps length.
func sanitizeForEmail(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
