package notify

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/macjediwizard/notiondavsync/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// newTestNotifier wires a notifier to a capturing transport so no traffic
// leaves the test.
func newTestNotifier(cfg config.AlertConfig, sent chan WebhookPayload) *Notifier {
	n := New(cfg)
	n.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		var payload WebhookPayload
		if err := json.Unmarshal(body, &payload); err == nil && sent != nil {
			sent <- payload
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	})}
	return n
}

func waitPayload(t *testing.T, sent chan WebhookPayload) WebhookPayload {
	t.Helper()
	select {
	case p := <-sent:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook delivered")
		return WebhookPayload{}
	}
}

func TestPassFailedSendsWebhook(t *testing.T) {
	sent := make(chan WebhookPayload, 1)
	n := newTestNotifier(config.AlertConfig{
		WebhookURL:      "https://alerts.example.com/hook",
		CooldownMinutes: 60,
	}, sent)

	n.PassFailed("scheduled", errTest)

	payload := waitPayload(t, sent)
	if payload.AlertType != string(AlertTypeFailure) {
		t.Errorf("alert_type = %q", payload.AlertType)
	}
	if payload.Trigger != "scheduled" {
		t.Errorf("trigger = %q", payload.Trigger)
	}
}

func TestPassFailedHonorsCooldown(t *testing.T) {
	sent := make(chan WebhookPayload, 4)
	n := newTestNotifier(config.AlertConfig{
		WebhookURL:      "https://alerts.example.com/hook",
		CooldownMinutes: 60,
	}, sent)

	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	n.PassFailed("scheduled", errTest)
	waitPayload(t, sent)

	// Within the cooldown the repeat failure stays quiet.
	now = now.Add(10 * time.Minute)
	n.PassFailed("scheduled", errTest)
	select {
	case p := <-sent:
		t.Fatalf("alert sent during cooldown: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}

	// Past the cooldown it alerts again.
	now = now.Add(time.Hour)
	n.PassFailed("scheduled", errTest)
	waitPayload(t, sent)
}

func TestPassRecoveredOnlyAfterFailure(t *testing.T) {
	sent := make(chan WebhookPayload, 2)
	n := newTestNotifier(config.AlertConfig{
		WebhookURL:      "https://alerts.example.com/hook",
		CooldownMinutes: 60,
	}, sent)

	n.PassRecovered("scheduled")
	select {
	case p := <-sent:
		t.Fatalf("recovery without failure: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}

	n.PassFailed("scheduled", errTest)
	waitPayload(t, sent)

	n.PassRecovered("scheduled")
	payload := waitPayload(t, sent)
	if payload.AlertType != string(AlertTypeRecovery) {
		t.Errorf("alert_type = %q", payload.AlertType)
	}
}

func TestDisabledNotifierStaysSilent(t *testing.T) {
	n := New(config.AlertConfig{})
	if n.Enabled() {
		t.Fatal("empty config should disable the notifier")
	}
	// Must not panic or block.
	n.PassFailed("scheduled", errTest)
	n.PassRecovered("scheduled")
}

func TestSendTestWebhookRejectsUnsafeURLs(t *testing.T) {
	n := newTestNotifier(config.AlertConfig{}, nil)

	for _, url := range []string{
		"http://alerts.example.com/hook",
		"https://localhost/hook",
		"https://10.0.0.5/hook",
		"https://internal.service.local/hook",
	} {
		if err := n.SendTestWebhook(t.Context(), url); err == nil {
			t.Errorf("SendTestWebhook(%q) should fail", url)
		}
	}
}

func TestSplitRecipients(t *testing.T) {
	got := splitRecipients("Ops@Example.com, , not-an-email, team@example.com")
	want := []string{"ops@example.com", "team@example.com"}
	if len(got) != len(want) {
		t.Fatalf("splitRecipients() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recipient[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSanitizeForEmail(t *testing.T) {
	got := sanitizeForEmail("subject\r\nBcc: attacker@example.com")
	if got != "subject Bcc: attacker@example.com" {
		t.Errorf("sanitizeForEmail() = %q", got)
	}
}

var errTest = errBackend{}

type errBackend struct{}

func (errBackend) Error() string { return "backend down" }
