package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWebhookChannel_RequiresURL(t *testing.T) {
	_, err := NewWebhookChannel(WebhookConfig{}, nil)
	require.Error(t, err)
}

func TestNewWebhookChannel_MissingEnvVarIsConstructionError(t *testing.T) {
	_, err := NewWebhookChannel(WebhookConfig{URL: "${NOTIFY_WEBHOOK_URL_UNSET}"}, nil)
	require.Error(t, err)
}

func TestNewWebhookChannel_InvalidBodyTemplateIsConstructionError(t *testing.T) {
	_, err := NewWebhookChannel(WebhookConfig{URL: "https://example.com/hook", BodyTemplate: "{{ unterminated"}, nil)
	require.Error(t, err)
}

func TestWebhookChannel_DeliversDefaultJSONPayload(t *testing.T) {
	var gotBody []byte
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(WebhookConfig{URL: server.URL + "/hooks/anomaly"}, nil)
	require.NoError(t, err)

	err = channel.Deliver(context.Background(), EventTrigger, sampleContext())
	require.NoError(t, err)
	require.Equal(t, "/hooks/anomaly", gotPath)
	require.Contains(t, string(gotBody), "m-42")
}

func TestWebhookChannel_RendersBodyTemplate(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(WebhookConfig{URL: server.URL, BodyTemplate: `{"key":"{{ anomaly.key }}"}`}, nil)
	require.NoError(t, err)

	err = channel.Deliver(context.Background(), EventTrigger, sampleContext())
	require.NoError(t, err)
	require.JSONEq(t, `{"key":"m-42"}`, string(gotBody))
}

func TestWebhookChannel_NonTwoXXIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(WebhookConfig{URL: server.URL}, nil)
	require.NoError(t, err)

	err = channel.Deliver(context.Background(), EventTrigger, sampleContext())
	require.Error(t, err)
}

func TestWebhookChannel_DefaultEventsIsTriggerOnly(t *testing.T) {
	channel, err := NewWebhookChannel(WebhookConfig{URL: "https://example.com"}, nil)
	require.NoError(t, err)
	require.Equal(t, []Kind{EventTrigger}, channel.Events())
}

func TestNewEmailChannel_RequiresFromAndRecipients(t *testing.T) {
	_, err := NewEmailChannel(EmailConfig{SMTPHost: "smtp.example.com"}, nil)
	require.Error(t, err)
}

func TestNewEmailChannel_InvalidTemplateIsConstructionError(t *testing.T) {
	_, err := NewEmailChannel(EmailConfig{
		SMTPHost: "smtp.example.com", From: "a@example.com", To: []string{"b@example.com"},
		BodyTemplate: "{% for x in y %}",
	}, nil)
	require.Error(t, err)
}

func TestEmailChannel_DeliverInvokesSendFn(t *testing.T) {
	channel, err := NewEmailChannel(EmailConfig{
		SMTPHost: "smtp.example.com", SMTPPort: "587",
		From: "alerts@example.com", To: []string{"oncall@example.com"},
		BodyTemplate: "entity {{ anomaly.key }} scored {{ anomaly.score }}",
	}, nil)
	require.NoError(t, err)

	var capturedTo []string
	var capturedMsg []byte
	channel.sendFn = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		capturedTo = to
		capturedMsg = msg
		return nil
	}

	err = channel.Deliver(context.Background(), EventTrigger, sampleContext())
	require.NoError(t, err)
	require.Equal(t, []string{"oncall@example.com"}, capturedTo)
	require.Contains(t, string(capturedMsg), "entity m-42 scored 0.873123")
}

func TestNewTelegramChannel_RequiresTokenAndChatID(t *testing.T) {
	_, err := NewTelegramChannel(TelegramConfig{BodyTemplate: "hi"}, nil)
	require.Error(t, err)
}

func TestTelegramChannel_DeliversToBotAPI(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewTelegramChannel(TelegramConfig{BotToken: "abc123", ChatID: "42", BodyTemplate: "{{ anomaly.key }}"}, nil)
	require.NoError(t, err)
	channel.apiBase = server.URL

	err = channel.Deliver(context.Background(), EventTrigger, sampleContext())
	require.NoError(t, err)
	require.Equal(t, "/botabc123/sendMessage", gotPath)
}
