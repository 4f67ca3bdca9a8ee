package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/formiq/platform/pkg/common/logger"
	"github.com/formiq/platform/pkg/gateway/httpclient"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Mailer delivers one templated message.
type Mailer interface {
	Send(ctx context.Context, to, templateID string, data map[string]interface{}) error
}

type HTTPMailerConfig struct {
	URL          string
	From         string
	APIKey       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// HTTPMailer posts messages to a transactional mail API. It authenticates
// with an OAuth2 client-credentials token when a token URL is configured,
// otherwise with the static API key.
type HTTPMailer struct {
	url    string
	from   string
	apiKey string
	client *http.Client
}

func NewHTTPMailer(cfg HTTPMailerConfig) *HTTPMailer {
	client := httpclient.New(cfg.Timeout)
	m := &HTTPMailer{url: cfg.URL, from: cfg.From, client: client}

	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		m.client = cc.Client(ctx)
		m.client.Timeout = cfg.Timeout
		return m
	}

	m.apiKey = cfg.APIKey
	return m
}

type mailRequest struct {
	From       string                 `json:"from"`
	To         string                 `json:"to"`
	TemplateID string                 `json:"templateId"`
	Data       map[string]interface{} `json:"data"`
}

func (m *HTTPMailer) Send(ctx context.Context, to, templateID string, data map[string]interface{}) error {
	body, err := json.Marshal(mailRequest{From: m.from, To: to, TemplateID: templateID, Data: data})
	if err != nil {
		return httpclient.Permanent(fmt.Errorf("encoding mail request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return httpclient.Permanent(fmt.Errorf("building mail request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling mail api: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("mail api responded %d", resp.StatusCode)
	default:
		return httpclient.Permanent(fmt.Errorf("mail api rejected message: %d", resp.StatusCode))
	}
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, templateID string, data map[string]interface{}) error {
	logger.Log.WithFields(map[string]interface{}{
		"to":          to,
		"template_id": templateID,
		"fields":      len(data),
	}).Info("Mail not sent, log mailer in use")
	return nil
}
