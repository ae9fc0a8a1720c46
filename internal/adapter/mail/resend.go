// Package mail delivers transactional email through a Resend-compatible
// HTTP API, or only logs it when no provider is configured.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seventeenk/storefront/internal/core/domain"
	"github.com/seventeenk/storefront/internal/port"
)

const (
	DefaultBaseURL = "https://api.resend.com"
	DefaultTimeout = 10 * time.Second
)

type Config struct {
	// APIKey is sent as a bearer token (required).
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type ResendMailer struct {
	cfg    Config
	client *http.Client
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	Message string `json:"message"`
}

func NewResendMailer(cfg Config) (*ResendMailer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("mail: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ResendMailer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (m *ResendMailer) Send(ctx context.Context, email domain.Email) error {
	body, err := json.Marshal(sendRequest{
		From:    email.From,
		To:      []string{email.To},
		Subject: email.Subject,
		HTML:    email.HTML,
	})
	if err != nil {
		return fmt.Errorf("mail: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mail: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// The status decides the outcome; the body only adds the provider's reason.
	var out sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil || out.Message == "" {
		return fmt.Errorf("mail: provider returned %d", resp.StatusCode)
	}
	return fmt.Errorf("mail: provider returned %d: %s", resp.StatusCode, out.Message)
}

// LogMailer logs messages instead of sending them. The link-bearing body is
// never logged.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{log: logger.Named("mail")}
}

func (m *LogMailer) Send(ctx context.Context, email domain.Email) error {
	m.log.Info("email not sent, log driver",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.Int("html_bytes", len(email.HTML)),
	)
	return nil
}

var (
	_ port.Mailer = (*ResendMailer)(nil)
	_ port.Mailer = (*LogMailer)(nil)
)
