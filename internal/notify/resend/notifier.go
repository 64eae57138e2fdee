// Package resend sends contact notification emails through the Resend API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"biosite/internal/contact"
)

// Config holds Resend credentials and addressing.
type Config struct {
	APIKey   string
	Endpoint string
	From     string
	To       string
	Timeout  time.Duration
}

// Notifier implements contact.Sink by emailing each submission.
type Notifier struct {
	cfg  Config
	http *http.Client
}

type emailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// New creates a Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("email.api_key is required")
	}
	if cfg.To == "" {
		return nil, fmt.Errorf("email.to is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.resend.com/emails"
	}
	if cfg.From == "" {
		cfg.From = "Contact Form <onboarding@resend.dev>"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Save emails the submission. Resend assigns its own message ID, so the
// returned submission ID is always zero.
func (n *Notifier) Save(ctx context.Context, record contact.Record) (int64, error) {
	name := html.EscapeString(record.Name)
	email := html.EscapeString(record.Email)

	htmlBody := fmt.Sprintf(
		"<h2>New Contact Form Submission</h2>"+
			"<p><strong>Name:</strong> %s</p>"+
			"<p><strong>Email:</strong> <a href=\"mailto:%s\">%s</a></p>"+
			"<hr><p>Submitted at: %s",
		name, email, email, record.CreatedAt.UTC().Format(time.RFC3339),
	)
	textBody := fmt.Sprintf(
		"New Contact Form Submission\n\nName: %s\nEmail: %s\n\nSubmitted at: %s",
		record.Name, record.Email, record.CreatedAt.UTC().Format(time.RFC3339),
	)
	if record.IPAddress != "" {
		htmlBody += fmt.Sprintf("<br>IP: %s", html.EscapeString(record.IPAddress))
		textBody += fmt.Sprintf("\nIP: %s", record.IPAddress)
	}
	htmlBody += "</p>"

	payload, err := json.Marshal(emailRequest{
		From:    n.cfg.From,
		To:      n.cfg.To,
		Subject: fmt.Sprintf("New contact from %s", record.Name),
		HTML:    htmlBody,
		Text:    textBody,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("email API returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return 0, nil
}
