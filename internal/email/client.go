package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const postmarkURL = "https://api.postmarkapp.com/email"

// Client sends transactional email through Postmark. An unconfigured
// client (no server token) logs the code instead of sending, so local
// development works without credentials.
type Client struct {
	serverToken string
	fromEmail   string
	httpClient  *http.Client
	logger      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		httpClient:  http.DefaultClient,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendVerificationCode emails a 6-digit code confirming ownership of
// an address. purpose is "signup" or "resend".
func (c *Client) SendVerificationCode(toEmail, code, purpose string) error {
	if !c.Configured() {
		c.logger.Info("email not configured, code not sent", "to", toEmail, "code", code, "purpose", purpose)
		return nil
	}

	subject := "Verify your email for Listado"
	if purpose == "signup" {
		subject = "Welcome to Listado: verify your email"
	}

	textBody := fmt.Sprintf("Your verification code is %s.\n\nEnter it to finish signing in. The code expires in 15 minutes.", code)
	htmlBody := fmt.Sprintf(
		`<p>Your verification code is <strong>%s</strong>.</p><p>Enter it to finish signing in. The code expires in 15 minutes.</p>`,
		code,
	)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
