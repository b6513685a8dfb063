package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		httpClient:  http.DefaultClient,
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
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream,omitempty"`
}

var signInHTML = template.Must(template.New("signin").Parse(
	`<p>Open the link below to sign in to calshare:</p><p><a href="{{.Link}}">Sign in</a></p>` +
		`<p>This link expires in {{.Expires}} and can only be used once.</p>`))

// SendSignInLink emails a one-time sign-in link. ttl is only used for the
// expiry notice in the body.
func (c *Client) SendSignInLink(ctx context.Context, toEmail, link string, ttl time.Duration) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	expires := humanDuration(ttl)
	textBody := fmt.Sprintf(
		"Open the link below to sign in to calshare:\n\n%s\n\nThis link expires in %s and can only be used once. "+
			"If you open it on a different device you will be asked to confirm your email address.",
		link, expires,
	)
	var htmlBody strings.Builder
	if err := signInHTML.Execute(&htmlBody, struct{ Link, Expires string }{link, expires}); err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	payload := postmarkEmail{
		From:          c.fromEmail,
		To:            toEmail,
		Subject:       "Sign in to calshare",
		HtmlBody:      htmlBody.String(),
		TextBody:      textBody,
		MessageStream: "outbound",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", postmarkURL, bytes.NewReader(body))
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

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		n := int(d / time.Hour)
		if n == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", n)
	case d >= time.Minute:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	default:
		return d.String()
	}
}
