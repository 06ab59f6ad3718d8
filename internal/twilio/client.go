// Package twilio is the client for the Twilio messaging API: outbound
// WhatsApp delivery and authenticated media downloads.
package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	defaultTimeout = 30 * time.Second
	maxMediaSize   = 16 << 20 // WhatsApp caps media at 16MB
	whatsappPrefix = "whatsapp:"
)

// Client communicates with the Twilio REST API.
type Client struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the given account. from is the sending
// number, with or without the whatsapp: prefix.
func NewClient(accountSID, authToken, from string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       withWhatsAppPrefix(from),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(accountSID, authToken, from, baseURL string) *Client {
	c := NewClient(accountSID, authToken, from)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Deliver sends a WhatsApp message to the given channel address. Twilio
// acknowledges accepted messages with 201.
func (c *Client) Deliver(ctx context.Context, channelID, body string) error {
	form := url.Values{
		"From": {c.from},
		"To":   {withWhatsAppPrefix(channelID)},
		"Body": {body},
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("twilio returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// DownloadMedia fetches an inbound media attachment. Twilio media URLs
// require the account's basic-auth credentials. Returns the bytes and the
// mime type reported by the server.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, "", fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading media body: %w", err)
	}
	if len(data) > maxMediaSize {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func withWhatsAppPrefix(number string) string {
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}
