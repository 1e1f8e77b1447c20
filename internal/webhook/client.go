package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Pixelfolio-Signature"
	HeaderTimestamp = "X-Pixelfolio-Timestamp"
	HeaderEvent     = "X-Pixelfolio-Event"

	EventBuildCompleted = "build.completed"
)

type Config struct {
	URL           string
	SigningSecret string
	Timeout       time.Duration
}

// Client posts signed build events. Delivery is attempted once; a failed
// delivery is reported to the caller and never retried.
type Client struct {
	httpClient    *http.Client
	endpoint      string
	signingSecret string
	now           func() time.Time
}

// NewClient returns nil when no URL is configured.
func NewClient(cfg Config) *Client {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint:      endpoint,
		signingSecret: cfg.SigningSecret,
		now:           time.Now,
	}
}

func (c *Client) Send(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderEvent, event)
	if c.signingSecret != "" {
		req.Header.Set(HeaderSignature, Sign(c.signingSecret, timestamp, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	}
	return nil
}

// Sign computes the HMAC-SHA256 signature receivers use to verify a payload.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
