package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"
)

const (
	contentType    = "application/json"
	webhookTimeout = 30 * time.Second
)

// WebhookReporter POSTs every summary to an URL.
type WebhookReporter struct {
	requestURL *url.URL
	client     *http.Client
}

func NewWebhookReporter(rawURL string) (*WebhookReporter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("webhook url must have a http(s) scheme and a host, e.g. `https://example.com/hook`")
	}
	return &WebhookReporter{
		requestURL: u,
		client:     &http.Client{Timeout: webhookTimeout},
	}, nil
}

func (c *WebhookReporter) Report(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting run report: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.DebugContext(ctx, "run report posted", "url", c.requestURL.Redacted(), "status", resp.StatusCode)
		return nil
	}
	return decodeProblem(resp)
}

// decodeProblem turns a non 2xx response to an error, using the detail of
// application/problem+json bodies.
func decodeProblem(resp *http.Response) error {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/problem+json" {
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
			return fmt.Errorf("decoding problem response: %w", err)
		}
		return fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problem.Detail)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return err
	}
	return fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(body))
}
