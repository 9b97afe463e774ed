package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"bizmatch/internal/metrics"
)

// Generator renders an invoice payload into a PDF document.
type Generator interface {
	Generate(ctx context.Context, payload *InvoicePayload) ([]byte, error)
}

// WebhookGenerator posts payloads to an external document-generation
// workflow and returns the response body. Any non-2xx answer is a failure.
type WebhookGenerator struct {
	client *resty.Client
	url    string
}

// NewWebhookGenerator builds a generator for url. A zero timeout waits for
// the webhook indefinitely.
func NewWebhookGenerator(url string, timeout time.Duration) *WebhookGenerator {
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/pdf")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &WebhookGenerator{client: client, url: url}
}

func (g *WebhookGenerator) Generate(ctx context.Context, payload *InvoicePayload) ([]byte, error) {
	if g.url == "" {
		return nil, fmt.Errorf("%w: webhook url is not configured", ErrGenerationFailed)
	}

	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(g.url)
	if err != nil {
		metrics.RecordWebhook(0, time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	metrics.RecordWebhook(resp.StatusCode(), time.Since(start))

	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 200 {
			body = body[:200]
		}
		return nil, fmt.Errorf("%w: webhook returned %d: %s", ErrGenerationFailed, resp.StatusCode(), body)
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("%w: webhook returned an empty document", ErrGenerationFailed)
	}
	return resp.Body(), nil
}
