package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"productshot/internal/domain"
)

// Result classifies the immediate outcome of a work-order notification.
type Result int

const (
	Accepted Result = iota
	Rejected
	TransportError
	NotConfigured
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case TransportError:
		return "transport_error"
	case NotConfigured:
		return "not_configured"
	}
	return "unknown"
}

// Order is the work order for one job submission.
type Order struct {
	JobID     string
	UserID    string
	UserEmail string
	ImageURLs []string
	Prompt    string
	Product   domain.ProductMeta
}

// Outcome carries the dispatch result back to the lifecycle controller,
// which uses it to drive the job's state transition. The client itself
// persists nothing.
type Outcome struct {
	Result     Result
	StatusCode int
	Err        error
}

// Reason renders a human-readable failure description for the job record.
func (o Outcome) Reason() string {
	switch o.Result {
	case Rejected:
		return fmt.Sprintf("Workflow rejected the job with status %d", o.StatusCode)
	case TransportError:
		return "Failed to reach the editing workflow"
	case NotConfigured:
		return "Editing workflow endpoint is not configured"
	}
	return ""
}

type payload struct {
	JobID           string   `json:"jobId"`
	UserID          string   `json:"userId"`
	UserEmail       string   `json:"userEmail"`
	ImageURLs       []string `json:"imageUrls"`
	Prompt          string   `json:"prompt"`
	ProductName     string   `json:"productName,omitempty"`
	ProductCategory string   `json:"productCategory,omitempty"`
	ProductSku      string   `json:"productSku,omitempty"`
	CallbackURL     string   `json:"callbackUrl"`
}

// Client notifies the external editing workflow that a job is ready.
type Client struct {
	endpoint    string
	callbackURL string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewClient builds a dispatch client. An empty endpoint yields a client
// whose Send always reports NotConfigured. The timeout bounds the whole
// notification round trip.
func NewClient(endpoint, callbackURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint:    endpoint,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Send posts the work order. At-most-once: no retries here, the staleness
// reaper is the backstop when a notification is lost.
func (c *Client) Send(ctx context.Context, order Order) Outcome {
	if c.endpoint == "" {
		c.logger.Warn().Str("job_id", order.JobID).Msg("dispatch: no webhook endpoint configured")
		return Outcome{Result: NotConfigured}
	}

	body, err := json.Marshal(payload{
		JobID:           order.JobID,
		UserID:          order.UserID,
		UserEmail:       order.UserEmail,
		ImageURLs:       order.ImageURLs,
		Prompt:          order.Prompt,
		ProductName:     order.Product.Name,
		ProductCategory: order.Product.Category,
		ProductSku:      order.Product.SKU,
		CallbackURL:     c.callbackURL,
	})
	if err != nil {
		return Outcome{Result: TransportError, Err: fmt.Errorf("marshal work order: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Result: TransportError, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("job_id", order.JobID).Msg("dispatch: webhook call failed")
		return Outcome{Result: TransportError, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error().Int("status", resp.StatusCode).Str("job_id", order.JobID).Msg("dispatch: webhook rejected job")
		return Outcome{Result: Rejected, StatusCode: resp.StatusCode}
	}

	c.logger.Info().Str("job_id", order.JobID).Msg("dispatch: work order accepted")
	return Outcome{Result: Accepted, StatusCode: resp.StatusCode}
}
