package httpbackend

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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/animus-labs/retrigger/internal/domain"
	"github.com/animus-labs/retrigger/internal/trigger"
)

const maxResponseBytes = 1 << 20

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client talks to the ingestion backend's REST API. Reads are retried with
// exponential backoff; a trigger is sent exactly once.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ trigger.Service = (*Client)(nil)

func New(cfg Config, transport http.RoundTripper) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient := &http.Client{Timeout: cfg.Timeout, Transport: transport}
	if strings.TrimSpace(cfg.ClientID) != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = cc.Client(ctx)
		httpClient.Timeout = cfg.Timeout
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		sleep:   sleepContext,
	}, nil
}

type triggerRequest struct {
	Partitions []string `json:"partitions"`
	BatchSize  int      `json:"batchSize"`
}

type triggerResponse struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	JobID      int64    `json:"jobId"`
	Status     string   `json:"status"`
	Partitions []string `json:"partitions"`
	BatchSize  int      `json:"batchSize"`
}

type statusResponse struct {
	JobID                int64     `json:"jobId"`
	Status               string    `json:"status"`
	LastUpdated          time.Time `json:"lastUpdated"`
	ProcessingPartitions []string  `json:"processingPartitions"`
	CurrentStep          string    `json:"currentStep"`
}

type previewRequest struct {
	Partitions []string `json:"partitions,omitempty"`
}

type previewResponse struct {
	TableName    string    `json:"tableName"`
	Partitions   []string  `json:"partitions"`
	Pipeline     string    `json:"pipeline"`
	SourceSystem string    `json:"sourceSystem"`
	Timestamp    time.Time `json:"timestamp"`
}

func (c *Client) TriggerJob(ctx context.Context, jobID int64, partitions []string, batchSize int) (domain.TriggerResult, error) {
	var resp triggerResponse
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/jobs/%d/trigger", jobID), triggerRequest{Partitions: partitions, BatchSize: batchSize}, &resp, false)
	if err != nil {
		return domain.TriggerResult{}, err
	}
	return domain.TriggerResult{
		JobID:      jobID,
		Status:     domain.NormalizeJobStatus(resp.Status),
		Message:    resp.Message,
		Partitions: resp.Partitions,
		BatchSize:  resp.BatchSize,
	}, nil
}

func (c *Client) GetJobStatus(ctx context.Context, jobID int64) (domain.StatusReport, error) {
	var resp statusResponse
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/jobs/%d/status", jobID), nil, &resp, true); err != nil {
		return domain.StatusReport{}, err
	}
	processing := resp.ProcessingPartitions
	if processing == nil {
		processing = []string{}
	}
	return domain.StatusReport{
		JobID:                jobID,
		Status:               domain.NormalizeJobStatus(resp.Status),
		LastUpdated:          resp.LastUpdated.UTC(),
		ProcessingPartitions: processing,
		CurrentStep:          strings.TrimSpace(resp.CurrentStep),
	}, nil
}

// GetJobPayloadPreview is a POST only to carry the partition list; it has no side
// effects and is retried like a read.
func (c *Client) GetJobPayloadPreview(ctx context.Context, jobID int64, partitions []string) (domain.PayloadPreview, error) {
	var resp previewResponse
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/jobs/%d/preview", jobID), previewRequest{Partitions: partitions}, &resp, true); err != nil {
		return domain.PayloadPreview{}, err
	}
	return domain.PayloadPreview{
		TableName:    resp.TableName,
		Partitions:   resp.Partitions,
		Pipeline:     resp.Pipeline,
		SourceSystem: resp.SourceSystem,
		Timestamp:    resp.Timestamp.UTC(),
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, in any, out any, retry bool) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempts := 1
	if retry {
		attempts += c.cfg.MaxRetries
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.cfg.Backoff*time.Duration(1<<uint(attempt-1))); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &transportError{err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return trigger.ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
