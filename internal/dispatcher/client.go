// Package dispatcher implements the dispatcher client (C3): a typed
// request/response wrapper around the dispatcher's HTTP surface. Every call
// is best-effort — network failures are logged and surfaced as an error to
// the caller, but the caller (the engine controller) never crashes on them.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"transcode-worker/pkg/models"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	CACertPath string
	Timeout    time.Duration // control-plane call timeout; see engine.Config
}

// Client is a thin, typed wrapper over the dispatcher's HTTP endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// New builds a Client. When cfg.CACertPath is set, that CA bundle becomes
// the trusted root pool, and New fails if it cannot be read or holds no
// certificates; when it is empty, the default system trust store is used.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = newLeveledLogger(logger)

	if cfg.CACertPath != "" {
		tlsConfig, err := loadTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: load CA bundle: %w", err)
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		retryClient.HTTPClient.Transport = transport
	}

	retryClient.HTTPClient.Timeout = cfg.Timeout

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    retryClient.StandardClient(),
		logger:  logger,
	}, nil
}

func loadTLSConfig(caCertPath string) (*tls.Config, error) {
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caCertPath)
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// post issues a JSON POST and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: read response from %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("dispatcher: %s returned status %d", path, resp.StatusCode)
	}

	return body, nil
}

// Heartbeat reports liveness and capabilities. Best-effort: the result is
// ignored by the caller beyond logging.
func (c *Client) Heartbeat(ctx context.Context, report models.HeartbeatReport) error {
	_, err := c.post(ctx, "/engines/heartbeat", report)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dispatcher: heartbeat failed")
	}
	return err
}

// BenchmarkResult reports a completed self-benchmark. Best-effort.
func (c *Client) BenchmarkResult(ctx context.Context, engineID string, seconds float64) error {
	req := models.BenchmarkResultRequest{EngineID: engineID, BenchmarkTime: seconds}
	_, err := c.post(ctx, "/engines/benchmark_result", req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dispatcher: benchmark_result failed")
	}
	return err
}

// AssignJob asks the dispatcher for work. The second return value is false
// whenever the response is empty, unparseable, or lacks any of
// job_id/source_url/target_codec as a non-null string — all of which are
// treated identically as "no job available", never as an error.
func (c *Client) AssignJob(ctx context.Context, engineID string) (*models.Job, bool, error) {
	body, err := c.post(ctx, "/assign_job/", models.AssignJobRequest{EngineID: engineID})
	if err != nil {
		c.logger.Warn().Err(err).Msg("dispatcher: assign_job failed")
		return nil, false, err
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		c.logger.Warn().Str("body", truncate(body, 256)).Msg("dispatcher: assign_job returned unparseable JSON")
		return nil, false, nil
	}

	jobID, ok1 := raw["job_id"].(string)
	sourceURL, ok2 := raw["source_url"].(string)
	targetCodec, ok3 := raw["target_codec"].(string)
	if !ok1 || !ok2 || !ok3 {
		return nil, false, nil
	}

	return &models.Job{JobID: jobID, SourceURL: sourceURL, TargetCodec: targetCodec}, true, nil
}

// CompleteJob reports successful completion. Best-effort: the retrying
// transport built in New makes up to RetryMax further attempts on
// connection errors and retryable statuses; once those are spent the error
// is returned and the report is not re-sent by the client or the ledger.
func (c *Client) CompleteJob(ctx context.Context, jobID, outputURL string) error {
	path := fmt.Sprintf("/jobs/%s/complete", jobID)
	_, err := c.post(ctx, path, models.CompleteJobRequest{OutputURL: outputURL})
	if err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("dispatcher: complete_job failed")
	}
	return err
}

// FailJob reports job failure. Best-effort.
func (c *Client) FailJob(ctx context.Context, jobID, reason string) error {
	path := fmt.Sprintf("/jobs/%s/fail", jobID)
	_, err := c.post(ctx, path, models.FailJobRequest{ErrorMessage: reason})
	if err != nil {
		c.logger.Warn().Err(err).Str("job_id", jobID).Msg("dispatcher: fail_job failed")
	}
	return err
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "...(truncated)"
}
