// Package client is a typed HTTP client for the devserd daemon API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the devserd daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// DefaultTLSConfig returns default TLS client configuration
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://localhost:8080/api",
		Timeout: 10 * time.Second,
		TLS: &TLSClientConfig{
			Enabled: true,
		},
	}
}

// InsecureConfig returns insecure client configuration (skip TLS verification)
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://localhost:8080/api",
		Timeout:  10 * time.Second,
		Insecure: true,
	}
}

// New creates a new devserd API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode != http.StatusNotFound
}

// Start launches a project on the daemon and returns its record. Detached
// starts return immediately with a starting record.
func (c *Client) Start(ctx context.Context, req StartRequest) (ProcessRecord, error) {
	c.logger.Debug("Starting project", "name", req.Name, "command", req.Command, "detached", req.Options.Detached)

	var rec ProcessRecord
	data, err := json.Marshal(req)
	if err != nil {
		return rec, fmt.Errorf("marshal request: %w", err)
	}
	err = c.do(ctx, http.MethodPost, c.endpoint("/start", nil), data, &rec)
	return rec, err
}

// Stop terminates a project and removes its record. An empty signal means
// the daemon default.
func (c *Client) Stop(ctx context.Context, project, signal string) error {
	c.logger.Debug("Stopping project", "name", project, "signal", signal)

	q := url.Values{"project": {project}}
	if signal != "" {
		q.Set("signal", signal)
	}
	return c.do(ctx, http.MethodPost, c.endpoint("/stop", q), nil, nil)
}

// Restart stops a project and relaunches it with its original configuration.
func (c *Client) Restart(ctx context.Context, project string) (ProcessRecord, error) {
	c.logger.Debug("Restarting project", "name", project)

	var rec ProcessRecord
	q := url.Values{"project": {project}}
	err := c.do(ctx, http.MethodPost, c.endpoint("/restart", q), nil, &rec)
	return rec, err
}

// KillAll terminates every tracked project. An empty signal means the
// daemon default.
func (c *Client) KillAll(ctx context.Context, signal string) error {
	c.logger.Debug("Killing all projects", "signal", signal)

	var q url.Values
	if signal != "" {
		q = url.Values{"signal": {signal}}
	}
	return c.do(ctx, http.MethodPost, c.endpoint("/kill-all", q), nil, nil)
}

// Status returns the record for one project.
func (c *Client) Status(ctx context.Context, project string) (ProcessRecord, error) {
	var rec ProcessRecord
	q := url.Values{"project": {project}}
	err := c.do(ctx, http.MethodGet, c.endpoint("/status", q), nil, &rec)
	return rec, err
}

// List returns all tracked records sorted by project name.
func (c *Client) List(ctx context.Context) ([]ProcessRecord, error) {
	var recs []ProcessRecord
	err := c.do(ctx, http.MethodGet, c.endpoint("/status", nil), nil, &recs)
	return recs, err
}

// Stats returns status bucket counts over the daemon's process table.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.do(ctx, http.MethodGet, c.endpoint("/stats", nil), nil, &st)
	return st, err
}

// Output returns up to n retained output lines for a project, oldest first.
// n <= 0 returns all retained lines.
func (c *Client) Output(ctx context.Context, project string, n int) ([]OutputLine, error) {
	q := url.Values{"project": {project}}
	if n > 0 {
		q.Set("n", strconv.Itoa(n))
	}
	var resp OutputResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint("/output", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}

// Usage returns the latest resource reading for one project.
func (c *Client) Usage(ctx context.Context, project string) (ResourceUsage, error) {
	var u ResourceUsage
	q := url.Values{"project": {project}}
	err := c.do(ctx, http.MethodGet, c.endpoint("/usage", q), nil, &u)
	return u, err
}

// UsageAll returns resource readings for every tracked project.
func (c *Client) UsageAll(ctx context.Context) (map[string]ResourceUsage, error) {
	var all map[string]ResourceUsage
	err := c.do(ctx, http.MethodGet, c.endpoint("/usage", nil), nil, &all)
	return all, err
}

// UsageHistory returns retained usage samples for a project, oldest first.
func (c *Client) UsageHistory(ctx context.Context, project string) ([]UsageSample, error) {
	q := url.Values{"project": {project}}
	var resp UsageHistoryResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint("/usage/history", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// SetHealth reports an external health probe result for a project.
func (c *Client) SetHealth(ctx context.Context, project string, healthy bool) error {
	c.logger.Debug("Reporting health", "name", project, "healthy", healthy)

	q := url.Values{
		"project": {project},
		"healthy": {strconv.FormatBool(healthy)},
	}
	return c.do(ctx, http.MethodPost, c.endpoint("/health", q), nil, nil)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do performs an HTTP request, surfaces API errors, and decodes the
// response body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError decodes the daemon's {"error": ...} body into an error value.
func (c *Client) apiError(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
