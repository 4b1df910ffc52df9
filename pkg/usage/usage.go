// Package usage reports the agent's subscription usage windows by querying
// the upstream OAuth usage API.
package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/codeck/gateway/pkg/cache"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultAPIURL is the upstream usage endpoint.
	DefaultAPIURL = "https://api.anthropic.com/api/oauth/usage"
	// TokenEnv names the environment variable checked before the credentials file.
	TokenEnv = "CLAUDE_CODE_OAUTH_TOKEN"
	// TokenPrefix identifies OAuth access tokens.
	TokenPrefix = "sk-ant-oat01-"

	betaHeader = "oauth-2025-04-20"
)

// ErrNoToken means neither the environment nor the credentials file holds a
// usable OAuth token.
var ErrNoToken = errors.New("no oauth token available")

// Window is one rate-limit window.
type Window struct {
	Utilization float64 `json:"utilization"`
	Percent     int     `json:"percent"`
	ResetsAt    *string `json:"resetsAt"`
}

// Report is the usage returned to clients. Available is false whenever the
// upstream could not be queried.
type Report struct {
	Available bool    `json:"available"`
	FiveHour  *Window `json:"fiveHour"`
	SevenDay  *Window `json:"sevenDay"`
}

// Unavailable is the report served on any failure.
func Unavailable() Report {
	return Report{Available: false}
}

// Config configures a Client
type Config struct {
	APIURL          string
	CredentialsFile string
	CacheTTL        time.Duration
	Timeout         time.Duration
}

// DefaultConfig returns the upstream URL, ~/.claude/.credentials.json and a
// 60 second cache.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		APIURL:          DefaultAPIURL,
		CredentialsFile: home + "/.claude/.credentials.json",
		CacheTTL:        60 * time.Second,
		Timeout:         10 * time.Second,
	}
}

// Client fetches and caches usage reports
type Client struct {
	config Config
	http   *http.Client
	getenv func(string) string
	logger logrus.FieldLogger
	cache  *cache.PullThrough[struct{}, Report]
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithGetenv replaces os.Getenv for token lookup.
func WithGetenv(fn func(string) string) Option {
	return func(cl *Client) { cl.getenv = fn }
}

// WithLogger sets the logger for upstream failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// NewClient creates a usage client
func NewClient(config Config, opts ...Option) *Client {
	defaults := DefaultConfig()
	if config.APIURL == "" {
		config.APIURL = defaults.APIURL
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	c := &Client{
		config: config,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		getenv: os.Getenv,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cache = cache.NewPullThrough(cache.Config{MaxEntries: 1, TTL: config.CacheTTL}, func(ctx context.Context, _ struct{}) (Report, error) {
		return c.fetch(ctx)
	})
	return c
}

// Get returns the current usage report. Successful reports are cached;
// failures return Unavailable and are retried on the next call.
func (c *Client) Get(ctx context.Context) Report {
	report, err := c.cache.Get(ctx, struct{}{})
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			c.logger.WithError(err).Warn("failed to fetch agent usage")
		}
		return Unavailable()
	}
	return report
}

// Token returns the OAuth access token, preferring the environment.
func (c *Client) Token() (string, error) {
	if tok := c.getenv(TokenEnv); strings.HasPrefix(tok, TokenPrefix) {
		return tok, nil
	}
	if c.config.CredentialsFile == "" {
		return "", ErrNoToken
	}

	data, err := os.ReadFile(c.config.CredentialsFile)
	if err != nil {
		return "", ErrNoToken
	}
	var creds struct {
		ClaudeAiOauth struct {
			AccessToken string `json:"accessToken"`
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", ErrNoToken
	}
	if tok := creds.ClaudeAiOauth.AccessToken; strings.HasPrefix(tok, TokenPrefix) {
		return tok, nil
	}
	return "", ErrNoToken
}

type upstreamWindow struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    *string  `json:"resets_at"`
}

type upstreamResponse struct {
	FiveHour *upstreamWindow `json:"five_hour"`
	SevenDay *upstreamWindow `json:"seven_day"`
}

func (c *Client) fetch(ctx context.Context) (Report, error) {
	token, err := c.Token()
	if err != nil {
		return Report{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL, nil)
	if err != nil {
		return Report{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("usage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Report{}, fmt.Errorf("usage API returned status %d", resp.StatusCode)
	}

	var body upstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Report{}, fmt.Errorf("failed to decode usage response: %w", err)
	}

	return Report{
		Available: true,
		FiveHour:  toWindow(body.FiveHour),
		SevenDay:  toWindow(body.SevenDay),
	}, nil
}

func toWindow(w *upstreamWindow) *Window {
	if w == nil {
		return nil
	}
	out := &Window{}
	if w.Utilization != nil {
		out.Utilization = *w.Utilization
	}
	out.Percent = int(math.Floor(out.Utilization + 0.5))
	if w.ResetsAt != nil && *w.ResetsAt != "" {
		out.ResetsAt = w.ResetsAt
	}
	return out
}
