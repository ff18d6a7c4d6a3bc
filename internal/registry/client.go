package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/metrics"
	"github.com/chemprep/backend/pkg/logger"
	"github.com/chemprep/backend/pkg/retry"
)

const bodyExcerptLimit = 512

// Client performs typed JSON requests against the remote substance registry.
// An opaque session token is forwarded verbatim in the subjectid header when
// the caller supplies one.
type Client struct {
	httpClient  *http.Client
	retryConfig retry.Config
}

type Config struct {
	Timeout         time.Duration
	MaxConnsPerHost int
	MaxRetries      int
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 16
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	retryConfig := retry.Config{
		MaxAttempts:    cfg.MaxRetries,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      retryableError,
		Logger:         logger.GetLogger(),
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		retryConfig: retryConfig,
	}
}

func retryableError(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Retryable()
	}
	// transport-level failures (refused, reset, timeout)
	return true
}

// GetSubstances lists the substances of a bundle.
func (c *Client) GetSubstances(ctx context.Context, bundleURI, subjectID string) ([]Substance, error) {
	var bundle BundleSubstances
	err := c.getJSON(ctx, bundleURI+"/substance", subjectID, &bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bundle substances: %w", err)
	}

	logger.Debug("Fetched bundle substances",
		zap.String("bundle", bundleURI),
		zap.Int("count", len(bundle.Substance)),
	)
	return bundle.Substance, nil
}

// GetProperties fetches the property catalog of a bundle. The returned map
// is keyed by property category code.
func (c *Client) GetProperties(ctx context.Context, bundleURI, subjectID string) (map[string]interface{}, error) {
	var props BundleProperties
	err := c.getJSON(ctx, bundleURI+"/property", subjectID, &props)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bundle properties: %w", err)
	}
	if props.Feature == nil {
		return map[string]interface{}{}, nil
	}
	return props.Feature, nil
}

// GetStudies fetches all studies recorded for a substance.
func (c *Client) GetStudies(ctx context.Context, substanceURI, subjectID string) ([]Study, error) {
	var studies Studies
	err := c.getJSON(ctx, substanceURI+"/study", subjectID, &studies)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch studies for %s: %w", substanceURI, err)
	}
	return studies.Study, nil
}

// GetFeatureTitle resolves a remote feature URI to its human readable title.
// The payload nests the title under feature.{uri}.title.
func (c *Client) GetFeatureTitle(ctx context.Context, featureURI, subjectID string) (string, error) {
	var payload struct {
		Feature map[string]struct {
			Title string `json:"title"`
		} `json:"feature"`
	}

	err := c.getJSON(ctx, featureURI, subjectID, &payload)
	if err != nil {
		return "", fmt.Errorf("failed to fetch feature title: %w", err)
	}

	entry, ok := payload.Feature[featureURI]
	if !ok {
		return "", fmt.Errorf("feature %s missing from title response", featureURI)
	}
	return entry.Title, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL, subjectID string, out interface{}) error {
	body, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		return c.doGet(ctx, rawURL, subjectID)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{
			Endpoint:    rawURL,
			Status:      http.StatusOK,
			BodyExcerpt: "malformed JSON: " + excerpt(body),
		}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, rawURL, subjectID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if subjectID != "" {
		req.Header.Set("subjectid", subjectID)
	}

	timer := prometheus.NewTimer(metrics.UpstreamRequestDuration.WithLabelValues(upstreamLabel(rawURL)))
	defer timer.ObserveDuration()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Endpoint:    rawURL,
			Status:      resp.StatusCode,
			BodyExcerpt: excerpt(body),
		}
	}

	return body, nil
}

// PostForm issues a form-encoded POST and decodes the JSON answer into out.
// Used by the compute clients, which share the registry's pooling and token
// forwarding rules.
func (c *Client) PostForm(ctx context.Context, rawURL, subjectID string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if subjectID != "" {
		req.Header.Set("subjectid", subjectID)
	}

	timer := prometheus.NewTimer(metrics.UpstreamRequestDuration.WithLabelValues(upstreamLabel(rawURL)))
	defer timer.ObserveDuration()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{
			Endpoint:    rawURL,
			Status:      resp.StatusCode,
			BodyExcerpt: excerpt(body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{
			Endpoint:    rawURL,
			Status:      resp.StatusCode,
			BodyExcerpt: "malformed JSON: " + excerpt(body),
		}
	}
	return nil
}

func upstreamLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func excerpt(body []byte) string {
	s := string(body)
	if len(s) > bodyExcerptLimit {
		s = s[:bodyExcerptLimit]
	}
	return s
}
