package synthesis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/dispatch-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/dispatch-api/pkg/errors"
	"github.com/jwalitptl/dispatch-api/pkg/metrics"
)

// Result is the synthesized audio reference.
type Result struct {
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

// Client synthesizes speech for escalated messages. Results are memoized by
// content hash so repeated escalations of the same text never pay the
// synthesis cost twice.
type Client interface {
	Synthesize(ctx context.Context, text, language string) (*Result, error)
}

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	OutputFormat string
	SampleRate   int
	MemoTTL      time.Duration
}

type client struct {
	config     Config
	httpClient *http.Client
	memo       *gocache.Cache
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
}

func NewClient(config Config, m *metrics.Metrics) Client {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "mp3"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 8000
	}
	memoTTL := config.MemoTTL
	if memoTTL <= 0 {
		memoTTL = time.Hour
	}
	return &client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		memo:       gocache.New(memoTTL, 2*memoTTL),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "synthesis",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		metrics: m,
	}
}

func contentHash(text, language string) string {
	sum := sha256.Sum256([]byte(language + "|" + text))
	return hex.EncodeToString(sum[:])
}

func (c *client) Synthesize(ctx context.Context, text, language string) (*Result, error) {
	key := contentHash(text, language)
	if url, found := c.memo.Get(key); found {
		if c.metrics != nil {
			c.metrics.SynthesisCacheHits.Inc()
		}
		return &Result{URL: url.(string), Cached: true}, nil
	}

	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.SynthesisLatency)
		defer timer.ObserveDuration()
	}

	payload, err := json.Marshal(map[string]interface{}{
		"text":         text,
		"language":     language,
		"outputFormat": c.config.OutputFormat,
		"sampleRate":   c.config.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	var result Result
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/synthesize", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build synthesis request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("synthesis request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("synthesis returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return nil, apperrors.NewCollaboratorUnavailable("synthesis", err)
	}

	c.memo.SetDefault(key, result.URL)
	return &result, nil
}
