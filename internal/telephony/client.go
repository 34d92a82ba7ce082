package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jwalitptl/dispatch-api/pkg/circuitbreaker"
)

// CallCommand instructs the telephony collaborator to place one outbound
// call. Outcome and DTMF events come back asynchronously on the lifecycle
// event channel, never through this client.
type CallCommand struct {
	CallID       string                 `json:"callId"`
	PhoneNumber  string                 `json:"phoneNumber"`
	AudioFileURL string                 `json:"audioFileUrl"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type Client interface {
	PlaceCall(ctx context.Context, cmd CallCommand) error
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type client struct {
	config     Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(config Config) Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "telephony",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
	}
}

func (c *client) PlaceCall(ctx context.Context, cmd CallCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal call command: %w", err)
	}

	return c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/calls", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build call request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("telephony request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("telephony returned status %d", resp.StatusCode)
		}
		return nil
	})
}
