package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dispatch-api/internal/model"
	"github.com/jwalitptl/dispatch-api/pkg/circuitbreaker"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
)

// Prediction pairs a contact with its optimal-call-time estimate.
type Prediction struct {
	ContactID       uuid.UUID              `json:"contactId"`
	OptimalCallTime *model.OptimalCallTime `json:"optimalCallTime"`
}

// Client asks the inference endpoint for best-time-to-reach predictions.
// When the endpoint is unavailable the documented fallback applies: every
// contact gets a nil window with zero confidence, which ranks last without
// excluding anyone.
type Client interface {
	PredictBatch(ctx context.Context, contacts []*model.Contact) ([]Prediction, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type client struct {
	config     Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logger.Logger
}

func NewClient(config Config, log *logger.Logger) Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "prediction",
			MaxFailures: 3,
			Timeout:     time.Minute,
		}),
		logger: log,
	}
}

type predictRequest struct {
	ID          uuid.UUID     `json:"id"`
	PhoneNumber string        `json:"phoneNumber"`
	Timezone    string        `json:"timezone,omitempty"`
	Metadata    model.JSONMap `json:"metadata,omitempty"`
}

func (c *client) PredictBatch(ctx context.Context, contacts []*model.Contact) ([]Prediction, error) {
	if len(contacts) == 0 {
		return nil, nil
	}

	reqs := make([]predictRequest, 0, len(contacts))
	for _, contact := range contacts {
		r := predictRequest{
			ID:          contact.ID,
			PhoneNumber: contact.PhoneNumber,
			Metadata:    contact.Metadata,
		}
		if contact.Timezone != nil {
			r.Timezone = *contact.Timezone
		}
		reqs = append(reqs, r)
	}

	payload, err := json.Marshal(map[string]interface{}{"contacts": reqs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	var predictions []Prediction
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/predict", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build prediction request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("prediction request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("prediction returned status %d", resp.StatusCode)
		}

		var body struct {
			Predictions []Prediction `json:"predictions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode predictions: %w", err)
		}
		predictions = body.Predictions
		return nil
	})
	if err != nil {
		c.logger.WarnErr(err, "prediction collaborator unavailable, using low-confidence default",
			"contacts", len(contacts))
		return defaultPredictions(contacts), nil
	}
	return predictions, nil
}

func defaultPredictions(contacts []*model.Contact) []Prediction {
	out := make([]Prediction, 0, len(contacts))
	for _, contact := range contacts {
		out = append(out, Prediction{ContactID: contact.ID, OptimalCallTime: nil})
	}
	return out
}
