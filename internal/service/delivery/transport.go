package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SendReceipt is the provider's acknowledgement of an accepted message.
type SendReceipt struct {
	MessageID string  `json:"messageId"`
	Cost      float64 `json:"cost"`
}

// ProviderError is a classified rejection from the SMS provider, as opposed
// to an unexpected transport failure.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider rejected message (%s): %s", e.Code, e.Message)
}

// SMSTransport submits one message to the SMS provider.
type SMSTransport interface {
	Send(ctx context.Context, phoneNumber, text string) (*SendReceipt, error)
}

type HTTPTransportConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpTransport struct {
	config HTTPTransportConfig
	client *http.Client
}

// NewHTTPTransport builds the JSON-over-HTTP provider client.
func NewHTTPTransport(config HTTPTransportConfig) SMSTransport {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpTransport{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

func (t *httpTransport) Send(ctx context.Context, phoneNumber, text string) (*SendReceipt, error) {
	payload, err := json.Marshal(map[string]string{
		"to":   phoneNumber,
		"body": text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms transport request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var receipt SendReceipt
		if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
			return nil, fmt.Errorf("failed to decode sms receipt: %w", err)
		}
		return &receipt, nil
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var provErr ProviderError
		if err := json.NewDecoder(resp.Body).Decode(&provErr); err != nil || provErr.Code == "" {
			return nil, fmt.Errorf("sms provider returned status %d", resp.StatusCode)
		}
		return nil, &provErr
	}

	return nil, fmt.Errorf("sms provider returned status %d", resp.StatusCode)
}
