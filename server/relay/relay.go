package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Payload is the subset of trigger-call fields forwarded to the
// call-automation webhook. Only fields the caller provided are encoded.
type Payload struct {
	Phone          string `json:"phone"`
	Name           string `json:"name,omitempty"`
	CodeWord       string `json:"code_word,omitempty"`
	EmergencyName  string `json:"emergency_name,omitempty"`
	EmergencyPhone string `json:"emergency_phone,omitempty"`
	ScheduledTime  string `json:"scheduled_time,omitempty"`
	Immediate      bool   `json:"immediate,omitempty"`
}

// Error carries the upstream response for a non-2xx webhook reply.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("webhook returned %v: %v", e.StatusCode, e.Body)
}

type Client struct {
	webhookURL string
	httpClient *http.Client
}

func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Trigger forwards the payload to the call-automation webhook. A single
// best-effort POST - no retry, no backoff.
func (c *Client) Trigger(payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook call failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Best effort read, body is only diagnostic detail
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return nil
}
