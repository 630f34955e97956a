package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
)

// Client posts events to the realtime gateway that fans them out to
// connected UI clients.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Event struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Data    any    `json:"data"`
}

type SendEventsRequest struct {
	Events []Event `json:"events"`
}

type SendEventsResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func NewClient(conf *config.Config) *Client {
	return &Client{
		baseURL: conf.Socket.BaseURL,
		httpClient: &http.Client{
			Timeout: conf.Socket.Timeout,
		},
	}
}

func (c *Client) SendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	reqBody := SendEventsRequest{Events: events}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/events", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errorResp SendEventsResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("socket server error: %s", errorResp.Error)
		}
		return fmt.Errorf("socket server returned status %d", resp.StatusCode)
	}

	var response SendEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !response.Success {
		return fmt.Errorf("socket server returned success=false: %s", response.Error)
	}

	log.Debugw(ctx, "sent events to socket server", "event_count", len(events))
	return nil
}
