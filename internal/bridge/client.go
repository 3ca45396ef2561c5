// Package bridge talks to the device's native layer over a local HTTP
// bridge: the actual SMS/MMS send capability and the approval UI.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client

	// AckTimeout bounds the wait for the bridge's send acknowledgment. An
	// ack that never arrives is assumed success; this is a heuristic, not a
	// delivery confirmation.
	AckTimeout time.Duration
}

type sendRequest struct {
	Phone    string `json:"phone"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type sendResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Send dispatches one message through the native layer. Once the request is
// on the wire it cannot be cancelled; it runs to completion on the device.
func (c *Client) Send(ctx context.Context, phone, message, imageURL string) error {
	ackTimeout := c.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 2 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	body, _ := json.Marshal(sendRequest{Phone: phone, Message: message, ImageURL: imageURL})
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint("/v1/send"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			// The bridge accepted the connection but never acked in time.
			slog.Warn("send ack timed out, assuming success", "phone", phone)
			return nil
		}
		return fmt.Errorf("send bridge: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send bridge status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out sendResponse
	_ = json.Unmarshal(b, &out)
	if out.Status == "failed" {
		if out.Error != "" {
			return errors.New(out.Error)
		}
		return errors.New("native send failed")
	}
	return nil
}

// PromptRequest is what the approval UI shows: one task, or one aggregate
// prompt covering a whole batch.
type PromptRequest struct {
	TaskID  string   `json:"taskId,omitempty"`
	TaskIDs []string `json:"taskIds,omitempty"`
	Count   int      `json:"count,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Prompt asks the native UI to present an approval dialog. The resolution
// arrives asynchronously through the agent's HTTP API.
func (c *Client) Prompt(ctx context.Context, p PromptRequest) error {
	body, _ := json.Marshal(p)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/approvals"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("approval bridge: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("approval bridge status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}
