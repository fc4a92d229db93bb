// internal/relay/http.go
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPService talks to a relay server's REST control plane. The data plane
// is the websocket transport in transport.go.
type HTTPService struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPService(baseURL string, client *http.Client) *HTTPService {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPService{BaseURL: baseURL, Client: client}
}

func (h *HTTPService) Allocate(ctx context.Context, capacity int) (*Allocation, error) {
	body := struct {
		Capacity int `json:"capacity"`
	}{capacity}
	var alloc Allocation
	if err := h.do(ctx, http.MethodPost, "/allocations", body, &alloc); err != nil {
		return nil, err
	}
	return &alloc, nil
}

func (h *HTTPService) JoinCode(ctx context.Context, allocationID string) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	if err := h.do(ctx, http.MethodGet, "/allocations/"+allocationID+"/code", nil, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

func (h *HTTPService) Join(ctx context.Context, code string) (*Allocation, error) {
	body := struct {
		Code string `json:"code"`
	}{code}
	var alloc Allocation
	if err := h.do(ctx, http.MethodPost, "/join", body, &alloc); err != nil {
		return nil, err
	}
	return &alloc, nil
}

func (h *HTTPService) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("relay: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("relay: failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return &ServiceError{Reason: ReasonUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb struct {
			Error  string `json:"error"`
			Reason string `json:"reason,omitempty"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		msg := eb.Error
		if msg == "" {
			msg = resp.Status
		}
		reason := ReasonUnknown
		switch {
		case eb.Reason == "code_invalid":
			reason = ReasonCodeInvalid
		case eb.Reason == "full":
			reason = ReasonFull
		case resp.StatusCode == http.StatusNotFound:
			reason = ReasonNotFound
		}
		return &ServiceError{Reason: reason, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Reason: ReasonUnknown, Message: fmt.Sprintf("bad response body: %v", err)}
	}
	return nil
}
