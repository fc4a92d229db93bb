// internal/directory/http.go
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// HTTPService talks to a directory server over its REST API.
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

func (h *HTTPService) Create(ctx context.Context, params CreateParams) (*Session, error) {
	var s Session
	if err := h.do(ctx, http.MethodPost, "/sessions", params, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *HTTPService) Join(ctx context.Context, params JoinParams) (*Session, error) {
	if params.SessionID == "" && params.Code == "" {
		return nil, &ServiceError{Reason: ReasonInvalidRequest, Message: "join requires a session id or code"}
	}
	var s Session
	if err := h.do(ctx, http.MethodPost, "/sessions/join", params, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *HTTPService) QuickJoin(ctx context.Context, filter Filter, player PlayerParams) (*Session, error) {
	body := struct {
		Filter Filter       `json:"filter"`
		Player PlayerParams `json:"player"`
	}{filter, player}
	var s Session
	if err := h.do(ctx, http.MethodPost, "/sessions/quickjoin", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *HTTPService) Query(ctx context.Context, filter Filter) ([]*Session, error) {
	path := "/sessions"
	if filter.Color != 0 {
		path += "?" + url.Values{"color": {strconv.Itoa(filter.Color)}}.Encode()
	}
	var list []*Session
	if err := h.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (h *HTTPService) Get(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := h.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *HTTPService) Leave(ctx context.Context, sessionID, playerID string) error {
	body := struct {
		PlayerID string `json:"playerId"`
	}{playerID}
	return h.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/leave", body, nil)
}

func (h *HTTPService) UpdateSession(ctx context.Context, sessionID string, data map[string]Property, lock bool) (*Session, error) {
	body := struct {
		Data map[string]Property `json:"data"`
		Lock bool                `json:"lock"`
	}{data, lock}
	var s Session
	if err := h.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(sessionID)+"/data", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *HTTPService) UpdatePlayer(ctx context.Context, sessionID, playerID string, data map[string]string, allocationID, connectionInfo string) (*Session, error) {
	body := struct {
		Data           map[string]string `json:"data"`
		AllocationID   string            `json:"allocationId,omitempty"`
		ConnectionInfo string            `json:"connectionInfo,omitempty"`
	}{data, allocationID, connectionInfo}
	path := "/sessions/" + url.PathEscape(sessionID) + "/players/" + url.PathEscape(playerID)
	var s Session
	if err := h.do(ctx, http.MethodPatch, path, body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (h *HTTPService) Heartbeat(ctx context.Context, sessionID string) error {
	return h.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/heartbeat", nil, nil)
}

// do performs one request/response cycle, translating non-2xx responses into
// ServiceErrors.
func (h *HTTPService) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("directory: failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("directory: failed to build request: %w", err)
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
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Reason: ReasonUnknown, Message: fmt.Sprintf("bad response body: %v", err)}
	}
	return nil
}

// errorBody is the JSON error envelope the directory server responds with.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func decodeError(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
	msg := eb.Error
	if msg == "" {
		msg = resp.Status
	}

	reason := ReasonUnknown
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		reason = ReasonRateLimited
	case resp.StatusCode == http.StatusNotFound:
		reason = ReasonNotFound
	case eb.Reason == "full":
		reason = ReasonSessionFull
	case eb.Reason == "locked":
		reason = ReasonSessionLocked
	case resp.StatusCode == http.StatusBadRequest:
		reason = ReasonInvalidRequest
	}
	return &ServiceError{Reason: reason, Message: msg}
}
