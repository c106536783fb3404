package syncagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/EternisAI/silo-config/pkg/configapi"
)

// Transport carries the three client calls to the server.
type Transport interface {
	Register(ctx context.Context, req *configapi.RegisterRequest) (*configapi.RegisterResponse, error)
	Heartbeat(ctx context.Context, req *configapi.HeartbeatRequest) (*configapi.HeartbeatResponse, error)
	Values(ctx context.Context, req *configapi.ValuesRequest) (*configapi.ValuesResponse, error)
}

const defaultHTTPTimeout = 10 * time.Second

type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport talks JSON to the server's HTTP API. A nil client gets a
// default with a 10s timeout.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *HTTPTransport) Register(ctx context.Context, req *configapi.RegisterRequest) (*configapi.RegisterResponse, error) {
	var resp configapi.RegisterResponse
	if err := t.post(ctx, "register", configapi.RegisterPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) Heartbeat(ctx context.Context, req *configapi.HeartbeatRequest) (*configapi.HeartbeatResponse, error) {
	var resp configapi.HeartbeatResponse
	if err := t.post(ctx, "heartbeat", configapi.HeartbeatPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) Values(ctx context.Context, req *configapi.ValuesRequest) (*configapi.ValuesResponse, error) {
	var resp configapi.ValuesResponse
	if err := t.post(ctx, "values", configapi.ValuesPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if err := statusError(op, resp.StatusCode, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(op string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	var e configapi.ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrAuthentication)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrUnknownClient)
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %s", op, ErrInvalidRequest, msg)
	}
	return &TransportError{Op: op, StatusCode: code, Err: errors.New(msg)}
}
