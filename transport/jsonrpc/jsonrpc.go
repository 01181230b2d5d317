// Package jsonrpc is an HTTP JSON-RPC 2.0 Transport built on resty.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"resty.dev/v3"

	"github.com/unkn0wn-root/tcms/transport"
)

var ErrNoURL = errors.New("jsonrpc: url is required")

type Config struct {
	URL      string        // endpoint, e.g. https://tcms.example.com/json/
	Username string        // optional basic auth
	Password string        // optional basic auth
	Timeout  time.Duration // 0 => 30s
	Headers  map[string]string
}

// Client implements transport.Transport. Calls are synchronous; the id
// counter only makes responses traceable in server logs.
type Client struct {
	http *resty.Client
	url  string
	seq  atomic.Uint64
}

var _ transport.Transport = (*Client)(nil)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Username != "" {
		hc.SetBasicAuth(cfg.Username, cfg.Password)
	}
	for k, v := range cfg.Headers {
		hc.SetHeader(k, v)
	}
	return &Client{http: hc, url: cfg.URL}, nil
}

func (c *Client) Call(ctx context.Context, method string, params ...any) (any, error) {
	if params == nil {
		params = []any{}
	}
	req := request{JSONRPC: "2.0", Method: method, Params: params, ID: c.seq.Add(1)}

	var out response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc %s: %w", method, err)
	}
	if out.Error != nil {
		return nil, &transport.Fault{Method: method, Message: out.Error.Message}
	}
	if resp.IsError() {
		return nil, &transport.Fault{Method: method, Message: fmt.Sprintf("http %d: %s", resp.StatusCode(), resp.String())}
	}
	if len(out.Result) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(out.Result, &v); err != nil {
		return nil, fmt.Errorf("jsonrpc %s: decode result: %w", method, err)
	}
	return v, nil
}

// Close releases idle connections held by the underlying client.
func (c *Client) Close() error {
	return c.http.Close()
}
