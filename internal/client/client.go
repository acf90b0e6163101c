// Package client talks to a running roombot server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/roombot/internal/api"
	"github.com/Iron-Ham/roombot/internal/bot"
)

const defaultBaseURL = "http://127.0.0.1:7860"

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 8192

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
	Err        *api.Error
}

func (e *APIError) Error() string {
	msg := e.Detail
	if e.Err != nil && e.Err.Message != "" {
		msg = e.Err.Message
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("roombot error (status %d): %s", e.StatusCode, msg)
}

// Type returns the error type from the envelope, or "" when the server did
// not send one.
func (e *APIError) Type() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Type
}

// Client is a roombot API client. The zero value is not usable; use New.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New creates a client for the server at baseURL. baseURL includes any
// path prefix the server is mounted under.
func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
		dialer:     websocket.DefaultDialer,
	}
}

// Start asks the server to spawn a bot.
func (c *Client) Start(ctx context.Context, req bot.Request) (api.StartResponse, error) {
	var out api.StartResponse
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("marshal request: %w", err)
	}
	err = c.do(ctx, http.MethodPost, "/start", bytes.NewReader(body), &out)
	return out, err
}

// Status returns the current status of a bot.
func (c *Client) Status(ctx context.Context, botID string) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(botID), nil, &out)
	return out, err
}

// Bots lists tracked bots, optionally limited to one room.
func (c *Client) Bots(ctx context.Context, roomURL string) (api.BotsResponse, error) {
	var out api.BotsResponse
	path := "/bots"
	if roomURL != "" {
		path += "?" + url.Values{"room_url": {roomURL}}.Encode()
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Prompts lists the prompt scenarios the server accepts.
func (c *Client) Prompts(ctx context.Context) (api.PromptsResponse, error) {
	var out api.PromptsResponse
	err := c.do(ctx, http.MethodGet, "/prompts", nil, &out)
	return out, err
}

// Ready reports the server's readiness probe. A not-ready server returns
// its ReadyResponse together with an *APIError.
func (c *Client) Ready(ctx context.Context) (api.ReadyResponse, error) {
	var out api.ReadyResponse
	req, err := c.newRequest(ctx, http.MethodGet, "/readyz", nil)
	if err != nil {
		return out, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, &APIError{StatusCode: resp.StatusCode, Detail: strings.Join(out.Issues, "; ")}
	}
	return out, nil
}

// Watch streams status frames for a bot until the bot reaches a terminal
// status, the server closes the stream, ctx ends, or fn returns an error.
// A frame carrying an Error is delivered to fn and then returned as an
// *APIError.
func (c *Client) Watch(ctx context.Context, botID string, fn func(api.WatchFrame) error) error {
	wsURL, err := c.websocketURL("/status/" + url.PathEscape(botID) + "/watch")
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("dial watch: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var frame api.WatchFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read watch frame: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
		if frame.Error != nil {
			return &APIError{StatusCode: http.StatusServiceUnavailable, Detail: frame.Error.Message, Err: frame.Error}
		}
	}
}

func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var env api.Envelope
	if err := json.Unmarshal(b, &env); err == nil && (env.Error != nil || env.Detail != "") {
		apiErr.Detail = env.Detail
		apiErr.Err = env.Error
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(b))
	return apiErr
}

// IsType reports whether err is an *APIError of the given envelope type.
func IsType(err error, errType string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type() == errType
}
