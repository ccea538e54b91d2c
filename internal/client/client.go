// Package client talks to a tempest server over HTTP and websocket.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/service"
)

// ErrNoReply is returned when the server decided not to answer a prompt.
var ErrNoReply = errors.New("no reply")

// APIError is a non-success answer from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Detail)
}

// Client calls a tempest server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client.
// If endpoint is empty, uses TEMPEST_SERVER_URL or defaults to localhost:3000.
// The timeout can be set with TEMPEST_CLIENT_TIMEOUT (default 5m; turns stream for a while).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("TEMPEST_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:3000"
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("TEMPEST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// line is one NDJSON line: a chunk, or a closing detail after a failure.
type line struct {
	service.Chunk
	Detail string `json:"detail"`
}

// Process sends a prompt and streams the reply. onChunk receives each sentence as it
// arrives and may be nil. The returned response is the server's final line.
func (c *Client) Process(ctx context.Context, req service.Request, voice bool, onChunk func(service.Chunk) error) (*service.Response, error) {
	path := "/process"
	if voice {
		path = "/processVoice"
	}

	resp, err := c.post(ctx, path, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoReply
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var l line
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			return nil, fmt.Errorf("unmarshal line: %w", err)
		}
		if l.Detail != "" {
			return nil, &APIError{Status: http.StatusInternalServerError, Detail: l.Detail}
		}
		if l.Final {
			final := l.Chunk
			return &final, nil
		}
		if onChunk != nil {
			if err := onChunk(l.Chunk); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, errors.New("stream ended without a final line")
}

type historyRequest struct {
	Limit  int    `json:"limit,omitempty"`
	UserID string `json:"userId"`
}

// GetHistory returns up to limit stored messages for userID, oldest first.
func (c *Client) GetHistory(ctx context.Context, userID string, limit int) ([]models.Memory, error) {
	var history []models.Memory
	if err := c.call(ctx, "/getHistory", historyRequest{Limit: limit, UserID: userID}, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// DeleteHistory drops the conversation stored for userID.
func (c *Client) DeleteHistory(ctx context.Context, userID string) error {
	return c.call(ctx, "/deleteHistory", historyRequest{UserID: userID}, nil)
}

// ResetVoice takes the user's voice session out of listening mode.
func (c *Client) ResetVoice(ctx context.Context, userID string) error {
	return c.call(ctx, "/resetVoice", historyRequest{UserID: userID}, nil)
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}
	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &snap, nil
}

func (c *Client) call(ctx context.Context, path string, body, result any) error {
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err != nil || detail.Detail == "" {
		detail.Detail = strings.TrimSpace(string(body))
	}
	return &APIError{Status: resp.StatusCode, Detail: detail.Detail}
}

// =============================================================================
// STREAMING OPERATIONS
// =============================================================================

// Chat is an open websocket conversation. Turns are sent one at a time.
type Chat struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// wsRequest mirrors the server's websocket turn request.
type wsRequest struct {
	service.Request
	Voice bool `json:"voice"`
}

// wsMessage is either a chunk or an error with a status.
type wsMessage struct {
	service.Chunk
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// OpenChat connects to the server's websocket endpoint.
func (c *Client) OpenChat(ctx context.Context) (*Chat, error) {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &Chat{conn: conn}, nil
}

// Send runs one turn, passing each streamed sentence to onChunk, and returns the final
// reply. A declined prompt yields ErrNoReply.
func (ch *Chat) Send(ctx context.Context, req service.Request, voice bool, onChunk func(service.Chunk) error) (*service.Response, error) {
	if err := ch.conn.WriteJSON(wsRequest{Request: req, Voice: voice}); err != nil {
		return nil, fmt.Errorf("send turn: %w", err)
	}

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ch.Close()
		case <-done:
		}
	}()

	for {
		var msg wsMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read message: %w", err)
		}

		switch {
		case msg.Status == http.StatusNoContent:
			return nil, ErrNoReply
		case msg.Status != 0:
			return nil, &APIError{Status: msg.Status, Detail: msg.Detail}
		case msg.Final:
			final := msg.Chunk
			return &final, nil
		case onChunk != nil:
			if err := onChunk(msg.Chunk); err != nil {
				return nil, err
			}
		}
	}
}

// Close ends the conversation. It is safe to call more than once.
func (ch *Chat) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	_ = ch.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return ch.conn.Close()
}
