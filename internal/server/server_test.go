package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tempest/internal/agent"
	"github.com/raphaelgruber/tempest/internal/embedding"
	"github.com/raphaelgruber/tempest/internal/gate"
	"github.com/raphaelgruber/tempest/internal/llm/llmtest"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/service"
	"github.com/raphaelgruber/tempest/internal/session"
)

func newTestServer(t *testing.T, limiter *RateLimiter) *httptest.Server {
	t.Helper()
	fake := &llmtest.Fake{
		Fragments: []string{"I love ramen. Shuna", " cooks it best."},
		GenerateFunc: func(prompt, system string) (string, error) {
			if strings.Contains(system, "should reply") {
				if strings.Contains(prompt, "Veldora") {
					return "no", nil
				}
				return "yes", nil
			}
			if strings.Contains(system, "come to an end") {
				return "no", nil
			}
			return "A summary.", nil
		},
	}

	mc := metrics.NewCollector()
	a := agent.New(memory.NewChromemStore(nil), embedding.NewHashEmbedder(32), fake, nil, mc, nil)
	svc := service.New(a, gate.New(a.Assembler(), fake, mc, nil), service.Options{
		Sessions: session.NewRegistry(10*time.Millisecond, nil),
	}, nil)
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(New(svc, mc, limiter, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readLines(t *testing.T, r io.Reader) []service.Chunk {
	t.Helper()
	var chunks []service.Chunk
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var c service.Chunk
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &c))
		chunks = append(chunks, c)
	}
	require.NoError(t, scanner.Err())
	return chunks
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcessStreamsNDJSON(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := post(t, srv, "/process", map[string]any{"prompt": "what's your favorite food?", "userId": "arthur"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	chunks := readLines(t, resp.Body)
	require.Len(t, chunks, 3)
	assert.Equal(t, "I love ramen.", chunks[0].Response)
	assert.Equal(t, "Shuna cooks it best.", chunks[1].Response)
	assert.False(t, chunks[1].Final)
	assert.True(t, chunks[2].Final)
	assert.Equal(t, "I love ramen. Shuna cooks it best.", chunks[2].Response)
	assert.Equal(t, "what's your favorite food?", chunks[2].RespondingTo)
}

func TestProcessValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := post(t, srv, "/process", map[string]any{"prompt": "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "prompt and userId are required", body.Detail)

	bad, err := http.Post(srv.URL+"/process", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestProcessVoice(t *testing.T) {
	srv := newTestServer(t, nil)

	declined := post(t, srv, "/processVoice", map[string]any{"prompt": "Veldora, come here", "userId": "arthur"})
	assert.Equal(t, http.StatusNoContent, declined.StatusCode)

	answered := post(t, srv, "/processVoice", map[string]any{"prompt": "Rimuru, hello!", "userId": "arthur"})
	require.Equal(t, http.StatusOK, answered.StatusCode)
	chunks := readLines(t, answered.Body)
	require.NotEmpty(t, chunks)
	assert.True(t, chunks[len(chunks)-1].Final)
}

func TestHistoryEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	missing := post(t, srv, "/getHistory", historyRequest{Limit: 5, UserID: "arthur"})
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	noLimit := post(t, srv, "/getHistory", historyRequest{UserID: "arthur"})
	assert.Equal(t, http.StatusBadRequest, noLimit.StatusCode)

	turn := post(t, srv, "/process", map[string]any{"prompt": "hello", "userId": "arthur"})
	_, _ = io.Copy(io.Discard, turn.Body)

	found := post(t, srv, "/getHistory", historyRequest{Limit: 5, UserID: "arthur"})
	require.Equal(t, http.StatusOK, found.StatusCode)
	var history []models.Memory
	require.NoError(t, json.NewDecoder(found.Body).Decode(&history))
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, models.SelfAuthor, history[1].Author)

	deleted := post(t, srv, "/deleteHistory", historyRequest{UserID: "arthur"})
	assert.Equal(t, http.StatusOK, deleted.StatusCode)

	gone := post(t, srv, "/getHistory", historyRequest{Limit: 5, UserID: "arthur"})
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestResetVoiceEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	voice := post(t, srv, "/processVoice", map[string]any{"prompt": "Rimuru!", "userId": "arthur"})
	_, _ = io.Copy(io.Discard, voice.Body)

	reset := post(t, srv, "/resetVoice", historyRequest{UserID: "arthur"})
	assert.Equal(t, http.StatusOK, reset.StatusCode)

	missing := post(t, srv, "/resetVoice", historyRequest{})
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestStatsAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	turn := post(t, srv, "/process", map[string]any{"prompt": "hello", "userId": "arthur"})
	_, _ = io.Copy(io.Discard, turn.Body)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.NotNil(t, snap.Turn)
	assert.Equal(t, int64(1), snap.Turn.Count)

	prom, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer prom.Body.Close()
	text, err := io.ReadAll(prom.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "tempest_http_requests_total")
	assert.Contains(t, string(text), "tempest_operation_duration_seconds")
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, NewRateLimiter(1, 1))

	first := post(t, srv, "/process", map[string]any{"prompt": "hello", "userId": "arthur"})
	_, _ = io.Copy(io.Discard, first.Body)
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := post(t, srv, "/process", map[string]any{"prompt": "hello", "userId": "arthur"})
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	other := post(t, srv, "/process", map[string]any{"prompt": "hello", "userId": "viyi"})
	assert.Equal(t, http.StatusOK, other.StatusCode, "limits are per identity")
}

func TestWebsocketTurn(t *testing.T) {
	srv := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"prompt": "hello", "userId": "arthur"}))

	var got []service.Chunk
	for {
		var c service.Chunk
		require.NoError(t, conn.ReadJSON(&c))
		got = append(got, c)
		if c.Final {
			break
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, "I love ramen.", got[0].Response)

	require.NoError(t, conn.WriteJSON(map[string]any{"prompt": "", "userId": "arthur"}))
	var failure wsError
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, http.StatusBadRequest, failure.Status)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	require.True(t, rl.Enabled())
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	rl.cleanup(time.Now().Add(time.Minute))
	assert.True(t, rl.Allow("a"), "idle identities start with a fresh bucket")

	assert.True(t, NewRateLimiter(0, 0).Allow("anyone"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hello w...", truncate("hello world!", 10))
}
