package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tempest/internal/agent"
	"github.com/raphaelgruber/tempest/internal/embedding"
	"github.com/raphaelgruber/tempest/internal/gate"
	"github.com/raphaelgruber/tempest/internal/llm/llmtest"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/server"
	"github.com/raphaelgruber/tempest/internal/service"
	"github.com/raphaelgruber/tempest/internal/session"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	fake := &llmtest.Fake{
		Fragments: []string{"Hello there. ", "Nice to meet you."},
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

	srv := httptest.NewServer(server.New(svc, mc, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestProcessStreamsSentences(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	var sentences []string
	resp, err := c.Process(ctx, service.Request{Prompt: "hi Rimuru", UserID: "arthur"}, false, func(ch service.Chunk) error {
		sentences = append(sentences, ch.Response)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello there.", "Nice to meet you."}, sentences)
	assert.Equal(t, "Hello there. Nice to meet you.", resp.Response)
	assert.Equal(t, "hi Rimuru", resp.RespondingTo)
}

func TestProcessErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.Process(ctx, service.Request{Prompt: "hi"}, false, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "prompt and userId are required", apiErr.Detail)

	_, err = c.Process(ctx, service.Request{Prompt: "Veldora, hey", UserID: "arthur"}, true, nil)
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestHistoryRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetHistory(ctx, "arthur", 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.Process(ctx, service.Request{Prompt: "hello", UserID: "arthur"}, false, nil)
	require.NoError(t, err)

	history, err := c.GetHistory(ctx, "arthur", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)

	require.NoError(t, c.ResetVoice(ctx, "arthur"))
	require.NoError(t, c.DeleteHistory(ctx, "arthur"))
	_, err = c.GetHistory(ctx, "arthur", 10)
	assert.Error(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.Turn)
	assert.Equal(t, int64(1), stats.Turn.Count)
}

func TestChatOverWebsocket(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	chat, err := c.OpenChat(ctx)
	require.NoError(t, err)
	defer chat.Close()

	var streamed int
	resp, err := chat.Send(ctx, service.Request{Prompt: "hello", UserID: "arthur"}, false, func(service.Chunk) error {
		streamed++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, streamed)
	assert.Equal(t, "Hello there. Nice to meet you.", resp.Response)

	_, err = chat.Send(ctx, service.Request{UserID: "arthur"}, false, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = chat.Send(ctx, service.Request{Prompt: "Veldora, hey", UserID: "arthur"}, true, nil)
	assert.ErrorIs(t, err, ErrNoReply)

	require.NoError(t, chat.Close())
	assert.NoError(t, chat.Close())
}
