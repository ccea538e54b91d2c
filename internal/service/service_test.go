package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tempest/internal/agent"
	"github.com/raphaelgruber/tempest/internal/embedding"
	"github.com/raphaelgruber/tempest/internal/gate"
	"github.com/raphaelgruber/tempest/internal/llm"
	"github.com/raphaelgruber/tempest/internal/llm/llmtest"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/session"
	"github.com/raphaelgruber/tempest/internal/speech"
	"github.com/raphaelgruber/tempest/internal/tools"
)

type fixture struct {
	svc   *Service
	fake  *llmtest.Fake
	agent *agent.Agent
}

type fixtureOpts struct {
	respond  bool
	convoEnd bool
	speech   *speech.Pipeline
	toolbox  *tools.Registry
	merge    bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	fake := &llmtest.Fake{
		Fragments: []string{"I love", " ramen. Shuna", " cooks it best."},
		GenerateFunc: func(prompt, system string) (string, error) {
			switch {
			case strings.Contains(system, "should reply"):
				if o.respond {
					return "They said my name, so yes", nil
				}
				return "They are talking to Veldora. no", nil
			case strings.Contains(system, "come to an end"):
				if o.convoEnd {
					return "yes", nil
				}
				return "no", nil
			default:
				return "Moon asked about food.", nil
			}
		},
	}

	store := memory.NewChromemStore(nil)
	a := agent.New(store, embedding.NewHashEmbedder(32), fake, o.toolbox, nil, nil)
	g := gate.New(a.Assembler(), fake, nil, nil)
	svc := New(a, g, Options{
		Speech:           o.speech,
		Sessions:         session.NewRegistry(10*time.Millisecond, nil),
		MergeToolResults: o.merge,
	}, nil)
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, fake: fake, agent: a}
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	return []byte("wav:" + text), nil
}

func decode(t *testing.T, s string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return string(raw)
}

func TestHandleTurnValidation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.svc.HandleTurn(context.Background(), Request{Prompt: "hi"}, nil)
	status, msg := Status(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "prompt and userId are required", msg)

	_, err = f.svc.HandleVoiceTurn(context.Background(), Request{UserID: "moon"}, nil)
	status, _ = Status(err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandleTurnWithAudio(t *testing.T) {
	f := newFixture(t, fixtureOpts{speech: speech.NewPipeline(fakeSynth{}, nil, nil, nil)})

	resp, err := f.svc.HandleTurn(context.Background(), Request{
		Prompt:      "Rimuru, what's your favorite food?",
		UserID:      "arthur",
		Personality: models.Personality{Name: "Milim"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Rimuru, what's your favorite food?", resp.RespondingTo)
	assert.Equal(t, "I love ramen. Shuna cooks it best.", resp.Response)
	assert.Equal(t, "wav:I love ramen. Shuna cooks it best.", decode(t, resp.Audio))

	system := f.fake.Streams()[0][0].Content
	assert.Contains(t, system, "You are Milim")
}

func TestHandleTurnStreamsChunks(t *testing.T) {
	f := newFixture(t, fixtureOpts{speech: speech.NewPipeline(fakeSynth{}, nil, nil, nil)})
	f.fake.Fragments = []string{"<think>hmm. Maybe", "</think> I love ramen. Shuna", " cooks."}

	var chunks []Chunk
	resp, err := f.svc.HandleTurn(context.Background(), Request{Prompt: "food?", UserID: "arthur"}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, "I love ramen.", chunks[0].Response)
	assert.Equal(t, "wav:I love ramen.", decode(t, chunks[0].Audio))
	assert.Equal(t, "Shuna cooks.", chunks[1].Response)
	assert.Equal(t, "food?", chunks[1].RespondingTo)

	assert.Equal(t, "I love ramen. Shuna cooks.", resp.Response)
	assert.Empty(t, resp.Audio, "streamed turns carry audio per chunk")

	history, err := f.svc.GetHistory(context.Background(), "arthur", 5)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, strings.HasPrefix(history[1].Text, "<think>"), "memory keeps the raw reply")
}

func TestIdentityAliasing(t *testing.T) {
	assert.Equal(t, "moon", ResolveIdentity("moon1945"))
	assert.Equal(t, "viyi", ResolveIdentity("moon"))
	assert.Equal(t, "viyi", ResolveIdentity("viyi"))
	assert.Equal(t, "arthur", ResolveIdentity(" arthur "))

	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	_, err := f.svc.HandleTurn(ctx, Request{Prompt: "hi", UserID: "moon"}, nil)
	require.NoError(t, err)

	history, err := f.agent.GetHistory(ctx, "viyi", 5)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "moon", history[0].Author, "speaker keeps the caller's id")

	_, err = f.agent.GetHistory(ctx, "moon", 5)
	assert.ErrorIs(t, err, memory.ErrCollectionNotFound)
}

func TestHandleVoiceTurnResponds(t *testing.T) {
	f := newFixture(t, fixtureOpts{respond: true})
	ctx := context.Background()

	resp, err := f.svc.HandleVoiceTurn(ctx, Request{Prompt: "hey Remaru, what's up?", UserID: "arthur"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hey Rimuru, what's up?", resp.RespondingTo, "transcript is repaired")
	assert.Equal(t, "I love ramen. Shuna cooks it best.", resp.Response)

	s, ok := f.svc.Sessions().Lookup("arthur")
	require.True(t, ok)
	assert.True(t, s.Listening())
}

func TestHandleVoiceTurnDeclined(t *testing.T) {
	f := newFixture(t, fixtureOpts{respond: false})

	_, err := f.svc.HandleVoiceTurn(context.Background(), Request{Prompt: "Veldora, come here", UserID: "arthur"}, nil)
	assert.ErrorIs(t, err, ErrGateDeclined)
	status, _ := Status(err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, f.fake.Streams(), "declined turns never generate")
}

func TestHandleVoiceTurnListeningSkipsGate(t *testing.T) {
	f := newFixture(t, fixtureOpts{respond: true})
	ctx := context.Background()

	_, err := f.svc.HandleVoiceTurn(ctx, Request{Prompt: "Rimuru!", UserID: "arthur"}, nil)
	require.NoError(t, err)
	gates := len(f.fake.Generates())

	_, err = f.svc.HandleVoiceTurn(ctx, Request{Prompt: "and then?", UserID: "arthur"}, nil)
	require.NoError(t, err)

	for _, call := range f.fake.Generates()[gates:] {
		assert.NotContains(t, call.SystemPrompt, "should reply")
	}
}

func TestGetHistoryErrors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	_, err := f.svc.GetHistory(ctx, "arthur", 0)
	status, _ := Status(err)
	assert.Equal(t, http.StatusBadRequest, status)

	_, err = f.svc.GetHistory(ctx, "nobody", 5)
	status, _ = Status(err)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = Status(f.svc.DeleteHistory(ctx, "nobody"))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteHistoryEvictsSession(t *testing.T) {
	f := newFixture(t, fixtureOpts{respond: true})
	ctx := context.Background()

	_, err := f.svc.HandleVoiceTurn(ctx, Request{Prompt: "Rimuru!", UserID: "arthur"}, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteHistory(ctx, "arthur"))
	_, ok := f.svc.Sessions().Lookup("arthur")
	assert.False(t, ok)

	_, err = f.svc.GetHistory(ctx, "arthur", 5)
	assert.ErrorIs(t, err, memory.ErrCollectionNotFound)
}

func TestResetVoiceLeavesListening(t *testing.T) {
	f := newFixture(t, fixtureOpts{respond: true})
	ctx := context.Background()

	_, err := f.svc.HandleVoiceTurn(ctx, Request{Prompt: "Rimuru!", UserID: "arthur"}, nil)
	require.NoError(t, err)
	s, ok := f.svc.Sessions().Lookup("arthur")
	require.True(t, ok)
	require.True(t, s.Listening())

	require.NoError(t, f.svc.ResetVoice("arthur"))
	assert.False(t, s.Listening())
	assert.Equal(t, session.Idle, s.State())

	history, err := f.svc.GetHistory(ctx, "arthur", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, history, "reset keeps the conversation")

	assert.NoError(t, f.svc.ResetVoice("nobody"), "no session is fine")
	status, _ := Status(f.svc.ResetVoice(" "))
	assert.Equal(t, http.StatusBadRequest, status)
}

type doorTool struct{}

func (doorTool) Definition() llm.Tool { return llm.Tool{Name: tools.OpenDoorName} }
func (doorTool) Invoke(context.Context, string) (string, error) {
	return "door opened", nil
}

func toolFixture(t *testing.T, merge bool) *fixture {
	registry := tools.NewRegistry(nil)
	registry.Register(doorTool{})
	f := newFixture(t, fixtureOpts{toolbox: registry, merge: merge})
	f.fake.ChatFunc = func([]llm.Message, []llm.Tool) (llm.ChatResult, error) {
		return llm.ChatResult{ToolCalls: []llm.ToolCall{{Name: tools.OpenDoorName}}}, nil
	}
	return f
}

func TestToolResultsMergeToggle(t *testing.T) {
	for _, merge := range []bool{true, false} {
		f := toolFixture(t, merge)
		_, err := f.svc.HandleTurn(context.Background(), Request{Prompt: "open the door", UserID: "arthur"}, nil)
		require.NoError(t, err)

		require.Len(t, f.fake.Chats(), 1, "tool pass always runs")
		system := f.fake.Streams()[0][0].Content
		if merge {
			assert.Contains(t, system, "openDoor: door opened")
		} else {
			assert.NotContains(t, system, "openDoor")
		}
	}
}

func TestStatusMapping(t *testing.T) {
	status, _ := Status(nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = Status(ErrSuperseded)
	assert.Equal(t, http.StatusNoContent, status)

	status, msg := Status(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "processing failed", msg)
}

func TestChannelLocksSerializePerChannel(t *testing.T) {
	var locks channelLocks

	unlock := locks.lock("arthur")

	other := locks.lock("viyi")
	other()

	acquired := make(chan struct{})
	go func() {
		defer locks.lock("arthur")()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second turn on the same channel started before the first ended")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never started")
	}
}
