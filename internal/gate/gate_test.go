package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tempest/internal/embedding"
	"github.com/raphaelgruber/tempest/internal/llm/llmtest"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/rag"
)

func TestAffirmativeVerdict(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{"plain yes", "yes", true},
		{"plain no", "no", false},
		{"capitalized with punctuation", "Yes.", true},
		{"reasoning then yes", "The message mentions Rimuru directly and asks about food, so my answer is: Yes.", true},
		{"reasoning then no", "Moon is talking to Viyi about the weather here, so: no", false},
		{"yes then no", "yes, but actually no", false},
		{"no then yes", "no wait, actually yes", true},
		{"yes outside tail", "yes. Then again, they are just chatting among themselves here.", false},
		{"yes inside other word", "let me check their eyes", false},
		{"partial word at cut", "abcdefghijklmnopqrstuvwxyes", false},
		{"empty", "", false},
		{"whitespace padded", "   \n YES \n", true},
		{"think block", "<think>should I? no...</think>\nyes", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AffirmativeVerdict(tt.reply))
		})
	}
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("  Short  "))
	assert.Equal(t, "the eyes are closed", tail("I looked into the eyes are closed"))
	assert.LessOrEqual(t, len([]rune(tail("a very long answer that goes on and on and finally says yes"))), verdictTail)
}

func newGate(t *testing.T, fake *llmtest.Fake) (*Gate, memory.Collection, *memory.ChromemStore) {
	t.Helper()
	store := memory.NewChromemStore(nil)
	c, err := store.EnsureCollection(context.Background(), "moon")
	require.NoError(t, err)
	asm := rag.NewAssembler(store, embedding.NewHashEmbedder(32), nil, nil)
	return New(asm, fake, metrics.NewCollector(), nil), c, store
}

func TestShouldRespond(t *testing.T) {
	fake := &llmtest.Fake{GenerateFunc: func(prompt, system string) (string, error) {
		return "They said my name. yes", nil
	}}
	g, c, _ := newGate(t, fake)

	ok, err := g.ShouldRespond(context.Background(), c, Request{
		Prompt:      "Rimuru, what's your favorite food?",
		Speaker:     "moon",
		Personality: models.DefaultPersonality(),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	calls := fake.Generates()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, `moon just said: "Rimuru, what's your favorite food?"`)
	assert.Contains(t, calls[0].SystemPrompt, "should reply to the latest message")
	assert.NotContains(t, calls[0].SystemPrompt, "{{")
}

func TestShouldRespondUsesMemories(t *testing.T) {
	fake := &llmtest.Fake{GenerateFunc: func(string, string) (string, error) { return "no", nil }}
	g, c, store := newGate(t, fake)

	ctx := context.Background()
	m := models.NewChatMemory("viyi", "Rimuru, are you there?")
	require.NoError(t, store.Insert(ctx, c, m, make32(1)))

	ok, err := g.ShouldRespond(ctx, c, Request{Prompt: "hello", Speaker: "moon"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, fake.Generates()[0].SystemPrompt, "Rimuru, are you there?")
}

func TestShouldRespondPropagatesModelError(t *testing.T) {
	boom := errors.New("ollama unreachable")
	fake := &llmtest.Fake{GenerateFunc: func(string, string) (string, error) { return "", boom }}
	g, c, _ := newGate(t, fake)

	ok, err := g.ShouldRespond(context.Background(), c, Request{Prompt: "hi", Speaker: "moon"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestIsConvoEnd(t *testing.T) {
	fake := &llmtest.Fake{GenerateFunc: func(prompt, system string) (string, error) {
		return "They said goodbye, so yes.", nil
	}}
	g, c, _ := newGate(t, fake)

	ended, err := g.IsConvoEnd(context.Background(), c, Request{Prompt: "ok bye Rimuru", Speaker: "moon"})
	require.NoError(t, err)
	assert.True(t, ended)
	assert.Contains(t, fake.Generates()[0].SystemPrompt, "has come to an end")
	assert.Contains(t, fake.Generates()[0].Prompt, "Is the conversation over?")
}

func make32(axis int) []float32 {
	v := make([]float32, 32)
	v[axis] = 1
	return v
}
