package cli

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/tempest/internal/client"
	"github.com/raphaelgruber/tempest/internal/models"
)

func TestChatLoopSendsNonEmptyLines(t *testing.T) {
	var sent []string
	err := chatLoop(context.Background(), strings.NewReader("hello\n\n  \nhow are you?\n"), false, func(p string) error {
		sent = append(sent, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "how are you?"}, sent)
}

func TestChatLoopStopsOnSendError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := chatLoop(context.Background(), strings.NewReader("a\nb\n"), false, func(string) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestChatLoopStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := chatLoop(ctx, strings.NewReader("a\n"), false, func(string) error {
		t.Fatal("send after cancel")
		return nil
	})
	assert.NoError(t, err)
}

func TestPrintOutcome(t *testing.T) {
	theme := newChatTheme(os.Stdout)
	assert.NoError(t, printOutcome(theme, nil))
	assert.NoError(t, printOutcome(theme, client.ErrNoReply))

	apiErr := &client.APIError{Status: 500, Detail: "processing failed"}
	assert.ErrorIs(t, printOutcome(theme, apiErr), apiErr)
}

func TestFormatMemory(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.Local)

	m := models.NewChatMemory("arthur", "hi")
	m.CreatedAt = at
	assert.Equal(t, "[2026-03-01 12:30] arthur: hi", formatMemory(m))

	self := models.NewChatMemory(models.SelfAuthor, "hello")
	self.CreatedAt = at
	assert.Equal(t, "[2026-03-01 12:30] agent: hello", formatMemory(self))
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "discord", "chat", "history", "forget", "reset", "stats"} {
		assert.Contains(t, names, want)
	}
}
