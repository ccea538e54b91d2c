// Package llmtest provides a scripted llm.Inference for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/raphaelgruber/tempest/internal/llm"
)

// GenerateCall records one Generate invocation.
type GenerateCall struct {
	Prompt       string
	SystemPrompt string
}

// Fake is a scripted inference service. Set the func fields to control replies;
// unset fields fall back to empty answers. Safe for concurrent use.
type Fake struct {
	// GenerateFunc answers Generate.
	GenerateFunc func(prompt, systemPrompt string) (string, error)

	// Fragments are streamed by ChatStream in order. StreamErr, if set, is returned after they are sent.
	Fragments []string
	StreamErr error

	// ChatFunc answers Chat.
	ChatFunc func(messages []llm.Message, tools []llm.Tool) (llm.ChatResult, error)

	mu        sync.Mutex
	generates []GenerateCall
	streams   [][]llm.Message
	chats     [][]llm.Message
}

var _ llm.Inference = (*Fake)(nil)

// Generate implements llm.Inference.
func (f *Fake) Generate(_ context.Context, prompt, systemPrompt string) (string, error) {
	f.mu.Lock()
	f.generates = append(f.generates, GenerateCall{Prompt: prompt, SystemPrompt: systemPrompt})
	fn := f.GenerateFunc
	f.mu.Unlock()

	if fn == nil {
		return "", nil
	}
	return fn(prompt, systemPrompt)
}

// ChatStream implements llm.Inference.
func (f *Fake) ChatStream(ctx context.Context, messages []llm.Message, onFragment func(string) error) (string, error) {
	f.mu.Lock()
	f.streams = append(f.streams, messages)
	fragments := append([]string(nil), f.Fragments...)
	streamErr := f.StreamErr
	f.mu.Unlock()

	var full string
	for _, frag := range fragments {
		if err := ctx.Err(); err != nil {
			return full, err
		}
		full += frag
		if onFragment != nil {
			if err := onFragment(frag); err != nil {
				return full, err
			}
		}
	}
	if streamErr != nil {
		return full, streamErr
	}
	return full, nil
}

// Chat implements llm.Inference.
func (f *Fake) Chat(_ context.Context, messages []llm.Message, tools []llm.Tool) (llm.ChatResult, error) {
	f.mu.Lock()
	f.chats = append(f.chats, messages)
	fn := f.ChatFunc
	f.mu.Unlock()

	if fn == nil {
		return llm.ChatResult{}, nil
	}
	return fn(messages, tools)
}

// Generates returns the recorded Generate calls.
func (f *Fake) Generates() []GenerateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GenerateCall(nil), f.generates...)
}

// Streams returns the message lists passed to ChatStream.
func (f *Fake) Streams() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Message(nil), f.streams...)
}

// Chats returns the message lists passed to Chat.
func (f *Fake) Chats() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Message(nil), f.chats...)
}
