package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/tempest/internal/config"
	"github.com/raphaelgruber/tempest/internal/metrics"
)

// ErrFatalAPI marks provider errors that retrying will not fix (quota, billing, auth).
var ErrFatalAPI = errors.New("fatal API error")

// Role is the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a chat history.
type Message struct {
	Role    Role
	Content string
}

// Tool describes a callable function offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a function the model chose to invoke.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ChatResult is a completed, non-streaming chat turn.
type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
}

// Inference is the text generation contract used by the gate, the agent and the tool pass.
type Inference interface {
	// Generate answers prompt under systemPrompt and blocks until done.
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)

	// ChatStream streams the reply to messages, calling onFragment for every text fragment.
	// It returns the full reply once generation ends.
	ChatStream(ctx context.Context, messages []Message, onFragment func(fragment string) error) (string, error)

	// Chat runs a blocking chat turn, optionally offering tools.
	Chat(ctx context.Context, messages []Message, tools []Tool) (ChatResult, error)
}

var _ Inference = (*Model)(nil)

// Model wraps a langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	modelName string
	metrics   *metrics.Collector
}

// NewModel creates an LLM model based on configuration. mc may be nil.
func NewModel(cfg config.Config, mc *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		opts := []ollama.Option{
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		}
		if cfg.KeepAlive != "" {
			opts = append(opts, ollama.WithKeepAlive(cfg.KeepAlive))
		}
		model, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewModelFromLLM(model, cfg.LLMModel, mc), nil
}

// NewModelFromLLM wraps an already constructed langchaingo model.
func NewModelFromLLM(model llms.Model, name string, mc *metrics.Collector) *Model {
	return &Model{llm: model, modelName: name, metrics: mc}
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// Generate generates text with a system prompt.
func (m *Model) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	messages := []Message{{Role: RoleUser, Content: prompt}}
	if systemPrompt != "" {
		messages = append([]Message{{Role: RoleSystem, Content: systemPrompt}}, messages...)
	}

	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, toContent(messages))
	if err != nil {
		return "", fmt.Errorf("generate: %w", wrapFatalError(err))
	}
	choice, err := firstChoice(resp)
	if err != nil {
		return "", err
	}

	m.recordUsage(metrics.OpLLMGenerate, start, choice)
	return choice.Content, nil
}

// ChatStream streams a chat completion. Fragments arrive in generation order.
func (m *Model) ChatStream(ctx context.Context, messages []Message, onFragment func(fragment string) error) (string, error) {
	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, toContent(messages),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if onFragment == nil || len(chunk) == 0 {
				return nil
			}
			return onFragment(string(chunk))
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chat stream: %w", wrapFatalError(err))
	}
	choice, err := firstChoice(resp)
	if err != nil {
		return "", err
	}

	m.recordUsage(metrics.OpLLMStream, start, choice)
	slog.Debug("stream complete", "model", m.modelName, "reply_len", len(choice.Content), "duration_ms", time.Since(start).Milliseconds())
	return choice.Content, nil
}

// Chat runs a blocking chat completion, offering tools when given.
func (m *Model) Chat(ctx context.Context, messages []Message, tools []Tool) (ChatResult, error) {
	var opts []llms.CallOption
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(toLLMTools(tools)))
	}

	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, toContent(messages), opts...)
	if err != nil {
		return ChatResult{}, fmt.Errorf("chat: %w", wrapFatalError(err))
	}
	choice, err := firstChoice(resp)
	if err != nil {
		return ChatResult{}, err
	}
	m.recordUsage(metrics.OpLLMGenerate, start, choice)

	result := ChatResult{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return result, nil
}

func firstChoice(resp *llms.ContentResponse) (*llms.ContentChoice, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}
	return resp.Choices[0], nil
}

func toContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		role := llms.ChatMessageTypeHuman
		switch msg.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, msg.Content))
	}
	return out
}

func toLLMTools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}}
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func (m *Model) recordUsage(op string, start time.Time, choice *llms.ContentChoice) {
	if m.metrics == nil {
		return
	}
	in := tokenCount(choice.GenerationInfo, "PromptTokens", "InputTokens")
	out := tokenCount(choice.GenerationInfo, "CompletionTokens", "OutputTokens")
	m.metrics.RecordLLMUsage(op, time.Since(start), in, out)
}

// tokenCount reads the first present key from provider generation info.
// Providers disagree on both key names and integer types.
func tokenCount(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}

// fatalPatterns are substrings of provider errors that retrying will not fix.
var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
