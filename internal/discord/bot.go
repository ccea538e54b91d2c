// Package discord connects the agent to Discord text channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/tempest/internal/agent"
	"github.com/raphaelgruber/tempest/internal/gate"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/parser"
)

// typingInterval is how long one Discord typing indicator lasts.
const typingInterval = 8 * time.Second

// maxMessageLen is Discord's message length limit.
const maxMessageLen = 2000

// ErrNoChannels is returned when the bot has no channels to listen in.
var ErrNoChannels = errors.New("no discord channels configured")

// Messenger is the part of a Discord session the bot writes through.
type Messenger interface {
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot answers messages in allowlisted channels. Every message is remembered; the gate
// decides which ones get a reply.
type Bot struct {
	agent       *agent.Agent
	gate        *gate.Gate
	personality models.Personality
	channels    map[string]bool
	logger      *slog.Logger

	mu      sync.Mutex
	turns   map[string]*sync.Mutex
	typing  map[string]*rate.Limiter
	discord Messenger
}

// New creates a bot for the given channel ids. logger may be nil.
func New(a *agent.Agent, g *gate.Gate, personality models.Personality, channels []string, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(channels))
	for _, id := range channels {
		allowed[id] = true
	}
	return &Bot{
		agent:       a,
		gate:        g,
		personality: personality.WithDefaults(),
		channels:    allowed,
		logger:      logger,
		turns:       make(map[string]*sync.Mutex),
		typing:      make(map[string]*rate.Limiter),
	}
}

// Run connects with token and handles messages until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, token string) error {
	if len(b.channels) == 0 {
		return ErrNoChannels
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("discord bot logged in", "user", r.User.Username, "channels", len(b.channels))
	})
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || s.State.User == nil || m.Author.ID == s.State.User.ID {
			return
		}
		b.HandleMessage(ctx, m.ChannelID, displayName(m), m.Content)
	})

	b.Attach(dg)
	unsubscribe := b.agent.Subscribe(b.onProgress)
	defer unsubscribe()

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	b.logger.Info("discord bot stopping")
	return nil
}

// Attach sets the session replies and typing indicators are sent through.
func (b *Bot) Attach(m Messenger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.discord = m
}

func (b *Bot) messenger() Messenger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.discord
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// HandleMessage processes one message. Messages outside the allowlist are ignored; turns
// in one channel run one at a time.
func (b *Bot) HandleMessage(ctx context.Context, channelID, author, content string) {
	if !b.channels[channelID] || content == "" {
		return
	}

	lock := b.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	if err := b.handle(ctx, channelID, author, content); err != nil {
		b.logger.Error("discord message failed", "channel", channelID, "author", author, "error", err)
	}
}

func (b *Bot) handle(ctx context.Context, channelID, author, content string) error {
	c, err := b.agent.Collection(ctx, channelID)
	if err != nil {
		return err
	}

	respond, err := b.gate.ShouldRespond(ctx, c, gate.Request{Prompt: content, Speaker: author, Personality: b.personality})
	if err != nil {
		return err
	}

	if err := b.agent.SaveIncomingPrompt(ctx, c, content, author); err != nil {
		return err
	}
	if !respond {
		return nil
	}

	reply, err := b.agent.RunTurn(ctx, c, agent.Turn{Prompt: content, Speaker: author, Personality: b.personality}, nil)
	if err != nil {
		return err
	}
	defer b.resetTyping(channelID)

	return b.send(channelID, parser.StripReasoning(reply))
}

func (b *Bot) send(channelID, text string) error {
	m := b.messenger()
	if m == nil {
		return errors.New("discord session not attached")
	}
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := m.ChannelMessageSend(channelID, part); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) channelLock(channelID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	lock, ok := b.turns[channelID]
	if !ok {
		lock = &sync.Mutex{}
		b.turns[channelID] = lock
	}
	return lock
}

// onProgress keeps the typing indicator up while a reply is generated, refreshing it at
// most once per indicator lifetime.
func (b *Bot) onProgress(ev agent.ProgressEvent) {
	if ev.Stage != agent.StageFragment || !b.channels[ev.Channel] {
		return
	}

	b.mu.Lock()
	limiter, ok := b.typing[ev.Channel]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(typingInterval), 1)
		b.typing[ev.Channel] = limiter
	}
	m := b.discord
	b.mu.Unlock()

	if m == nil || !limiter.Allow() {
		return
	}
	go func() {
		if err := m.ChannelTyping(ev.Channel); err != nil {
			b.logger.Debug("typing indicator failed", "channel", ev.Channel, "error", err)
		}
	}()
}

// resetTyping lets the next reply show the indicator right away; sending a message clears it.
func (b *Bot) resetTyping(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.typing, channelID)
}

// splitMessage cuts text into pieces of at most limit characters, preferring sentence and
// line breaks. Pieces always end on a rune boundary.
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := lastBreak(text[:runeOffset(text, limit)])
		parts = append(parts, text[:cut])
		text = trimLeadingSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

func lastBreak(s string) int {
	for _, sep := range []string{"\n", ". ", " "} {
		for i := len(s) - len(sep); i > 0; i-- {
			if s[i:i+len(sep)] == sep {
				return i + len(sep)
			}
		}
	}
	return len(s)
}

func trimLeadingSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n') {
		s = s[1:]
	}
	return s
}
