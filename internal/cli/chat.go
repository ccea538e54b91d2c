package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/tempest/internal/client"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/service"
)

var (
	chatUser        string
	chatPersonality string
	chatVoice       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Talk to the agent",
	Long: `Talk to the agent through a running server.

With a prompt argument, sends one turn and prints the reply as it streams.
Without one, opens a websocket conversation and reads prompts from stdin
until EOF.

Examples:
  tempest chat "Rimuru, what's your favorite food?" --user arthur
  tempest chat --user arthur --personality Frieren
  tempest chat --voice "Rimuru, are you there?"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", os.Getenv("USER"), "conversation identity")
	chatCmd.Flags().StringVarP(&chatPersonality, "personality", "p", "", "personality to talk to (default Rimuru)")
	chatCmd.Flags().BoolVar(&chatVoice, "voice", false, "treat prompts as voice transcripts")
}

// chatTheme styles the conversation when stdout is a terminal.
type chatTheme struct {
	speaker lipgloss.Style
	hint    lipgloss.Style
	err     lipgloss.Style
}

func newChatTheme(out *os.File) chatTheme {
	if !term.IsTerminal(int(out.Fd())) {
		plain := lipgloss.NewStyle()
		return chatTheme{speaker: plain, hint: plain, err: plain}
	}
	return chatTheme{
		speaker: lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7")).Bold(true),
		hint:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true),
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatUser == "" {
		return errors.New("--user is required")
	}

	ctx, stop := signalContext()
	defer stop()

	theme := newChatTheme(os.Stdout)
	name := chatPersonality
	if name == "" {
		name = models.DefaultPersonalityName
	}

	if len(args) == 1 {
		req := chatRequest(args[0])
		fmt.Print(theme.speaker.Render(name+":") + " ")
		_, err := tempestClient.Process(ctx, req, chatVoice, printChunk)
		return printOutcome(theme, err)
	}

	chat, err := tempestClient.OpenChat(ctx)
	if err != nil {
		return err
	}
	defer chat.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println(theme.hint.Render(fmt.Sprintf("Talking to %s as %s. Ctrl-D to leave.", name, chatUser)))
	}
	return chatLoop(ctx, os.Stdin, interactive, func(prompt string) error {
		fmt.Print(theme.speaker.Render(name+":") + " ")
		_, err := chat.Send(ctx, chatRequest(prompt), chatVoice, printChunk)
		err = printOutcome(theme, err)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintln(os.Stderr, theme.err.Render("Error: "+apiErr.Detail))
			return nil
		}
		return err
	})
}

func chatRequest(prompt string) service.Request {
	return service.Request{
		Prompt:      prompt,
		UserID:      chatUser,
		Personality: models.Personality{Name: chatPersonality},
	}
}

// chatLoop calls send for every non-empty line of in until EOF or ctx ends.
func chatLoop(ctx context.Context, in io.Reader, interactive bool, send func(prompt string) error) error {
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if err := send(prompt); err != nil {
			return err
		}
	}
}

func printChunk(c service.Chunk) error {
	fmt.Print(c.Response + " ")
	return nil
}

// printOutcome ends the reply line. A declined turn is not an error.
func printOutcome(theme chatTheme, err error) error {
	fmt.Println()
	if errors.Is(err, client.ErrNoReply) {
		fmt.Println(theme.hint.Render("(no reply)"))
		return nil
	}
	return err
}
