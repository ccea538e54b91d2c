package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/tempest/internal/models"
)

var (
	historyLimit int
	forgetForce  bool
)

var historyCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "Show a conversation's recent messages",
	Long: `Show the most recent messages remembered for a user, oldest first.

Examples:
  tempest history arthur
  tempest history arthur -n 50`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <user>",
	Short: "Delete everything remembered about a conversation",
	Long: `Delete a user's whole conversation: history, summary and memories.
Requires confirmation unless --force is used.

Examples:
  tempest forget arthur
  tempest forget arthur --force`,
	Args: cobra.ExactArgs(1),
	RunE: runForget,
}

var resetCmd = &cobra.Command{
	Use:   "reset <user>",
	Short: "Take a voice conversation out of listening mode",
	Long: `Make the agent stop treating every utterance from a user as addressed to it.
The next voice message has to get past the gate again. History is kept.

Examples:
  tempest reset arthur`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "max messages")
	forgetCmd.Flags().BoolVarP(&forgetForce, "force", "f", false, "skip confirmation")
}

func runHistory(cmd *cobra.Command, args []string) error {
	history, err := tempestClient.GetHistory(context.Background(), args[0], historyLimit)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}

	if len(history) == 0 {
		fmt.Println("No messages yet.")
		return nil
	}
	for _, m := range history {
		fmt.Println(formatMemory(m))
	}
	return nil
}

func formatMemory(m models.Memory) string {
	author := m.Author
	if m.IsSelf() {
		author = "agent"
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("2006-01-02 15:04"), author, m.Text)
}

func runForget(cmd *cobra.Command, args []string) error {
	user := args[0]

	if !forgetForce {
		fmt.Printf("Forget the whole conversation with %q? [y/N]: ", user)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := tempestClient.DeleteHistory(context.Background(), user); err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	fmt.Printf("Forgot the conversation with %s.\n", user)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := tempestClient.ResetVoice(context.Background(), args[0]); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Printf("No longer listening to %s.\n", args[0])
	return nil
}
