package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/pkg/ragapi"
)

// newConversationCmd creates the conversation command, which starts an
// interactive REPL against a fresh conversation thread.
func newConversationCmd() *cobra.Command {
	var threadID string

	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Start an interactive multi-turn conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if threadID == "" {
				threadID = uuid.NewString()
			}
			return runConversation(cmd.Context(), threadID)
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "resume an existing thread ID instead of starting a new one")

	return cmd
}

func runConversation(ctx context.Context, threadID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc, err := ragapi.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Close()

	state, err := svc.StartConversation(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}
	if greeting, ok := state.LastAssistantMessage(); ok {
		fmt.Println(greeting)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		state, err = svc.SendMessage(ctx, threadID, line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if reply, ok := state.LastAssistantMessage(); ok {
			fmt.Println(reply)
		}
		if state.ConversationStatus == "ended" {
			return nil
		}
	}
}
