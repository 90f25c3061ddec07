package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// GetPromptsCmd returns the prompts command group.
func GetPromptsCmd() *cobra.Command {
	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "Answer pending retry-or-reauthenticate prompts",
	}

	promptsCmd.AddCommand(listPromptsCmd)
	promptsCmd.AddCommand(answerPromptCmd)

	return promptsCmd
}

var listPromptsCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending prompts",
	RunE: func(_ *cobra.Command, _ []string) error {
		prompts, err := apiClient.GetPrompts(context.Background())
		if err != nil {
			return fmt.Errorf("error listing prompts: %w", err)
		}
		return printJSON(prompts)
	},
}

var answerPromptCmd = &cobra.Command{
	Use:   "answer <id> <retry|abandon>",
	Short: "Answer a pending prompt",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := apiClient.AnswerPrompt(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("error answering prompt: %w", err)
		}
		fmt.Println("Prompt answered")
		return nil
	},
}

// GetNotificationsCmd returns the notifications command.
func GetNotificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "Drain the daemon's queued notifications",
		RunE: func(_ *cobra.Command, _ []string) error {
			notifications, err := apiClient.GetNotifications(context.Background())
			if err != nil {
				return fmt.Errorf("error getting notifications: %w", err)
			}
			return printJSON(notifications)
		},
	}
}
