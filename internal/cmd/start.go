package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/render"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch a bot into a room",
	Long: `Ask a running server to launch a bot into a room.

Only one bot may run in a room at a time; starting a second one fails
until the first has stopped.

Examples:
  roombot start --room https://example.daily.co/standup
  roombot start --room https://example.daily.co/standup --prompt it_support
  roombot start --room https://example.daily.co/standup --prompt custom \
    --custom-prompt "You are a friendly receptionist."`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var (
	startRoom         string
	startToken        string
	startPrompt       string
	startVoiceID      string
	startCustomPrompt string
	startJSON         bool
)

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVarP(&startRoom, "room", "r", "", "room URL (required)")
	startCmd.Flags().StringVar(&startToken, "token", "", "room meeting token")
	startCmd.Flags().StringVarP(&startPrompt, "prompt", "p", "default", "prompt scenario, or \"custom\"")
	startCmd.Flags().StringVar(&startVoiceID, "voice", "", "voice id override")
	startCmd.Flags().StringVar(&startCustomPrompt, "custom-prompt", "", "prompt text when --prompt is custom")
	startCmd.Flags().BoolVar(&startJSON, "json", false, "print the response as JSON")
	_ = startCmd.MarkFlagRequired("room")
}

func runStart(cmd *cobra.Command, args []string) error {
	resp, err := newAPIClient().Start(cmd.Context(), bot.Request{
		RoomURL:      startRoom,
		Token:        startToken,
		Prompt:       startPrompt,
		VoiceID:      startVoiceID,
		CustomPrompt: startCustomPrompt,
	})
	if err != nil {
		return err
	}
	if startJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	p := render.NewPrinter(cmd.OutOrStdout())
	p.KeyValue([][2]string{
		{"bot", p.Style(render.Header, resp.BotID)},
		{"room", resp.RoomURL},
	})
	return nil
}
