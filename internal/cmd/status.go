package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roombot/internal/api"
	"github.com/Iron-Ham/roombot/internal/render"
)

var statusCmd = &cobra.Command{
	Use:   "status <bot-id>",
	Short: "Show the status of a bot",
	Long: `Show the status of a bot.

With --watch, stream status changes until the bot stops or fails.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var (
	statusWatch bool
	statusJSON  bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "stream status changes until the bot stops")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print responses as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newAPIClient()
	out := cmd.OutOrStdout()
	p := render.NewPrinter(out)

	if statusWatch {
		return c.Watch(cmd.Context(), args[0], func(f api.WatchFrame) error {
			if statusJSON {
				return writeJSON(out, f)
			}
			at := f.ObservedAt
			if at.IsZero() {
				at = time.Now()
			}
			p.Printf("%s  %s  %s\n", p.Style(render.Muted, at.Local().Format("15:04:05")), f.BotID, p.Status(f.Status))
			return nil
		})
	}

	resp, err := c.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if statusJSON {
		return writeJSON(out, resp)
	}
	p.Printf("%s %s\n", resp.BotID, p.Status(resp.Status))
	return nil
}
