package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roombot/internal/render"
)

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "List the bots a server tracks",
	Args:  cobra.NoArgs,
	RunE:  runBots,
}

var (
	botsRoom string
	botsJSON bool
)

// botsRoomWidth bounds the room column.
const botsRoomWidth = 48

func init() {
	rootCmd.AddCommand(botsCmd)

	botsCmd.Flags().StringVarP(&botsRoom, "room", "r", "", "only list bots in this room")
	botsCmd.Flags().BoolVar(&botsJSON, "json", false, "print the response as JSON")
}

func runBots(cmd *cobra.Command, args []string) error {
	resp, err := newAPIClient().Bots(cmd.Context(), botsRoom)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if botsJSON {
		return writeJSON(out, resp)
	}

	p := render.NewPrinter(out)
	if len(resp.Bots) == 0 {
		p.Println("No bots.")
		return nil
	}
	rows := make([][]string, 0, len(resp.Bots))
	for _, h := range resp.Bots {
		rows = append(rows, []string{
			h.ID,
			h.Backend.String(),
			p.Status(h.Status),
			strconv.FormatBool(h.Active),
			age(h.CreatedAt),
			render.Truncate(h.RoomURL, botsRoomWidth),
		})
	}
	p.Table([]string{"ID", "BACKEND", "STATUS", "ACTIVE", "AGE", "ROOM"}, rows, 0)
	p.Printf("\n%s\n", p.Style(render.Muted, "capacity per room: "+strconv.Itoa(resp.Capacity)))
	return nil
}

// age renders the time since t, rounded to the second.
func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String()
}
