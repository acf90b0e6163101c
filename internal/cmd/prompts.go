package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roombot/internal/render"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List the prompt scenarios a server accepts",
	Args:  cobra.NoArgs,
	RunE:  runPrompts,
}

var promptsJSON bool

func init() {
	rootCmd.AddCommand(promptsCmd)

	promptsCmd.Flags().BoolVar(&promptsJSON, "json", false, "print the response as JSON")
}

func runPrompts(cmd *cobra.Command, args []string) error {
	resp, err := newAPIClient().Prompts(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if promptsJSON {
		return writeJSON(out, resp)
	}

	p := render.NewPrinter(out)
	rows := make([][]string, 0, len(resp.Prompts)+1)
	for _, s := range resp.Prompts {
		rows = append(rows, []string{s.Key, s.Title, s.Description})
	}
	rows = append(rows, []string{resp.Custom, "Custom", "Caller supplies the prompt text"})
	p.Table([]string{"KEY", "TITLE", "DESCRIPTION"}, rows, 0)
	return nil
}
