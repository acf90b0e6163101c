package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/roombot/internal/config"
	"github.com/Iron-Ham/roombot/internal/logging"
	"github.com/Iron-Ham/roombot/internal/render"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View server logs",
	Long: `View and filter the server's JSON log file (logging.file).
Rotated backups, compressed or not, are read along with the current file.

Examples:
  # Show the last 50 entries
  roombot logs

  # Follow logs in real-time
  roombot logs -f

  # Everything one bot logged in the last hour
  roombot logs --bot b1 --since 1h -n 0

  # Warnings and errors matching a pattern, as CSV
  roombot logs --level warn --grep "spawn|evicted" --format csv`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsFile    string
	logsTail    int
	logsFollow  bool
	logsLevel   string
	logsSince   string
	logsGrep    string
	logsBot     string
	logsRoom    string
	logsBackend string
	logsFormat  string
)

// followPollInterval is how often follow mode checks for new lines.
const followPollInterval = 100 * time.Millisecond

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsFile, "file", "", "log file (default from logging.file)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter messages matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsBot, "bot", "", "Only entries for this bot id")
	logsCmd.Flags().StringVar(&logsRoom, "room", "", "Only entries for this room URL")
	logsCmd.Flags().StringVar(&logsBackend, "backend", "", "Only entries for this backend (local/remote)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text, json or csv")
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := logsFile
	if path == "" {
		path = config.Get().Logging.File
	}
	if path == "" {
		return errors.New("no log file: the server logs to stderr unless logging.file is set (or pass --file)")
	}

	filter, err := buildLogFilter(logsLevel, logsSince, logsGrep, time.Now())
	if err != nil {
		return err
	}
	filter.BotID = logsBot
	filter.RoomURL = logsRoom
	filter.Backend = logsBackend

	out := cmd.OutOrStdout()
	if logsFollow {
		return followLogs(cmd.Context(), path, filter, render.NewPrinter(out))
	}

	entries, err := logging.ReadLogFiles(path)
	if err != nil {
		return err
	}
	entries = logging.Tail(logging.FilterLogs(entries, filter), logsTail)

	if strings.ToLower(logsFormat) == "text" {
		p := render.NewPrinter(out)
		if len(entries) == 0 {
			p.Println("No matching log entries found.")
			return nil
		}
		for _, e := range entries {
			p.Println(formatEntry(p, e))
		}
		return nil
	}
	return logging.WriteEntries(out, entries, logsFormat)
}

// buildLogFilter turns the command line filter options into a LogFilter.
func buildLogFilter(level, since, grep string, now time.Time) (logging.LogFilter, error) {
	var filter logging.LogFilter
	if level != "" {
		filter.Level = logging.ParseLevel(level)
	}
	if since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return filter, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.Since = now.Add(-d)
	}
	if grep != "" {
		re, err := regexp.Compile(grep)
		if err != nil {
			return filter, fmt.Errorf("invalid grep pattern: %w", err)
		}
		filter.Pattern = re
	}
	return filter, nil
}

// formatEntry renders an entry as text with the level styled.
func formatEntry(p *render.Printer, e logging.LogEntry) string {
	line := logging.FormatText(e)
	if !p.Color() || e.Level == "" {
		return line
	}
	return strings.Replace(line, " "+e.Level+" ", " "+p.Style(render.LevelStyle(e.Level), e.Level)+" ", 1)
}

// followLogs implements tail -f behavior for the log file
func followLogs(ctx context.Context, path string, filter logging.LogFilter, p *render.Printer) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	// Seek to end of file
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	p.Printf("Following %s... (Ctrl+C to stop)\n\n", path)

	reader := bufio.NewReader(file)
	var partial strings.Builder
	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("error reading log file: %w", err)
			}
			// No complete line yet, wait briefly and try again
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(followPollInterval):
			}
			continue
		}

		line := partial.String()
		partial.Reset()
		entry, err := logging.ParseLine(line)
		if err != nil {
			continue
		}
		if len(logging.FilterLogs([]logging.LogEntry{entry}, filter)) == 0 {
			continue
		}
		p.Println(formatEntry(p, entry))
	}
}
