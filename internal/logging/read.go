package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// LogEntry represents a parsed log line with its structured fields.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	RoomURL   string         `json:"room_url,omitempty"`
	BotID     string         `json:"bot_id,omitempty"`
	Backend   string         `json:"backend,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter defines criteria for filtering log entries. Zero-valued fields
// do not filter.
type LogFilter struct {
	// Level keeps entries at or above this level (DEBUG < INFO < WARN < ERROR).
	Level string

	Since time.Time
	Until time.Time

	BotID   string
	RoomURL string
	Backend string

	// Pattern keeps entries whose message matches.
	Pattern *regexp.Regexp
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

var standardFields = map[string]bool{
	"time":     true,
	"level":    true,
	"msg":      true,
	"room_url": true,
	"bot_id":   true,
	"backend":  true,
}

// ReadLogs parses every JSON line of the log file at path. Lines that are not
// valid JSON are skipped. Entries are returned sorted by timestamp.
func ReadLogs(path string) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ParseLogs(file)
}

// ReadLogFiles reads path together with its rotated backups, decompressing
// .gz files, and returns every entry sorted by timestamp. Missing backups
// are skipped; a missing current file is an error only when there are no
// backups either.
func ReadLogFiles(path string) ([]LogEntry, error) {
	backups := BackupFiles(path)
	var all []LogEntry
	for _, name := range backups {
		entries, err := readLogFile(name)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	current, err := ReadLogs(path)
	switch {
	case err == nil:
		all = append(all, current...)
	case errors.Is(err, fs.ErrNotExist) && len(backups) > 0:
	default:
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

func readLogFile(name string) ([]LogEntry, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open rotated log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(name, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return ParseLogs(r)
}

// ParseLogs parses JSON log lines from r.
func ParseLogs(r io.Reader) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(r)

	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading logs: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// ParseLine parses a single JSON log line.
func ParseLine(line string) (LogEntry, error) {
	return parseLogEntry(strings.TrimSpace(line))
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	if ts, ok := raw["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Timestamp = t
		}
	}
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	entry.RoomURL, _ = raw["room_url"].(string)
	entry.BotID, _ = raw["bot_id"].(string)
	entry.Backend, _ = raw["backend"].(string)

	for k, v := range raw {
		if !standardFields[k] {
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching every criterion of filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	var filtered []LogEntry
	for _, entry := range entries {
		if matchesFilter(entry, filter) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

func matchesFilter(entry LogEntry, filter LogFilter) bool {
	if filter.Level != "" {
		want, wantOK := levelOrder[strings.ToUpper(filter.Level)]
		got, gotOK := levelOrder[entry.Level]
		if wantOK && gotOK && got < want {
			return false
		}
	}
	if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && entry.Timestamp.After(filter.Until) {
		return false
	}
	if filter.BotID != "" && entry.BotID != filter.BotID {
		return false
	}
	if filter.RoomURL != "" && entry.RoomURL != filter.RoomURL {
		return false
	}
	if filter.Backend != "" && entry.Backend != filter.Backend {
		return false
	}
	if filter.Pattern != nil && !filter.Pattern.MatchString(entry.Message) {
		return false
	}
	return true
}

// Tail returns the last n entries. n <= 0 returns all of them.
func Tail(entries []LogEntry, n int) []LogEntry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// WriteEntries writes entries to w as "json", "text" or "csv".
func WriteEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		return writeText(w, entries)
	case "csv":
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported format: %s (supported: json, text, csv)", format)
	}
}

// FormatText renders one entry as a single human-readable line.
func FormatText(entry LogEntry) string {
	parts := []string{
		"[" + entry.Timestamp.Format("2006-01-02 15:04:05.000") + "]",
		entry.Level,
		"-",
		entry.Message,
	}

	var ctx []string
	if entry.BotID != "" {
		ctx = append(ctx, "bot="+entry.BotID)
	}
	if entry.Backend != "" {
		ctx = append(ctx, "backend="+entry.Backend)
	}
	if entry.RoomURL != "" {
		ctx = append(ctx, "room="+entry.RoomURL)
	}
	if len(ctx) > 0 {
		parts = append(parts, "("+strings.Join(ctx, ", ")+")")
	}
	if len(entry.Attrs) > 0 {
		if b, err := json.Marshal(entry.Attrs); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}

func writeText(w io.Writer, entries []LogEntry) error {
	for _, entry := range entries {
		if _, err := fmt.Fprintln(w, FormatText(entry)); err != nil {
			return fmt.Errorf("failed to write text entry: %w", err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, entries []LogEntry) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"timestamp", "level", "message", "bot_id", "backend", "room_url", "attrs"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, entry := range entries {
		attrs := ""
		if len(entry.Attrs) > 0 {
			if b, err := json.Marshal(entry.Attrs); err == nil {
				attrs = string(b)
			}
		}
		record := []string{
			entry.Timestamp.Format(time.RFC3339Nano),
			entry.Level,
			entry.Message,
			entry.BotID,
			entry.Backend,
			entry.RoomURL,
			attrs,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
