package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"

	"github.com/Iron-Ham/roombot/internal/bot"
)

// Printer writes CLI output to a single writer.
type Printer struct {
	out   io.Writer
	color bool
}

// NewPrinter returns a Printer for out. Color is enabled when out is a
// terminal and NO_COLOR is unset.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, color: colorEnabled(out)}
}

// PlainPrinter returns a Printer that never styles its output.
func PlainPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Color reports whether output is styled.
func (p *Printer) Color() bool { return p.color }

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.out }

// Style renders s with style when color is enabled.
func (p *Printer) Style(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// Status renders a bot status.
func (p *Printer) Status(s bot.Status) string {
	return p.Style(StatusStyle(s), s.String())
}

// Printf writes formatted output.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// Println writes a line.
func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.out, args...)
}

// KeyValue writes aligned "key: value" lines.
func (p *Printer) KeyValue(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		key := p.Style(Muted, kv[0]+":")
		fmt.Fprintf(p.out, "%s%s %s\n", key, strings.Repeat(" ", width-len(kv[0])), kv[1])
	}
}

// Table writes rows in aligned columns. Cells may contain ANSI styling.
// maxWidth bounds each column; 0 leaves columns unbounded.
func (p *Printer) Table(headers []string, rows [][]string, maxWidth int) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for r := range rows {
		for i := range rows[r] {
			if i >= len(widths) {
				break
			}
			if maxWidth > 0 {
				rows[r][i] = Truncate(rows[r][i], maxWidth)
			}
			widths[i] = max(widths[i], lipgloss.Width(rows[r][i]))
		}
	}

	styled := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = p.Style(Header, h)
	}
	p.row(styled, widths)
	for _, row := range rows {
		p.row(row, widths)
	}
}

func (p *Printer) row(cells []string, widths []int) {
	var sb strings.Builder
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		sb.WriteString(cell)
		if i < len(cells)-1 {
			sb.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
		}
	}
	fmt.Fprintln(p.out, strings.TrimRight(sb.String(), " "))
}

// Truncate shortens s to maxWidth visual columns, adding "..." when it
// cuts. ANSI escape sequences and wide characters are measured correctly.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}
