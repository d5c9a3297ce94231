package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/relaypan/internal/rotation"
)

const textPreview = 60

// TerminalFormatter renders reports for a terminal.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

func (f *TerminalFormatter) FormatStatus(w io.Writer, s Status) error {
	fmt.Fprintln(w, f.bold(fmt.Sprintf("relaypan: @%s, %d credentials", s.Username, len(s.Credentials))))

	if s.HasMark {
		fmt.Fprintf(w, "last published post: %d\n", s.Watermark)
	} else {
		fmt.Fprintln(w, "last published post: none yet")
	}
	fmt.Fprintln(w)

	available := 0
	for _, c := range s.Credentials {
		marker := "  "
		if c.Position == s.Cursor {
			marker = "> "
		}
		state := f.green("available")
		switch {
		case c.Blocked:
			state = f.yellow(fmt.Sprintf("blocked until %s (%s)",
				c.Stored.BlockedUntil.Local().Format("15:04:05"),
				humanize.RelTime(c.Stored.BlockedUntil, s.Now, "ago", "from now")))
		case c.Stored.Status == rotation.StatusBlocked:
			state = f.green("available") + f.dim(" (cooldown expired)")
			available++
		default:
			available++
		}
		fmt.Fprintf(w, "%s[%d] %-20s %s\n", marker, c.Position, c.Label, state)
	}
	if len(s.Extra) > 0 {
		fmt.Fprintln(w, f.dim(fmt.Sprintf("  (%d stored positions beyond the current pool)", len(s.Extra))))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d of %d available, next start at position %d\n", available, len(s.Credentials), s.Cursor)
	return nil
}

func (f *TerminalFormatter) FormatHistory(w io.Writer, h History) error {
	fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Published (%d) ---", len(h.Published))))
	if len(h.Published) == 0 {
		fmt.Fprintln(w, "  nothing published yet")
	}
	for _, p := range h.Published {
		media := "no media"
		if p.MediaCount > 0 {
			media = fmt.Sprintf("%d media", p.MediaCount)
		}
		fmt.Fprintf(w, "  %d  %s  %s  %s\n",
			p.PostID,
			f.dim(humanize.RelTime(p.PublishedAt, h.Now, "ago", "from now")),
			f.dim(media),
			preview(p.Text),
		)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, f.bold(fmt.Sprintf("--- Runs (%d) ---", len(h.Runs))))
	if len(h.Runs) == 0 {
		fmt.Fprintln(w, "  no runs recorded")
	}
	for _, r := range h.Runs {
		line := fmt.Sprintf("  %s  %-9s %d attempt%s",
			f.dim(humanize.RelTime(r.StartedAt, h.Now, "ago", "from now")),
			r.Outcome, r.Attempts, plural(r.Attempts))
		if r.PostID > 0 {
			line += fmt.Sprintf("  post %d", r.PostID)
		}
		if r.Error != "" {
			line += "  " + f.yellow(r.Error)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= textPreview {
		return text
	}
	return string(runes[:textPreview-3]) + "..."
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	if !f.color {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func (f *TerminalFormatter) green(s string) string {
	if !f.color {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func (f *TerminalFormatter) yellow(s string) string {
	if !f.color {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func (f *TerminalFormatter) dim(s string) string {
	if !f.color {
		return s
	}
	return "\033[2m" + s + "\033[0m"
}
