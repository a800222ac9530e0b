package interactive

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultWidth = 80

// ProgressLine renders a single updating progress line. On a terminal the
// line is redrawn in place; otherwise a line is written for every 10% step.
type ProgressLine struct {
	out      io.Writer
	tty      bool
	width    int
	lastStep int
}

// NewProgressLine creates a progress line on stderr.
func NewProgressLine() *ProgressLine {
	fd := int(os.Stderr.Fd())
	tty := term.IsTerminal(fd)
	width := defaultWidth
	if tty {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
	}
	return &ProgressLine{out: os.Stderr, tty: tty, width: width, lastStep: -1}
}

// NewProgressLineWithWriter creates a non-terminal progress line (for testing).
func NewProgressLineWithWriter(out io.Writer) *ProgressLine {
	return &ProgressLine{out: out, width: defaultWidth, lastStep: -1}
}

// Update draws the line for a transfer.
func (l *ProgressLine) Update(version string, progress int, downloaded, total int64) {
	var text string
	if total > 0 {
		text = fmt.Sprintf("Downloading %s %3d%% %s %s / %s", version, progress, bar(progress, 20), FormatBytes(downloaded), FormatBytes(total))
	} else {
		text = fmt.Sprintf("Downloading %s %s", version, FormatBytes(downloaded))
	}

	if l.tty {
		if len(text) > l.width-1 {
			text = text[:l.width-1]
		}
		_, _ = fmt.Fprintf(l.out, "\r%-*s", l.width-1, text)
		return
	}

	step := progress / 10
	if total <= 0 || step == l.lastStep {
		return
	}
	l.lastStep = step
	_, _ = fmt.Fprintln(l.out, text)
}

// Done ends the line.
func (l *ProgressLine) Done() {
	if l.tty {
		_, _ = fmt.Fprintln(l.out)
	}
}

func bar(progress, width int) string {
	filled := progress * width / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
