// Package interactive provides terminal prompts and progress rendering for
// the update commands.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Response represents the user's response to a prompt.
type Response int

const (
	ResponseYes  Response = iota // Proceed
	ResponseNo                   // Decline
	ResponseQuit                 // Abort, also returned on EOF
)

// Prompter asks yes/no questions on a terminal.
type Prompter struct {
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner
}

// NewPrompter creates a prompter with stdin/stdout.
func NewPrompter() *Prompter {
	return NewPrompterWithIO(os.Stdin, os.Stdout)
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      in,
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// IsTerminal checks if stdin is a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// prompt displays a question and reads the response.
func (p *Prompter) prompt(format string, args ...interface{}) Response {
	_, _ = fmt.Fprintf(p.out, format, args...)
	_, _ = fmt.Fprint(p.out, " [y/n] ")

	if !p.scanner.Scan() {
		return ResponseQuit
	}

	input := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
	switch input {
	case "y", "yes":
		return ResponseYes
	case "n", "no":
		return ResponseNo
	case "q", "quit":
		return ResponseQuit
	default:
		// Default to no for invalid input
		_, _ = fmt.Fprintln(p.out, "Invalid response, not proceeding.")
		return ResponseNo
	}
}

// Confirm asks a yes/no question and reports whether the answer was yes.
func (p *Prompter) Confirm(format string, args ...interface{}) bool {
	return p.prompt(format, args...) == ResponseYes
}

// ApplyPlan describes what applying a pending update will touch.
type ApplyPlan struct {
	Version      string
	InstallDir   string
	UpdateList   []string
	PreserveList []string
	Install      string
	Build        string
}

// ConfirmApply shows the plan for applying an update and asks to proceed.
func (p *Prompter) ConfirmApply(plan ApplyPlan) bool {
	_, _ = fmt.Fprintf(p.out, "\nApply update %s to %s\n", plan.Version, plan.InstallDir)
	_, _ = fmt.Fprintf(p.out, "  %s Replace: %s\n", updateSymbol, strings.Join(plan.UpdateList, ", "))
	_, _ = fmt.Fprintf(p.out, "  %s Keep:    %s\n", okSymbol, strings.Join(plan.PreserveList, ", "))
	if plan.Install != "" {
		_, _ = fmt.Fprintf(p.out, "  %s Run:     %s (if the manifest changed)\n", runSymbol, plan.Install)
	}
	if plan.Build != "" {
		_, _ = fmt.Fprintf(p.out, "  %s Run:     %s\n", runSymbol, plan.Build)
	}
	_, _ = fmt.Fprintln(p.out, "A backup is taken first and restored if the build fails.")

	switch p.prompt("\nProceed with update?") {
	case ResponseYes:
		return true
	default:
		_, _ = fmt.Fprintln(p.out, "Aborted.")
		return false
	}
}

// Symbols for output
const (
	updateSymbol = "~"
	okSymbol     = "="
	runSymbol    = ">"
)
