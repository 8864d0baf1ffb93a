// Package ui renders the chat session on a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// UI is everything the chat loop prints for the user. Diagnostics go to the
// logger instead.
type UI interface {
	// Prompt prints text without a trailing newline and waits for input.
	Prompt(text string)
	// Reply prints a generated answer.
	Reply(text string)
	// Info prints banners and listings.
	Info(msg string)
	// Status prints progress lines; implementations may hide them.
	Status(msg string)
}

type SilentUI struct{}

func (SilentUI) Prompt(string) {}
func (SilentUI) Reply(string)  {}
func (SilentUI) Info(string)   {}
func (SilentUI) Status(string) {}

// Plain writes unstyled text, suitable for pipes and tests.
type Plain struct {
	Out     io.Writer
	Verbose bool // show Status lines
}

func (p Plain) Prompt(text string) { fmt.Fprint(p.Out, text) }
func (p Plain) Reply(text string)  { fmt.Fprintf(p.Out, "AI: %s\n", text) }
func (p Plain) Info(msg string)    { fmt.Fprintln(p.Out, msg) }

func (p Plain) Status(msg string) {
	if p.Verbose {
		fmt.Fprintln(p.Out, msg)
	}
}

var (
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	replyLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	statusStyle = lipgloss.NewStyle().
			Faint(true).
			Italic(true)
)

// Styled colours output with lipgloss for interactive terminals.
type Styled struct {
	Out     io.Writer
	Verbose bool
}

func (s Styled) Prompt(text string) {
	// Keep the trailing space outside the style so the cursor sits after it.
	trimmed := strings.TrimRight(text, " ")
	fmt.Fprint(s.Out, promptStyle.Render(trimmed)+text[len(trimmed):])
}

func (s Styled) Reply(text string) {
	fmt.Fprintf(s.Out, "%s %s\n", replyLabelStyle.Render("AI:"), text)
}

func (s Styled) Info(msg string) {
	fmt.Fprintln(s.Out, infoStyle.Render(msg))
}

func (s Styled) Status(msg string) {
	if s.Verbose {
		fmt.Fprintln(s.Out, statusStyle.Render(msg))
	}
}
