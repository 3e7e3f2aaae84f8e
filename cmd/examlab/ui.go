package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/everydev1618/examlab"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ee0000"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#a1a1aa"))
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22c55e"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f59e0b"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	boxStyle    = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#27272a")).
			Padding(0, 1)
)

// parseID parses an exercise id argument.
func parseID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid exercise id %q", arg)
	}
	return id, nil
}

func statusStyle(s examlab.Status) lipgloss.Style {
	switch s {
	case examlab.StatusRunning:
		return passStyle
	case examlab.StatusStarting:
		return errorStyle
	case examlab.StatusStopped:
		return failStyle
	default:
		return subtleStyle
	}
}

func checkStyle(s examlab.CheckStatus) lipgloss.Style {
	switch s {
	case examlab.CheckPass:
		return passStyle
	case examlab.CheckFail:
		return failStyle
	default:
		return errorStyle
	}
}

// renderExerciseTable writes one row per exercise with its status.
func renderExerciseTable(w io.Writer, exercises []examlab.Exercise, status map[int]examlab.Status) {
	width := 0
	for _, ex := range exercises {
		width = max(width, lipgloss.Width(ex.Title))
	}

	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		headerStyle.Render(fmt.Sprintf("%3s", "ID")),
		headerStyle.Render(fmt.Sprintf("%-5s", "GROUP")),
		headerStyle.Render(fmt.Sprintf("%-*s", width, "TITLE")),
		headerStyle.Render("STATUS"))
	for _, ex := range exercises {
		st := status[ex.ID]
		fmt.Fprintf(w, "%3d  %-5s  %-*s  %s\n",
			ex.ID, ex.Group, width, ex.Title, statusStyle(st).Render(string(st)))
	}
}

// renderInstructions renders exercise instructions as terminal markdown,
// falling back to plain text when rendering fails.
func renderInstructions(ex examlab.Exercise) string {
	md := fmt.Sprintf("# %d. %s\n\n_%s_\n\n%s\n", ex.ID, ex.Title, ex.Group, ex.Instructions)

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// renderCheck formats a check result with one line per probe.
func renderCheck(ex examlab.Exercise, r examlab.CheckResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(fmt.Sprintf("Exercise %d", ex.ID)), ex.Title)
	fmt.Fprintf(&b, "%s  %s\n", checkStyle(r.Status).Render(string(r.Status)), r.Summary)
	if len(r.Details) > 0 {
		b.WriteString("\n")
	}
	for _, d := range r.Details {
		mark := passStyle.Render("✓")
		if !d.Passed {
			mark = failStyle.Render("✗")
		}
		fmt.Fprintf(&b, "%s %s %s\n", mark, d.Name, subtleStyle.Render(d.Message))
	}
	fmt.Fprintf(&b, "\n%s\n", subtleStyle.Render(r.Timestamp.Local().Format("2006-01-02 15:04:05")))
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
