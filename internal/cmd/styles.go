package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/jszach/conductor/internal/plan"
)

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	greenColor  = lipgloss.Color("#10B981") // Green
	redColor    = lipgloss.Color("#F87171") // Red (red-400)
	blueColor   = lipgloss.Color("#60A5FA") // Blue
	yellowColor = lipgloss.Color("#FBBF24") // Yellow
	purpleColor = lipgloss.Color("#A78BFA") // Purple (violet-400)
	grayColor   = lipgloss.Color("#9CA3AF") // Gray (brighter for readability)

	runningStyle   = lipgloss.NewStyle().Foreground(greenColor)
	pendingStyle   = lipgloss.NewStyle().Foreground(grayColor)
	pausedStyle    = lipgloss.NewStyle().Foreground(blueColor)
	completedStyle = lipgloss.NewStyle().Foreground(purpleColor)
	failedStyle    = lipgloss.NewStyle().Foreground(redColor)
	abortedStyle   = lipgloss.NewStyle().Foreground(yellowColor)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(purpleColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(grayColor)
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(yellowColor)
)

// statusStyle maps a plan status to its display style.
func statusStyle(s plan.Status) lipgloss.Style {
	switch s {
	case plan.StatusRunning:
		return runningStyle
	case plan.StatusPaused:
		return pausedStyle
	case plan.StatusCompleted:
		return completedStyle
	case plan.StatusFailed:
		return failedStyle
	case plan.StatusAborted:
		return abortedStyle
	default:
		return pendingStyle
	}
}

// stepStatusStyle maps a step status to its display style.
func stepStatusStyle(s plan.StepStatus) lipgloss.Style {
	switch s {
	case plan.StepRunning:
		return runningStyle
	case plan.StepCompleted:
		return completedStyle
	case plan.StepFailed:
		return failedStyle
	case plan.StepSkipped:
		return abortedStyle
	default:
		return pendingStyle
	}
}
