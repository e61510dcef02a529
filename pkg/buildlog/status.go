package buildlog

import "github.com/fatih/color"

// StepColor returns the color a step's terminal status line should be
// printed in, mirroring the state-to-color mapping the teacher uses for
// container states (pkg/commands/container.go GetColor).
func StepColor(state string) color.Attribute {
	switch state {
	case "succeeded":
		return color.FgGreen
	case "failed":
		return color.FgRed
	case "skipped":
		return color.FgYellow
	case "running":
		return color.FgCyan
	default:
		return color.FgWhite
	}
}

// Status formats a one-line step/phase status message for the CLI's own
// stdout narration, independent of the structured log stream.
func Status(step, phase, state string) string {
	c := color.New(StepColor(state))
	return c.Sprintf("[%s] %s: %s", step, phase, state)
}
