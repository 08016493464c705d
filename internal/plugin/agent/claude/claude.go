// Package claude adapts the Claude Code CLI as a coding agent. Activity
// detection is TUI pattern matching over the visible terminal: spinner
// lines mean the agent is thinking, approval prompts mean it is blocked
// on a human, error banners mean it cannot proceed.
package claude

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentorch/ao/internal/plugin"
)

var (
	// Task line with spinner glyph, ellipsis and interrupt hint.
	// Example: "✻ Reading files... (esc to interrupt)"
	workingTaskPattern = regexp.MustCompile(
		`^\s*[✻✽✶∴·○◆▪▫□■☐☑☒★☆✓✔✗✘⚬⚫⚪⬤◯▸▹►▻◂◃◄◅✢*]\s+.+[…\.]{2,}\s*\((esc|ctrl\+c)\s+to\s+interrupt`,
	)

	// Tip/hint line inside the input box, shown when the agent is at rest.
	tipPattern = regexp.MustCompile(`^[\s\x{00a0}]*⎿[\s\x{00a0}]+(?:Tip|Next|Hint):`)

	// Horizontal separator rows bounding the input box.
	separatorPattern = regexp.MustCompile(`^[─━═┄┅┈┉\-]{10,}$`)

	enterToSelectPattern      = regexp.MustCompile(`(?i)enter\s+to\s+select`)
	submitAnswersPattern      = regexp.MustCompile(`(?i)ready\s+to\s+submit\s+your\s+answers`)
	doYouWantToPattern        = regexp.MustCompile(`(?i)do\s+you\s+want\s+to\s+`)
	doYouWantToProceedPattern = regexp.MustCompile(`(?i)do\s+you\s+want\s+to\s+proceed`)
	selectionArrowPattern     = regexp.MustCompile(`^[\s]*[❯>]\s*\d+\.`)
	yesNoPattern              = regexp.MustCompile(`(?i)\[?y/?n\]?`)

	// Banners that stop the agent until something external changes.
	blockedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)usage\s+limit\s+reached`),
		regexp.MustCompile(`(?i)rate\s+limit`),
		regexp.MustCompile(`(?i)api\s+error`),
		regexp.MustCompile(`(?i)overloaded`),
	}
)

// Agent implements the agent plugin contract for the Claude Code CLI.
type Agent struct{}

func New() *Agent { return &Agent{} }

func (a *Agent) Name() string { return "claude" }

// GetLaunchCommand builds the shell line that starts the agent with its
// initial prompt as the positional argument.
func (a *Agent) GetLaunchCommand(spec plugin.LaunchSpec) (string, error) {
	binary := spec.Binary
	if binary == "" {
		binary = "claude"
	}

	parts := []string{binary}
	for _, arg := range spec.Args {
		parts = append(parts, shellQuote(arg))
	}
	if prompt := composePrompt(spec); prompt != "" {
		parts = append(parts, shellQuote(prompt))
	}
	return strings.Join(parts, " "), nil
}

func composePrompt(spec plugin.LaunchSpec) string {
	prompt := spec.Prompt
	if prompt == "" && spec.IssueID != "" {
		prompt = fmt.Sprintf("Work on issue %s", spec.IssueID)
		if spec.IssueTitle != "" {
			prompt += ": " + spec.IssueTitle
		}
	}
	if spec.Rules != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += spec.Rules
	}
	return prompt
}

// GetEnvironment returns the agent's extra environment unchanged; the
// session manager supplies the orchestration variables.
func (a *Agent) GetEnvironment(spec plugin.LaunchSpec) map[string]string {
	env := make(map[string]string, len(spec.ExtraEnv))
	for k, v := range spec.ExtraEnv {
		env[k] = v
	}
	return env
}

// DetectActivity classifies the visible terminal. Approval prompts are
// checked first and from the bottom up, since they render at the bottom
// and demand a human answer before anything else matters.
func (a *Agent) DetectActivity(output string) (plugin.Activity, error) {
	lines := strings.Split(output, "\n")

	if detectApproval(lines) {
		return plugin.ActivityWaitingInput, nil
	}

	for _, line := range lines {
		if workingTaskPattern.MatchString(strings.TrimRight(line, " \t")) {
			return plugin.ActivityActive, nil
		}
	}

	for _, line := range lines {
		for _, p := range blockedPatterns {
			if p.MatchString(line) {
				return plugin.ActivityBlocked, nil
			}
		}
	}

	// A tip line inside the input box means the agent finished its turn
	// and is parked at the prompt.
	if tipInInputBox(lines) {
		return plugin.ActivityIdle, nil
	}

	return plugin.ActivityIdle, nil
}

func detectApproval(lines []string) bool {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], " \t")

		if enterToSelectPattern.MatchString(line) {
			return true
		}
		if doYouWantToProceedPattern.MatchString(line) {
			return true
		}
		if submitAnswersPattern.MatchString(line) {
			return true
		}
		if doYouWantToPattern.MatchString(line) {
			return true
		}

		if selectionArrowPattern.MatchString(line) {
			for j := i + 1; j < len(lines) && j < i+5; j++ {
				nearby := strings.ToLower(strings.TrimRight(lines[j], " \t"))
				if strings.Contains(nearby, "confirm") || strings.Contains(nearby, "enter to") {
					return true
				}
			}
		}

		if yesNoPattern.MatchString(line) {
			lower := strings.ToLower(line)
			if strings.Contains(lower, "?") || strings.Contains(lower, "allow") ||
				strings.Contains(lower, "approve") {
				return true
			}
		}
	}
	return false
}

func tipInInputBox(lines []string) bool {
	separators := findSeparatorLines(lines)
	if len(separators) >= 2 {
		start := separators[len(separators)-2]
		end := separators[len(separators)-1]
		for i := end - 1; i >= start; i-- {
			if i >= 0 && i < len(lines) && tipPattern.MatchString(lines[i]) {
				return true
			}
		}
	}
	for _, line := range lines {
		if tipPattern.MatchString(line) {
			return true
		}
	}
	return false
}

func findSeparatorLines(lines []string) []int {
	var indices []int
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 10 && separatorPattern.MatchString(trimmed) {
			indices = append(indices, i)
		}
	}
	return indices
}

// shellSafe matches arguments that need no quoting.
var shellSafe = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

func shellQuote(s string) string {
	if s != "" && shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
