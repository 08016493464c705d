package claude

import (
	"strings"
	"testing"

	"github.com/agentorch/ao/internal/plugin"
)

func TestDetectActivityWorking(t *testing.T) {
	agent := New()

	tests := []struct {
		name     string
		output   string
		expected plugin.Activity
	}{
		{
			name:     "spinner with esc interrupt",
			output:   "\n✻ Billowing... (esc to interrupt)\n",
			expected: plugin.ActivityActive,
		},
		{
			name:     "spinner with ctrl+c interrupt",
			output:   "✻ Reading files... (ctrl+c to interrupt)",
			expected: plugin.ActivityActive,
		},
		{
			name:     "asterisk bullet",
			output:   "* Processing request... (esc to interrupt)",
			expected: plugin.ActivityActive,
		},
		{
			name:     "no interrupt hint is not working",
			output:   "✻ Billowing…",
			expected: plugin.ActivityIdle,
		},
		{
			name:     "plain text",
			output:   "Some random text",
			expected: plugin.ActivityIdle,
		},
		{
			name:     "empty output",
			output:   "",
			expected: plugin.ActivityIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := agent.DetectActivity(tt.output)
			if err != nil {
				t.Fatalf("DetectActivity() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("DetectActivity() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDetectActivityApproval(t *testing.T) {
	agent := New()

	tests := []struct {
		name   string
		output string
	}{
		{
			name:   "do you want to proceed",
			output: "Do you want to proceed?\n❯ 1. Yes\n  2. No",
		},
		{
			name:   "do you want to create file",
			output: "Do you want to create config.yaml?",
		},
		{
			name:   "enter to select",
			output: "Use arrow keys. Enter to select.",
		},
		{
			name:   "submit answers",
			output: "Ready to submit your answers",
		},
		{
			name:   "selection arrow with confirm nearby",
			output: "❯ 1. Allow all edits\n  2. Allow once\nPress enter to confirm",
		},
		{
			name:   "yes no with allow context",
			output: "Allow this tool? [y/n]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := agent.DetectActivity(tt.output)
			if err != nil {
				t.Fatalf("DetectActivity() error = %v", err)
			}
			if got != plugin.ActivityWaitingInput {
				t.Errorf("DetectActivity() = %v, want %v", got, plugin.ActivityWaitingInput)
			}
		})
	}
}

func TestDetectActivityApprovalBeatsSpinner(t *testing.T) {
	agent := New()
	output := "✻ Running tests... (esc to interrupt)\nDo you want to proceed?"

	got, err := agent.DetectActivity(output)
	if err != nil {
		t.Fatalf("DetectActivity() error = %v", err)
	}
	if got != plugin.ActivityWaitingInput {
		t.Errorf("DetectActivity() = %v, want %v", got, plugin.ActivityWaitingInput)
	}
}

func TestDetectActivityBlocked(t *testing.T) {
	agent := New()

	tests := []struct {
		name   string
		output string
	}{
		{"usage limit", "Claude usage limit reached. Your limit resets at 3pm."},
		{"rate limit", "Error: rate limit exceeded, retrying in 30s"},
		{"api error", "API Error: 500 internal server error"},
		{"overloaded", "overloaded_error: the service is overloaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := agent.DetectActivity(tt.output)
			if err != nil {
				t.Fatalf("DetectActivity() error = %v", err)
			}
			if got != plugin.ActivityBlocked {
				t.Errorf("DetectActivity() = %v, want %v", got, plugin.ActivityBlocked)
			}
		})
	}
}

func TestDetectActivityTipLine(t *testing.T) {
	agent := New()
	output := "────────────────────\n\n⎿ Tip: Enter to send\n────────────────────"

	got, err := agent.DetectActivity(output)
	if err != nil {
		t.Fatalf("DetectActivity() error = %v", err)
	}
	if got != plugin.ActivityIdle {
		t.Errorf("DetectActivity() = %v, want %v", got, plugin.ActivityIdle)
	}
}

func TestGetLaunchCommand(t *testing.T) {
	agent := New()

	cmd, err := agent.GetLaunchCommand(plugin.LaunchSpec{
		SessionID:  "tbp-1",
		IssueID:    "123",
		IssueTitle: "Fix the flaky test",
		Binary:     "claude",
		Args:       []string{"--permission-mode", "acceptEdits"},
	})
	if err != nil {
		t.Fatalf("GetLaunchCommand() error = %v", err)
	}

	if !strings.HasPrefix(cmd, "claude --permission-mode acceptEdits ") {
		t.Errorf("command = %q, want claude with args first", cmd)
	}
	if !strings.Contains(cmd, "'Work on issue 123: Fix the flaky test'") {
		t.Errorf("command = %q, want quoted issue prompt", cmd)
	}
}

func TestGetLaunchCommandExplicitPromptAndRules(t *testing.T) {
	agent := New()

	cmd, err := agent.GetLaunchCommand(plugin.LaunchSpec{
		Prompt: "Refactor the parser",
		Rules:  "Always run the linter before committing.",
	})
	if err != nil {
		t.Fatalf("GetLaunchCommand() error = %v", err)
	}
	if !strings.Contains(cmd, "Refactor the parser\n\nAlways run the linter") {
		t.Errorf("command = %q, want prompt followed by rules", cmd)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("plain-arg.txt"); got != "plain-arg.txt" {
		t.Errorf("shellQuote = %q, want unquoted", got)
	}
	if got := shellQuote("it's a prompt"); got != `'it'\''s a prompt'` {
		t.Errorf("shellQuote = %q", got)
	}
	if got := shellQuote(""); got != "''" {
		t.Errorf("shellQuote(empty) = %q, want ''", got)
	}
}

func TestEncodeProjectDir(t *testing.T) {
	if got := encodeProjectDir("/home/u/my.repo"); got != "-home-u-my-repo" {
		t.Errorf("encodeProjectDir = %q", got)
	}
}

func TestContainsEnvMarker(t *testing.T) {
	environ := []byte("HOME=/root\x00AO_SESSION_ID=tbp-1\x00PATH=/usr/bin\x00")
	if !containsEnvMarker(environ, []byte("AO_SESSION_ID=tbp-1")) {
		t.Error("marker not found")
	}
	if containsEnvMarker(environ, []byte("AO_SESSION_ID=tbp-11")) {
		t.Error("prefix of longer id matched")
	}
}

func TestCmdlineNamesAgent(t *testing.T) {
	direct := []byte("claude\x00--permission-mode\x00acceptEdits\x00")
	if !cmdlineNamesAgent(direct, "claude") {
		t.Error("direct binary not recognized")
	}
	wrapped := []byte("node\x00/usr/lib/node_modules/@anthropic-ai/claude-code/cli.js\x00")
	if !cmdlineNamesAgent(wrapped, "claude") {
		t.Error("node wrapper not recognized")
	}
	shell := []byte("/bin/bash\x00")
	if cmdlineNamesAgent(shell, "claude") {
		t.Error("hosting shell misrecognized as agent")
	}
}
