package docker

import (
	"testing"

	"github.com/agentorch/ao/internal/plugin"
)

func TestStripEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"color codes", "\x1b[32mok\x1b[0m done", "ok done"},
		{"cursor movement", "\x1b[2J\x1b[1;1Hprompt", "prompt"},
		{"osc title", "\x1b]0;my title\x07text", "text"},
		{"carriage returns", "spinner\rdone", "spinnerdone"},
		{"plain", "no escapes here", "no escapes here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripEscapes(tt.in); got != tt.want {
				t.Errorf("stripEscapes(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLastLinesDropsBlankPadding(t *testing.T) {
	if got := lastLines("a\nb\nc\n\n\n", 2); got != "b\nc" {
		t.Errorf("lastLines = %q, want %q", got, "b\nc")
	}
}

func TestContainerIDMissing(t *testing.T) {
	h := plugin.Handle{ID: "tbp-1", RuntimeName: "docker"}
	if got := containerID(h); got != "" {
		t.Errorf("containerID = %q, want empty", got)
	}
	h.Data = map[string]string{"containerId": "abc123"}
	if got := containerID(h); got != "abc123" {
		t.Errorf("containerID = %q, want abc123", got)
	}
}
