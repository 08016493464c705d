package local

import (
	"strings"
	"testing"

	"github.com/tuzig/vt10x"

	"github.com/agentorch/ao/internal/plugin"
)

func handleWithPid(pid string) plugin.Handle {
	return plugin.Handle{ID: "x", RuntimeName: "local", Data: map[string]string{"pid": pid}}
}

func TestRenderScreenReplaysCursorAddressing(t *testing.T) {
	term := vt10x.New(vt10x.WithSize(20, 5))
	// Overwrite in place the way TUIs do: draw, return to column 0, redraw.
	if _, err := term.Write([]byte("working...\rdone      \r\nnext line")); err != nil {
		t.Fatalf("term.Write: %v", err)
	}

	lines := renderScreen(term, 20, 5)
	if lines[0] != "done" {
		t.Errorf("row 0 = %q, want %q", lines[0], "done")
	}
	if lines[1] != "next line" {
		t.Errorf("row 1 = %q, want %q", lines[1], "next line")
	}
}

func TestLastLines(t *testing.T) {
	lines := []string{"a", "b", "c", "", ""}
	if got := lastLines(lines, 2); got != "b\nc" {
		t.Errorf("lastLines = %q, want %q", got, "b\nc")
	}
	if got := lastLines([]string{"only"}, 10); got != "only" {
		t.Errorf("lastLines = %q, want %q", got, "only")
	}
}

func TestMergeEnvOverridesParent(t *testing.T) {
	t.Setenv("AO_TEST_MERGE", "parent")
	merged := mergeEnv(map[string]string{"AO_TEST_MERGE": "child", "AO_TEST_NEW": "1"})

	var sawOverride, sawNew bool
	for _, entry := range merged {
		if entry == "AO_TEST_MERGE=child" {
			sawOverride = true
		}
		if strings.HasPrefix(entry, "AO_TEST_MERGE=parent") {
			t.Error("parent value survived override")
		}
		if entry == "AO_TEST_NEW=1" {
			sawNew = true
		}
	}
	if !sawOverride {
		t.Error("override missing from merged env")
	}
	if !sawNew {
		t.Error("new variable missing from merged env")
	}
}

func TestPidAliveRejectsGarbage(t *testing.T) {
	if pidAlive(handleWithPid("")) {
		t.Error("empty pid reported alive")
	}
	if pidAlive(handleWithPid("0")) {
		t.Error("pid 0 reported alive")
	}
	if pidAlive(handleWithPid("not-a-pid")) {
		t.Error("garbage pid reported alive")
	}
}
