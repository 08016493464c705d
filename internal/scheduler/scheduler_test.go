package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentorch/ao/internal/oerr"
)

func graphOf(nodes ...TaskNode) TaskGraph {
	g := TaskGraph{Nodes: make(map[string]TaskNode, len(nodes))}
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	return g
}

func ids(nodes []TaskNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"strict ok", Config{ConcurrencyCap: 1, PriorityPolicy: PolicyStrict}, true},
		{"zero cap", Config{ConcurrencyCap: 0, PriorityPolicy: PolicyStrict}, false},
		{"aging ok", Config{ConcurrencyCap: 4, PriorityPolicy: PolicyAging, AgingWindow: time.Minute, MaxAgingBoost: 5}, true},
		{"aging zero window", Config{ConcurrencyCap: 4, PriorityPolicy: PolicyAging, MaxAgingBoost: 5}, false},
		{"aging negative boost", Config{ConcurrencyCap: 4, PriorityPolicy: PolicyAging, AgingWindow: time.Minute, MaxAgingBoost: -1}, false},
		{"unknown policy", Config{ConcurrencyCap: 4, PriorityPolicy: "fifo"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, oerr.IsKind(err, oerr.KindConfig), "got %v", err)
			}
		})
	}
}

func TestReadyQueueDeterministicOrder(t *testing.T) {
	g := graphOf(
		TaskNode{ID: "d", State: StateReady, Priority: 10, RunCount: 1, ReadySince: 5},
		TaskNode{ID: "b", State: StateReady, Priority: 10, RunCount: 1, ReadySince: 5},
		TaskNode{ID: "a", State: StateReady, Priority: 10, RunCount: 1, ReadySince: 5},
		TaskNode{ID: "c", State: StateReady, Priority: 10, RunCount: 1, ReadySince: 5},
	)
	cfg := Config{ConcurrencyCap: 10, PriorityPolicy: PolicyStrict}

	first, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(first.ReadyQueue))

	second, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	assert.Equal(t, ids(first.ReadyQueue), ids(second.ReadyQueue), "same input, same order")
}

func TestReadyQueueHonorsSlots(t *testing.T) {
	g := graphOf(
		TaskNode{ID: "r1", State: StateRunning},
		TaskNode{ID: "r2", State: StateRunning},
		TaskNode{ID: "w1", State: StateReady, Priority: 5},
		TaskNode{ID: "w2", State: StateReady, Priority: 4},
		TaskNode{ID: "w3", State: StateReady, Priority: 3},
	)
	cfg := Config{ConcurrencyCap: 3, PriorityPolicy: PolicyStrict}

	res, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RunningCount)
	assert.Equal(t, 1, res.AvailableSlots)
	assert.Equal(t, []string{"w1"}, ids(res.ReadyQueue))
}

func TestReadyQueueNoNegativeSlots(t *testing.T) {
	g := graphOf(
		TaskNode{ID: "r1", State: StateRunning},
		TaskNode{ID: "r2", State: StateRunning},
		TaskNode{ID: "w1", State: StateReady},
	)
	cfg := Config{ConcurrencyCap: 1, PriorityPolicy: PolicyStrict}

	res, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	assert.Equal(t, 0, res.AvailableSlots)
	assert.Empty(t, res.ReadyQueue)
}

func TestReadyQueueDependencyGating(t *testing.T) {
	g := graphOf(
		TaskNode{ID: "base", State: StateComplete},
		TaskNode{ID: "building", State: StateRunning},
		TaskNode{ID: "unlocked", State: StatePending, Dependencies: []string{"base"}, Priority: 1},
		TaskNode{ID: "waiting", State: StatePending, Dependencies: []string{"building"}, Priority: 9},
	)
	cfg := Config{ConcurrencyCap: 10, PriorityPolicy: PolicyStrict}

	res, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"unlocked"}, ids(res.ReadyQueue),
		"tasks behind incomplete dependencies are not candidates")
}

func TestReadyQueueUnknownDependency(t *testing.T) {
	g := graphOf(
		TaskNode{ID: "orphan", State: StateReady, Dependencies: []string{"ghost"}},
	)
	cfg := Config{ConcurrencyCap: 1, PriorityPolicy: PolicyStrict}

	_, err := cfg.GetReadyQueue(g)
	require.Error(t, err)
	assert.True(t, oerr.IsKind(err, oerr.KindDependencyUnresolved))
	assert.Contains(t, err.Error(), "orphan")
	assert.Contains(t, err.Error(), "ghost")
}

func TestReadyQueueAging(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	nowMs := now.UnixMilli()
	g := graphOf(
		TaskNode{ID: "freshHigh", State: StateReady, Priority: 10, ReadySince: nowMs - 10_000},
		TaskNode{ID: "staleMedium", State: StateReady, Priority: 7, ReadySince: nowMs - 600_000},
		TaskNode{ID: "staleLow", State: StateReady, Priority: 2},
	)
	cfg := Config{
		ConcurrencyCap: 10,
		PriorityPolicy: PolicyAging,
		AgingWindow:    60 * time.Second,
		MaxAgingBoost:  5,
		Now:            func() time.Time { return now },
	}

	res, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	// staleMedium ages 7→12, freshHigh stays 10, staleLow has no
	// readySince and stays 2.
	assert.Equal(t, []string{"staleMedium", "freshHigh", "staleLow"}, ids(res.ReadyQueue))
}

func TestReadyQueueAgingBoundsStarvation(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	nowMs := now.UnixMilli()
	g := graphOf(
		TaskNode{ID: "hare", State: StateReady, Priority: 9, ReadySince: nowMs},
		TaskNode{ID: "tortoise", State: StateReady, Priority: 5, ReadySince: nowMs - 3_600_000},
	)
	cfg := Config{
		ConcurrencyCap: 1,
		PriorityPolicy: PolicyAging,
		AgingWindow:    time.Minute,
		MaxAgingBoost:  5,
		Now:            func() time.Time { return now },
	}

	res, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"tortoise"}, ids(res.ReadyQueue),
		"a fully aged task overtakes any base priority within maxAgingBoost")
}

func TestReadyQueueFairnessTieBreaks(t *testing.T) {
	g := graphOf(
		TaskNode{ID: "retried", State: StateReady, Priority: 5, RunCount: 3, ReadySince: 1},
		TaskNode{ID: "fresh", State: StateReady, Priority: 5, RunCount: 0, ReadySince: 9},
		TaskNode{ID: "older", State: StateReady, Priority: 5, RunCount: 0, ReadySince: 2},
	)
	cfg := Config{ConcurrencyCap: 10, PriorityPolicy: PolicyStrict}

	res, err := cfg.GetReadyQueue(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "fresh", "retried"}, ids(res.ReadyQueue),
		"fewer runs first, then older readySince")
}

func TestPauseResume(t *testing.T) {
	g := graphOf(
		TaskNode{ID: "dep", State: StateRunning},
		TaskNode{ID: "target", State: StatePending, Dependencies: []string{"dep"}},
		TaskNode{ID: "bystander", State: StateReady},
	)

	paused, err := PauseTask(g, "target")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, paused.Nodes["target"].State)
	assert.Equal(t, StatePending, g.Nodes["target"].State, "input graph untouched")
	assert.Equal(t, StateReady, paused.Nodes["bystander"].State, "other nodes untouched")

	// Dependency still incomplete: resume lands in blocked.
	resumed, err := ResumeTask(paused, "target")
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, resumed.Nodes["target"].State)

	// Dependency complete: resume lands in ready.
	depDone := cloneWith(paused, TaskNode{ID: "dep", State: StateComplete})
	resumed, err = ResumeTask(depDone, "target")
	require.NoError(t, err)
	assert.Equal(t, StateReady, resumed.Nodes["target"].State)
}

func TestPauseResumeStateGuards(t *testing.T) {
	g := graphOf(TaskNode{ID: "t", State: StateRunning})

	_, err := PauseTask(g, "t")
	assert.True(t, oerr.IsKind(err, oerr.KindConflictingState))

	_, err = ResumeTask(g, "t")
	assert.True(t, oerr.IsKind(err, oerr.KindConflictingState))

	_, err = PauseTask(g, "missing")
	assert.True(t, oerr.IsNotFound(err))
}
