// Package scheduler answers one question: given a task graph, which
// tasks should run next? It is pure — every function takes a graph and
// returns a result or a new graph without mutating its input, so callers
// can evaluate admission decisions speculatively and tests need no
// fixtures beyond literal graphs.
package scheduler

import (
	"sort"
	"time"

	"github.com/agentorch/ao/internal/oerr"
)

// State is a task's scheduling state.
type State string

const (
	StatePending  State = "pending"
	StateReady    State = "ready"
	StateBlocked  State = "blocked"
	StatePaused   State = "paused"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// TaskNode is one schedulable unit.
type TaskNode struct {
	ID           string   `json:"id"`
	State        State    `json:"state"`
	Dependencies []string `json:"dependencies,omitempty"`
	Priority     int      `json:"priority"`
	// RunCount is how many times the task has been admitted; lower counts
	// win ties so retried tasks do not crowd out fresh ones.
	RunCount int `json:"runCount"`
	// ReadySince is the ms-epoch instant the task became eligible. Zero
	// means unknown and earns no aging boost.
	ReadySince int64 `json:"readySince"`
}

// TaskGraph maps task ids to nodes.
type TaskGraph struct {
	Nodes map[string]TaskNode `json:"nodes"`
}

// PriorityPolicy selects how effective priority is computed.
type PriorityPolicy string

const (
	PolicyStrict PriorityPolicy = "strict"
	PolicyAging  PriorityPolicy = "aging"
)

// Config tunes admission.
type Config struct {
	ConcurrencyCap int
	PriorityPolicy PriorityPolicy
	// AgingWindow is how long a task must wait to earn one priority point
	// under the aging policy.
	AgingWindow time.Duration
	// MaxAgingBoost caps the points waiting can earn.
	MaxAgingBoost int
	// Now overrides the clock; nil means time.Now. Aging reads it once per
	// call so every candidate ages against the same instant.
	Now func() time.Time
}

// Validate rejects configurations that cannot schedule.
func (c Config) Validate() error {
	if c.ConcurrencyCap < 1 {
		return oerr.E(oerr.KindConfig, "concurrencyCap must be at least 1, got %d", c.ConcurrencyCap)
	}
	switch c.PriorityPolicy {
	case PolicyStrict:
	case PolicyAging:
		if c.AgingWindow <= 0 {
			return oerr.E(oerr.KindConfig, "agingWindow must be positive under the aging policy")
		}
		if c.MaxAgingBoost < 0 {
			return oerr.E(oerr.KindConfig, "maxAgingBoost must not be negative")
		}
	default:
		return oerr.E(oerr.KindConfig, "priorityPolicy must be strict or aging, got %q", c.PriorityPolicy)
	}
	return nil
}

// ReadyQueueResult is the scheduler's admission verdict.
type ReadyQueueResult struct {
	// ReadyQueue holds the tasks to admit now, best first, at most
	// AvailableSlots long.
	ReadyQueue []TaskNode
	// RunningCount is how many tasks are already running.
	RunningCount int
	// AvailableSlots is how many more tasks the cap allows.
	AvailableSlots int
}

// GetReadyQueue computes which tasks to admit. Candidates are tasks in
// ready or pending state whose dependencies are all complete; they are
// ordered by effective priority descending, then fewer runs, then older
// readySince, then id — so identical inputs always produce identical
// output. A dependency on an unknown node is a programmer error and
// fails the whole call.
func (c Config) GetReadyQueue(graph TaskGraph) (ReadyQueueResult, error) {
	if err := c.Validate(); err != nil {
		return ReadyQueueResult{}, err
	}

	running := 0
	for _, node := range graph.Nodes {
		if node.State == StateRunning {
			running++
		}
	}
	slots := c.ConcurrencyCap - running
	if slots < 0 {
		slots = 0
	}

	var nowMs int64
	if c.PriorityPolicy == PolicyAging {
		now := c.Now
		if now == nil {
			now = time.Now
		}
		nowMs = now().UnixMilli()
	}

	var candidates []TaskNode
	for _, node := range graph.Nodes {
		if node.State != StateReady && node.State != StatePending {
			continue
		}
		eligible := true
		for _, dep := range node.Dependencies {
			depNode, ok := graph.Nodes[dep]
			if !ok {
				return ReadyQueueResult{}, oerr.E(oerr.KindDependencyUnresolved,
					"task %s depends on unknown task %s", node.ID, dep)
			}
			if depNode.State != StateComplete {
				eligible = false
				break
			}
		}
		if eligible {
			candidates = append(candidates, node)
		}
	}

	effective := func(n TaskNode) int {
		if c.PriorityPolicy != PolicyAging || n.ReadySince == 0 {
			return n.Priority
		}
		boost := int((nowMs - n.ReadySince) / c.AgingWindow.Milliseconds())
		if boost < 0 {
			boost = 0
		}
		if boost > c.MaxAgingBoost {
			boost = c.MaxAgingBoost
		}
		return n.Priority + boost
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if pa, pb := effective(a), effective(b); pa != pb {
			return pa > pb
		}
		if a.RunCount != b.RunCount {
			return a.RunCount < b.RunCount
		}
		if a.ReadySince != b.ReadySince {
			return a.ReadySince < b.ReadySince
		}
		return a.ID < b.ID
	})

	if len(candidates) > slots {
		candidates = candidates[:slots]
	}
	return ReadyQueueResult{
		ReadyQueue:     candidates,
		RunningCount:   running,
		AvailableSlots: slots,
	}, nil
}

// cloneWith returns a copy of the graph with one node replaced.
func cloneWith(graph TaskGraph, node TaskNode) TaskGraph {
	nodes := make(map[string]TaskNode, len(graph.Nodes))
	for id, n := range graph.Nodes {
		nodes[id] = n
	}
	nodes[node.ID] = node
	return TaskGraph{Nodes: nodes}
}

// PauseTask moves a blocked, ready, or pending task to paused and returns
// the new graph. Pausing a task in any other state is a ConflictingState
// error; pausing an unknown task is NotFound.
func PauseTask(graph TaskGraph, id string) (TaskGraph, error) {
	node, ok := graph.Nodes[id]
	if !ok {
		return TaskGraph{}, oerr.E(oerr.KindNotFound, "unknown task %s", id)
	}
	switch node.State {
	case StateBlocked, StateReady, StatePending:
		node.State = StatePaused
		return cloneWith(graph, node), nil
	default:
		return TaskGraph{}, oerr.E(oerr.KindConflictingState,
			"cannot pause task %s in state %s", id, node.State)
	}
}

// ResumeTask moves a paused task back to ready when its dependencies are
// all complete, blocked otherwise, and returns the new graph.
func ResumeTask(graph TaskGraph, id string) (TaskGraph, error) {
	node, ok := graph.Nodes[id]
	if !ok {
		return TaskGraph{}, oerr.E(oerr.KindNotFound, "unknown task %s", id)
	}
	if node.State != StatePaused {
		return TaskGraph{}, oerr.E(oerr.KindConflictingState,
			"cannot resume task %s in state %s", id, node.State)
	}
	node.State = StateReady
	for _, dep := range node.Dependencies {
		depNode, ok := graph.Nodes[dep]
		if !ok {
			return TaskGraph{}, oerr.E(oerr.KindDependencyUnresolved,
				"task %s depends on unknown task %s", id, dep)
		}
		if depNode.State != StateComplete {
			node.State = StateBlocked
			break
		}
	}
	return cloneWith(graph, node), nil
}
