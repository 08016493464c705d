// Package plan parses and validates work plans: the structured documents
// that break a goal into schedulable tasks with acceptance criteria. A
// validated plan task is what satisfies the requireValidatedPlanTask
// spawn policy, and Graph converts a plan into the scheduler's input.
package plan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/scheduler"
)

// SchemaVersion is the plan schema this build understands.
const SchemaVersion = 1

// Check is one acceptance criterion.
type Check struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Verification string `yaml:"verification" json:"verification"`
	Required    bool   `yaml:"required" json:"required"`
}

// Acceptance describes when the plan's goal counts as done.
type Acceptance struct {
	DefinitionOfDone string  `yaml:"definitionOfDone" json:"definitionOfDone"`
	Checks           []Check `yaml:"checks" json:"checks"`
}

// Task is one unit of plan work.
type Task struct {
	ID               string   `yaml:"id" json:"id"`
	Title            string   `yaml:"title" json:"title"`
	Description      string   `yaml:"description" json:"description"`
	Priority         int      `yaml:"priority" json:"priority"`
	Dependencies     []string `yaml:"dependencies" json:"dependencies,omitempty"`
	Risks            []string `yaml:"risks" json:"risks,omitempty"`
	AcceptanceChecks []string `yaml:"acceptanceChecks" json:"acceptanceChecks,omitempty"`
}

// WorkPlan is the full plan document.
type WorkPlan struct {
	SchemaVersion int        `yaml:"schemaVersion" json:"schemaVersion"`
	Goal          string     `yaml:"goal" json:"goal"`
	Assumptions   []string   `yaml:"assumptions" json:"assumptions,omitempty"`
	Acceptance    Acceptance `yaml:"acceptance" json:"acceptance"`
	Tasks         []Task     `yaml:"tasks" json:"tasks"`
}

// Parse decodes a plan document. yaml.v3 accepts JSON input too, so one
// parser covers both formats.
func Parse(raw []byte) (*WorkPlan, error) {
	var p WorkPlan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, oerr.Wrap(oerr.KindConfig, err, "parsing work plan")
	}
	return &p, nil
}

// Load reads and parses a plan file.
func Load(path string) (*WorkPlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindConfig, err, "reading work plan %s", path)
	}
	return Parse(raw)
}

// Validate checks the plan's internal consistency. Structural problems
// are collected so the author sees them all at once; a dependency on an
// unknown task is reported as DependencyUnresolved because that is the
// error schedulers downstream would otherwise hit.
func (p *WorkPlan) Validate() error {
	var errs []string

	if p.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Sprintf("schemaVersion must be %d, got %d", SchemaVersion, p.SchemaVersion))
	}
	if strings.TrimSpace(p.Goal) == "" {
		errs = append(errs, "goal is required")
	}
	if len(p.Tasks) == 0 {
		errs = append(errs, "at least one task is required")
	}

	checkIDs := make(map[string]bool, len(p.Acceptance.Checks))
	for i, c := range p.Acceptance.Checks {
		if c.ID == "" {
			errs = append(errs, fmt.Sprintf("acceptance.checks[%d].id is required", i))
			continue
		}
		if checkIDs[c.ID] {
			errs = append(errs, fmt.Sprintf("duplicate acceptance check id %q", c.ID))
		}
		checkIDs[c.ID] = true
	}

	taskIDs := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("tasks[%d].id is required", i))
			continue
		}
		if taskIDs[t.ID] {
			errs = append(errs, fmt.Sprintf("duplicate task id %q", t.ID))
		}
		taskIDs[t.ID] = true
		if strings.TrimSpace(t.Title) == "" {
			errs = append(errs, fmt.Sprintf("task %s: title is required", t.ID))
		}
		if t.Priority < 0 {
			errs = append(errs, fmt.Sprintf("task %s: priority must not be negative", t.ID))
		}
	}

	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !taskIDs[dep] {
				return oerr.E(oerr.KindDependencyUnresolved,
					"task %s depends on unknown task %s", t.ID, dep)
			}
			if dep == t.ID {
				errs = append(errs, fmt.Sprintf("task %s depends on itself", t.ID))
			}
		}
		for _, ref := range t.AcceptanceChecks {
			if !checkIDs[ref] {
				errs = append(errs, fmt.Sprintf("task %s references unknown acceptance check %q", t.ID, ref))
			}
		}
	}

	if cycle := findCycle(p.Tasks); cycle != "" {
		errs = append(errs, fmt.Sprintf("dependency cycle through task %s", cycle))
	}

	if len(errs) > 0 {
		return oerr.E(oerr.KindConfig, "invalid work plan: %s", strings.Join(errs, "; "))
	}
	return nil
}

// findCycle returns the id of a task on a dependency cycle, or "". A
// cyclic plan would leave its tasks permanently unready.
func findCycle(tasks []Task) string {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.Dependencies
	}
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(tasks))
	var walk func(id string) string
	walk = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if hit := walk(dep); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}
	for _, t := range tasks {
		if hit := walk(t.ID); hit != "" {
			return hit
		}
	}
	return ""
}

// Task returns the plan task with the given id.
func (p *WorkPlan) Task(id string) (*Task, error) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i], nil
		}
	}
	return nil, oerr.E(oerr.KindNotFound, "plan has no task %q", id)
}

// Graph converts a validated plan into a scheduler task graph. Every task
// starts pending with a zero readySince; callers stamp readySince when
// the task's dependencies complete.
func (p *WorkPlan) Graph() scheduler.TaskGraph {
	nodes := make(map[string]scheduler.TaskNode, len(p.Tasks))
	for _, t := range p.Tasks {
		nodes[t.ID] = scheduler.TaskNode{
			ID:           t.ID,
			State:        scheduler.StatePending,
			Dependencies: append([]string(nil), t.Dependencies...),
			Priority:     t.Priority,
		}
	}
	return scheduler.TaskGraph{Nodes: nodes}
}
