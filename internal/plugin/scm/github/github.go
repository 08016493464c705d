// Package github implements the SCM and tracker plugin contracts over
// the gh CLI. The CLI owns authentication, so the orchestrator never
// touches tokens.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

// Review states from the GitHub API.
const (
	reviewStateApproved         = "APPROVED"
	reviewStateChangesRequested = "CHANGES_REQUESTED"
)

// Check run status and conclusion values from the GitHub API.
const (
	checkStatusCompleted = "completed"
	checkStatusSuccess   = "success"
)

var failingConclusions = map[string]bool{
	"failure":         true,
	"timed_out":       true,
	"cancelled":       true,
	"action_required": true,
	"startup_failure": true,
}

// SCM implements the SCM plugin contract.
type SCM struct{}

func New() *SCM { return &SCM{} }

func (s *SCM) Name() string { return "github" }

// Available reports whether the gh CLI is installed.
func Available() bool {
	_, err := exec.LookPath("gh")
	return err == nil
}

// run executes a gh CLI command and returns its stdout. Stderr is
// captured separately so it never contaminates JSON output.
func run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), oerr.Wrap(oerr.KindTransient, err, "gh %s: %s",
			args[0], strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func repoFlag(project plugin.ProjectRef) string {
	return fmt.Sprintf("%s/%s", project.Owner, project.Repo)
}

// ghPR is the JSON shape returned by gh pr list/view.
type ghPR struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	State       string `json:"state"`
	HeadRefName string `json:"headRefName"`
	BaseRefName string `json:"baseRefName"`
	IsDraft     bool   `json:"isDraft"`
	MergedAt    string `json:"mergedAt"`
}

const prJSONFields = "number,title,url,state,headRefName,baseRefName,isDraft,mergedAt"

// DetectPR finds the newest PR for the session branch in any state.
// Merged and closed PRs count; the janitor needs them.
func (s *SCM) DetectPR(ctx context.Context, branch string, project plugin.ProjectRef) (*plugin.PRInfo, error) {
	out, err := run(ctx, "pr", "list",
		"--repo", repoFlag(project),
		"--head", branch,
		"--state", "all",
		"--json", prJSONFields,
		"--limit", "1")
	if err != nil {
		return nil, err
	}

	var prs []ghPR
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, oerr.Wrap(oerr.KindPlugin, err, "parse pr list for branch %s", branch)
	}
	if len(prs) == 0 {
		return nil, nil
	}

	raw := prs[0]
	return &plugin.PRInfo{
		Number:     raw.Number,
		URL:        raw.URL,
		Title:      raw.Title,
		Owner:      project.Owner,
		Repo:       project.Repo,
		Branch:     raw.HeadRefName,
		BaseBranch: raw.BaseRefName,
		IsDraft:    raw.IsDraft,
	}, nil
}

// GetPRState reports open, closed or merged.
func (s *SCM) GetPRState(ctx context.Context, pr plugin.PRInfo) (plugin.PRState, error) {
	out, err := run(ctx, "pr", "view", fmt.Sprintf("%d", pr.Number),
		"--repo", fmt.Sprintf("%s/%s", pr.Owner, pr.Repo),
		"--json", "state,mergedAt")
	if err != nil {
		return "", err
	}

	var raw struct {
		State    string `json:"state"`
		MergedAt string `json:"mergedAt"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return "", oerr.Wrap(oerr.KindPlugin, err, "parse pr view #%d", pr.Number)
	}
	return classifyPRState(raw.State, raw.MergedAt), nil
}

func classifyPRState(state, mergedAt string) plugin.PRState {
	if mergedAt != "" || strings.EqualFold(state, "merged") {
		return plugin.PRStateMerged
	}
	if strings.EqualFold(state, "closed") {
		return plugin.PRStateClosed
	}
	return plugin.PRStateOpen
}

// ghCheckRun is the JSON shape from the check-runs API.
type ghCheckRun struct {
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Conclusion *string `json:"conclusion"`
}

// GetCISummary aggregates check runs on the PR's head branch.
func (s *SCM) GetCISummary(ctx context.Context, pr plugin.PRInfo) (plugin.CISummary, error) {
	out, err := run(ctx, "api",
		fmt.Sprintf("repos/%s/%s/commits/%s/check-runs", pr.Owner, pr.Repo, pr.Branch),
		"--jq", ".check_runs")
	if err != nil {
		return "", err
	}

	var raw []ghCheckRun
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return "", oerr.Wrap(oerr.KindPlugin, err, "parse check runs for #%d", pr.Number)
	}
	return classifyCheckRuns(raw), nil
}

func classifyCheckRuns(runs []ghCheckRun) plugin.CISummary {
	if len(runs) == 0 {
		return plugin.CINone
	}
	pending := false
	for _, cr := range runs {
		if cr.Status != checkStatusCompleted {
			pending = true
			continue
		}
		if cr.Conclusion != nil && failingConclusions[*cr.Conclusion] {
			return plugin.CIFailing
		}
	}
	if pending {
		return plugin.CIPending
	}
	return plugin.CIPassing
}

// MergePR squash-merges the PR. The branch is left in place; workspace
// teardown owns branch lifecycle.
func (s *SCM) MergePR(ctx context.Context, pr plugin.PRInfo) error {
	_, err := run(ctx, "pr", "merge", fmt.Sprintf("%d", pr.Number),
		"--repo", fmt.Sprintf("%s/%s", pr.Owner, pr.Repo),
		"--squash")
	return err
}

// ClosePR closes the PR without merging.
func (s *SCM) ClosePR(ctx context.Context, pr plugin.PRInfo) error {
	_, err := run(ctx, "pr", "close", fmt.Sprintf("%d", pr.Number),
		"--repo", fmt.Sprintf("%s/%s", pr.Owner, pr.Repo))
	return err
}
