// Package github implements the tracker plugin contract over the gh CLI,
// resolving issue ids against GitHub Issues.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

// Tracker implements the tracker plugin contract.
type Tracker struct{}

func New() *Tracker { return &Tracker{} }

func (t *Tracker) Name() string { return "github" }

// GetIssue resolves an issue number to its title, state and URL.
func (t *Tracker) GetIssue(ctx context.Context, issueID string, project plugin.ProjectRef) (*plugin.Issue, error) {
	number := strings.TrimPrefix(issueID, "#")
	if _, err := strconv.Atoi(number); err != nil {
		return nil, oerr.E(oerr.KindNotFound, "issue id %q is not a number", issueID)
	}

	out, err := run(ctx, "issue", "view", number,
		"--repo", fmt.Sprintf("%s/%s", project.Owner, project.Repo),
		"--json", "number,title,state,url")
	if err != nil {
		if strings.Contains(err.Error(), "Could not resolve") ||
			strings.Contains(err.Error(), "no issues found") {
			return nil, oerr.E(oerr.KindNotFound, "issue %s not found in %s/%s",
				issueID, project.Owner, project.Repo)
		}
		return nil, err
	}

	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, oerr.Wrap(oerr.KindPlugin, err, "parse issue %s", issueID)
	}

	return &plugin.Issue{
		ID:    strconv.Itoa(raw.Number),
		Title: raw.Title,
		State: strings.ToLower(raw.State),
		URL:   raw.URL,
	}, nil
}

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
