package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plan"
	"github.com/agentorch/ao/internal/session"
)

func cmdSpawn(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("spawn", flag.ContinueOnError)
	project := fs.String("project", "", "project id")
	issue := fs.String("issue", "", "issue id or URL")
	prompt := fs.String("prompt", "", "initial agent prompt")
	planFile := fs.String("plan", "", "work plan file")
	taskID := fs.String("task", "", "plan task id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" {
		return oerr.E(oerr.KindConfig, "spawn requires -project")
	}

	req := session.SpawnRequest{ProjectID: *project, IssueID: *issue, Prompt: *prompt}
	if *taskID != "" {
		if *planFile == "" {
			return oerr.E(oerr.KindConfig, "-task requires -plan <file>")
		}
		wp, err := plan.Load(*planFile)
		if err != nil {
			return err
		}
		if err := wp.Validate(); err != nil {
			return err
		}
		task, err := wp.Task(*taskID)
		if err != nil {
			return err
		}
		req.PlanTask = task
	}

	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.manager.Spawn(ctx, req)
	if err != nil {
		return err
	}
	if g.jsonOut {
		return printJSON(s)
	}
	fmt.Printf("spawned %s (project %s, branch %s)\n", s.ID, s.ProjectID, s.Branch)
	return nil
}

func cmdKill(ctx context.Context, g globals, args []string) error {
	if len(args) != 1 {
		return oerr.E(oerr.KindConfig, "usage: ao kill <session-id>")
	}
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.Kill(ctx, args[0]); err != nil {
		return err
	}
	if !g.jsonOut {
		fmt.Printf("killed %s\n", args[0])
	}
	return nil
}

func cmdList(_ context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	project := fs.String("project", "", "filter by project id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.manager.List(*project)
	if err != nil {
		return err
	}
	if g.jsonOut {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("no live sessions")
		return nil
	}
	fmt.Printf("%-12s %-12s %-18s %-10s %s\n", "SESSION", "PROJECT", "STATUS", "ACTIVITY", "BRANCH")
	for _, s := range sessions {
		fmt.Printf("%-12s %-12s %-18s %-10s %s\n",
			s.ID, s.ProjectID, s.Status, s.Activity, s.Branch)
	}
	return nil
}

func cmdGet(_ context.Context, g globals, args []string) error {
	if len(args) != 1 {
		return oerr.E(oerr.KindConfig, "usage: ao get <session-id>")
	}
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.manager.Get(args[0])
	if err != nil {
		return err
	}
	if s == nil {
		return oerr.E(oerr.KindNotFound, "session %s not found", args[0])
	}
	if g.jsonOut {
		return printJSON(s)
	}
	fmt.Printf("session:   %s\n", s.ID)
	fmt.Printf("project:   %s\n", s.ProjectID)
	fmt.Printf("status:    %s\n", s.Status)
	if s.Activity != "" {
		fmt.Printf("activity:  %s\n", s.Activity)
	}
	if s.Branch != "" {
		fmt.Printf("branch:    %s\n", s.Branch)
	}
	if s.IssueID != "" {
		fmt.Printf("issue:     %s\n", s.IssueID)
	}
	if s.PR != nil && s.PR.URL != "" {
		fmt.Printf("pr:        %s\n", s.PR.URL)
	}
	if s.WorkspacePath != "" {
		fmt.Printf("worktree:  %s\n", s.WorkspacePath)
	}
	if !s.CreatedAt.IsZero() {
		fmt.Printf("created:   %s\n", s.CreatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func cmdSend(ctx context.Context, g globals, args []string) error {
	if len(args) < 2 {
		return oerr.E(oerr.KindConfig, "usage: ao send <session-id> <message...>")
	}
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	id, message := args[0], strings.Join(args[1:], " ")
	if err := a.manager.Send(ctx, id, message); err != nil {
		return err
	}
	if !g.jsonOut {
		fmt.Printf("sent to %s\n", id)
	}
	return nil
}

func cmdRestore(ctx context.Context, g globals, args []string) error {
	if len(args) != 1 {
		return oerr.E(oerr.KindConfig, "usage: ao restore <session-id>")
	}
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	s, err := a.manager.Restore(ctx, args[0])
	if err != nil {
		return err
	}
	if g.jsonOut {
		return printJSON(s)
	}
	fmt.Printf("restored %s (branch %s)\n", s.ID, s.Branch)
	return nil
}

func cmdCleanup(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	project := fs.String("project", "", "limit to one project")
	dryRun := fs.Bool("dry-run", false, "report without killing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.manager.Cleanup(ctx, *project, session.CleanupOptions{DryRun: *dryRun})
	if err != nil {
		return err
	}
	if g.jsonOut {
		return printJSON(report)
	}
	verb := "killed"
	if *dryRun {
		verb = "would kill"
	}
	fmt.Printf("%s %d session(s), skipped %d\n", verb, len(report.Killed), len(report.Skipped))
	for _, id := range report.Killed {
		fmt.Printf("  %s %s\n", verb, id)
	}
	for _, e := range report.Errors {
		fmt.Printf("  error on %s: %s\n", e.SessionID, e.Err)
	}
	return nil
}

func cmdPlan(_ context.Context, g globals, args []string) error {
	if len(args) != 2 || args[0] != "validate" {
		return oerr.E(oerr.KindConfig, "usage: ao plan validate <file>")
	}
	wp, err := plan.Load(args[1])
	if err != nil {
		return err
	}
	if err := wp.Validate(); err != nil {
		return err
	}
	if g.jsonOut {
		return printJSON(map[string]any{"valid": true, "tasks": len(wp.Tasks)})
	}
	fmt.Printf("plan ok: %d task(s), %d acceptance check(s)\n", len(wp.Tasks), len(wp.Acceptance.Checks))
	return nil
}
