package github

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

// ghReview is the JSON shape for reviews from the GitHub API.
type ghReview struct {
	ID   int64 `json:"id"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// GetReviewDecision aggregates the latest meaningful review per author.
// One standing request for changes outweighs any number of approvals.
func (s *SCM) GetReviewDecision(ctx context.Context, pr plugin.PRInfo) (plugin.ReviewDecision, error) {
	out, err := run(ctx, "api",
		fmt.Sprintf("repos/%s/%s/pulls/%d/reviews", pr.Owner, pr.Repo, pr.Number),
		"--paginate")
	if err != nil {
		return "", err
	}

	var raw []ghReview
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return "", oerr.Wrap(oerr.KindPlugin, err, "parse reviews for #%d", pr.Number)
	}
	return aggregateReviews(raw), nil
}

func aggregateReviews(reviews []ghReview) plugin.ReviewDecision {
	if len(reviews) == 0 {
		return plugin.ReviewNone
	}

	// Latest APPROVED or CHANGES_REQUESTED per author; comment-only
	// reviews do not dismiss a standing verdict.
	latest := make(map[string]ghReview)
	for _, r := range reviews {
		if r.State != reviewStateApproved && r.State != reviewStateChangesRequested {
			continue
		}
		existing, ok := latest[r.User.Login]
		if !ok || r.SubmittedAt.After(existing.SubmittedAt) {
			latest[r.User.Login] = r
		}
	}

	approved := false
	for _, r := range latest {
		if r.State == reviewStateChangesRequested {
			return plugin.ReviewChangesRequested
		}
		if r.State == reviewStateApproved {
			approved = true
		}
	}
	if approved {
		return plugin.ReviewApproved
	}
	return plugin.ReviewPending
}

// ghComment covers both review comments and conversation comments.
type ghComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// GetPendingComments returns review and conversation comments merged in
// creation order.
func (s *SCM) GetPendingComments(ctx context.Context, pr plugin.PRInfo) ([]plugin.Comment, error) {
	reviewComments, err := s.listComments(ctx, pr,
		fmt.Sprintf("repos/%s/%s/pulls/%d/comments", pr.Owner, pr.Repo, pr.Number))
	if err != nil {
		return nil, err
	}
	issueComments, err := s.listComments(ctx, pr,
		fmt.Sprintf("repos/%s/%s/issues/%d/comments", pr.Owner, pr.Repo, pr.Number))
	if err != nil {
		return nil, err
	}

	comments := append(reviewComments, issueComments...)
	sort.SliceStable(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ID < comments[j].ID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
	return comments, nil
}

func (s *SCM) listComments(ctx context.Context, pr plugin.PRInfo, endpoint string) ([]plugin.Comment, error) {
	out, err := run(ctx, "api", endpoint, "--paginate")
	if err != nil {
		return nil, err
	}
	var raw []ghComment
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, oerr.Wrap(oerr.KindPlugin, err, "parse comments for #%d", pr.Number)
	}
	comments := make([]plugin.Comment, len(raw))
	for i, c := range raw {
		comments[i] = plugin.Comment{
			ID:        strconv.FormatInt(c.ID, 10),
			Author:    c.User.Login,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		}
	}
	return comments, nil
}

const reviewThreadsQuery = `query($owner:String!,$repo:String!,$number:Int!){
  repository(owner:$owner,name:$repo){
    pullRequest(number:$number){
      reviewThreads(first:100){
        nodes{
          isResolved
          comments(first:50){
            nodes{ databaseId body author{ login } }
          }
        }
      }
    }
  }
}`

type ghReviewThreads struct {
	Data struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						IsResolved bool `json:"isResolved"`
						Comments   struct {
							Nodes []struct {
								DatabaseID int64  `json:"databaseId"`
								Body       string `json:"body"`
								Author     struct {
									Login string `json:"login"`
								} `json:"author"`
							} `json:"nodes"`
						} `json:"comments"`
					} `json:"nodes"`
				} `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

// GetAutomatedComments returns review threads opened by automated
// reviewers, keyed by the thread's first comment id. Resolution state
// lives on the thread, which REST does not expose.
func (s *SCM) GetAutomatedComments(ctx context.Context, pr plugin.PRInfo, botLogins []string) ([]plugin.AutomatedComment, error) {
	out, err := run(ctx, "api", "graphql",
		"-f", "query="+reviewThreadsQuery,
		"-F", "owner="+pr.Owner,
		"-F", "repo="+pr.Repo,
		"-F", fmt.Sprintf("number=%d", pr.Number))
	if err != nil {
		return nil, err
	}

	var raw ghReviewThreads
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, oerr.Wrap(oerr.KindPlugin, err, "parse review threads for #%d", pr.Number)
	}
	return convertReviewThreads(raw, botLogins), nil
}

func convertReviewThreads(raw ghReviewThreads, botLogins []string) []plugin.AutomatedComment {
	var comments []plugin.AutomatedComment
	for _, thread := range raw.Data.Repository.PullRequest.ReviewThreads.Nodes {
		if len(thread.Comments.Nodes) == 0 {
			continue
		}
		first := thread.Comments.Nodes[0]
		if !isAutomatedAuthor(first.Author.Login, botLogins) {
			continue
		}
		comments = append(comments, plugin.AutomatedComment{
			ID:       strconv.FormatInt(first.DatabaseID, 10),
			Author:   first.Author.Login,
			Body:     first.Body,
			Resolved: thread.IsResolved,
		})
	}
	return comments
}

// isAutomatedAuthor matches configured bot logins, plus the GitHub App
// login convention as a fallback.
func isAutomatedAuthor(login string, botLogins []string) bool {
	for _, bot := range botLogins {
		if strings.EqualFold(login, bot) {
			return true
		}
	}
	return len(botLogins) == 0 && strings.HasSuffix(strings.ToLower(login), "[bot]")
}

// ghMergeView is the JSON shape from gh pr view for merge gating.
type ghMergeView struct {
	IsDraft           bool   `json:"isDraft"`
	Mergeable         string `json:"mergeable"`
	ReviewDecision    string `json:"reviewDecision"`
	StatusCheckRollup []struct {
		Typename   string `json:"__typename"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		State      string `json:"state"`
	} `json:"statusCheckRollup"`
}

// GetMergeability reports the merge gates individually so the controller
// can name what is blocking.
func (s *SCM) GetMergeability(ctx context.Context, pr plugin.PRInfo) (plugin.Mergeability, error) {
	out, err := run(ctx, "pr", "view", fmt.Sprintf("%d", pr.Number),
		"--repo", fmt.Sprintf("%s/%s", pr.Owner, pr.Repo),
		"--json", "isDraft,mergeable,reviewDecision,statusCheckRollup")
	if err != nil {
		return plugin.Mergeability{}, err
	}

	var raw ghMergeView
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return plugin.Mergeability{}, oerr.Wrap(oerr.KindPlugin, err, "parse merge view #%d", pr.Number)
	}
	return computeMergeability(raw), nil
}

func computeMergeability(raw ghMergeView) plugin.Mergeability {
	m := plugin.Mergeability{
		NoConflicts: strings.EqualFold(raw.Mergeable, "MERGEABLE"),
		CIPassing:   true,
		// An empty decision means the repo requires no review.
		Approved: raw.ReviewDecision == "" || raw.ReviewDecision == reviewStateApproved,
	}

	for _, check := range raw.StatusCheckRollup {
		switch {
		case failingRollupEntry(check.Status, check.Conclusion, check.State):
			m.CIPassing = false
			m.Blockers = appendOnce(m.Blockers, "ci failing")
		case pendingRollupEntry(check.Status, check.Conclusion, check.State):
			m.CIPassing = false
			m.Blockers = appendOnce(m.Blockers, "ci pending")
		}
	}

	if !m.NoConflicts {
		m.Blockers = append(m.Blockers, "merge conflicts")
	}
	if !m.Approved {
		m.Blockers = append(m.Blockers, strings.ToLower(raw.ReviewDecision))
	}
	if raw.IsDraft {
		m.Blockers = append(m.Blockers, "draft")
	}

	m.Mergeable = m.NoConflicts && m.CIPassing && m.Approved && !raw.IsDraft
	return m
}

func failingRollupEntry(status, conclusion, state string) bool {
	if failingConclusions[strings.ToLower(conclusion)] {
		return true
	}
	switch strings.ToUpper(state) {
	case "FAILURE", "ERROR":
		return true
	}
	return false
}

func pendingRollupEntry(status, conclusion, state string) bool {
	if status != "" && !strings.EqualFold(status, "COMPLETED") {
		return true
	}
	return strings.EqualFold(state, "PENDING") || strings.EqualFold(state, "EXPECTED")
}

func appendOnce(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
