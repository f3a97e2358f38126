// Package github implements host.Backend against the GitHub REST and
// GraphQL APIs.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/mergewarden/mergewarden/internal/host"
)

// Backend implements host.Backend for one GitHub repository.
type Backend struct {
	client      *gh.Client
	gqlOnce     sync.Once
	gqlClient   *githubv4.Client
	owner       string
	repo        string
	token       string
	mergeMethod string
}

// NewBackend creates a GitHub backend for owner/repo. The REST client goes
// through go-github-ratelimit middleware for automatic secondary-rate-limit
// handling.
func NewBackend(owner, repo, token, mergeMethod string) *Backend {
	rateLimiter := github_ratelimit.NewClient(nil)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	return &Backend{
		client:      client,
		owner:       owner,
		repo:        repo,
		token:       token,
		mergeMethod: mergeMethod,
	}
}

var _ host.Backend = (*Backend)(nil)

// GetPullRequest fetches current pull request metadata, including the
// host's mergeability computation and the commits-behind count relative to
// the base branch.
func (b *Backend) GetPullRequest(ctx context.Context, number int) (*host.PullRequest, error) {
	pr, _, err := b.client.PullRequests.Get(ctx, b.owner, b.repo, number)
	if err != nil {
		return nil, classify(fmt.Errorf("getting PR #%d: %w", number, err))
	}

	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}

	out := &host.PullRequest{
		Number:           pr.GetNumber(),
		NodeID:           pr.GetNodeID(),
		Title:            pr.GetTitle(),
		State:            state,
		Draft:            pr.GetDraft(),
		HeadSHA:          pr.GetHead().GetSHA(),
		HeadRef:          pr.GetHead().GetRef(),
		BaseRef:          pr.GetBase().GetRef(),
		Author:           pr.GetUser().GetLogin(),
		URL:              pr.GetHTMLURL(),
		Mergeable:        pr.Mergeable,
		MergeStateStatus: strings.ToUpper(pr.GetMergeableState()),
	}

	// BehindBy needs a compare call; failure here is not fatal — the
	// reconciler simply treats the branch as up to date.
	cmp, _, err := b.client.Repositories.CompareCommits(ctx, b.owner, b.repo,
		out.BaseRef, out.HeadSHA, &gh.ListOptions{PerPage: 1})
	if err != nil {
		slog.Warn("failed to compare head against base", "pr", number, "error", err)
	} else {
		out.BehindBy = cmp.GetBehindBy()
	}

	return out, nil
}

// ListChecks returns the merged view of check runs (native checks API) and
// commit statuses (legacy status API) for a commit. Both sources report
// into one set keyed by name; when the same name appears in both, the
// completed entry wins over a pending one.
func (b *Backend) ListChecks(ctx context.Context, sha string) ([]host.CheckResult, error) {
	byName := make(map[string]host.CheckResult)
	var order []string

	add := func(r host.CheckResult) {
		if prev, ok := byName[r.Name]; ok {
			if prev.Status == host.CheckCompleted && r.Status != host.CheckCompleted {
				return
			}
			byName[r.Name] = r
			return
		}
		byName[r.Name] = r
		order = append(order, r.Name)
	}

	checkOpts := &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		result, resp, err := b.client.Checks.ListCheckRunsForRef(ctx, b.owner, b.repo, sha, checkOpts)
		if err != nil {
			return nil, classify(fmt.Errorf("listing check runs for %s: %w", sha, err))
		}
		for _, cr := range result.CheckRuns {
			add(mapCheckRun(cr.GetName(), cr.GetStatus(), cr.GetConclusion()))
		}
		if resp.NextPage == 0 {
			break
		}
		checkOpts.Page = resp.NextPage
	}

	combined, _, err := b.client.Repositories.GetCombinedStatus(ctx, b.owner, b.repo, sha, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, classify(fmt.Errorf("getting combined status for %s: %w", sha, err))
	}
	for _, s := range combined.Statuses {
		add(mapCommitStatus(s.GetContext(), s.GetState()))
	}

	results := make([]host.CheckResult, 0, len(order))
	for _, name := range order {
		results = append(results, byName[name])
	}
	return results, nil
}

// ListComments returns all issue comments on a pull request, oldest first.
func (b *Backend) ListComments(ctx context.Context, number int) ([]host.Comment, error) {
	var comments []host.Comment
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		page, resp, err := b.client.Issues.ListComments(ctx, b.owner, b.repo, number, opts)
		if err != nil {
			return nil, classify(fmt.Errorf("listing comments for #%d: %w", number, err))
		}
		for _, c := range page {
			comments = append(comments, host.Comment{
				ID:        c.GetID(),
				Author:    c.GetUser().GetLogin(),
				Body:      c.GetBody(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return comments, nil
}

// PostComment posts an issue comment on a pull request.
func (b *Backend) PostComment(ctx context.Context, number int, body string) error {
	_, _, err := b.client.Issues.CreateComment(ctx, b.owner, b.repo, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return classify(fmt.Errorf("posting comment on #%d: %w", number, err))
	}
	return nil
}

// SetCommitStatus creates a commit status under the mergewarden context.
func (b *Backend) SetCommitStatus(ctx context.Context, sha string, state host.CommitState, description string) error {
	_, _, err := b.client.Repositories.CreateStatus(ctx, b.owner, b.repo, sha, statusPayload(state, description))
	if err != nil {
		return classify(fmt.Errorf("setting commit status on %s: %w", sha, err))
	}
	return nil
}

// statusPayload builds the commit-status body. CreateStatus takes the
// status by value.
func statusPayload(state host.CommitState, description string) gh.RepoStatus {
	return gh.RepoStatus{
		State:       gh.Ptr(string(state)),
		Description: gh.Ptr(description),
		Context:     gh.Ptr("mergewarden/decision"),
	}
}

// EnableAutoMerge enables auto-merge via the GraphQL mutation — the REST
// API has no equivalent.
func (b *Backend) EnableAutoMerge(ctx context.Context, pr *host.PullRequest) error {
	gql := b.getGraphQLClient(ctx)

	var mutation struct {
		EnablePullRequestAutoMerge struct {
			PullRequest struct {
				Number githubv4.Int
			}
		} `graphql:"enablePullRequestAutoMerge(input: $input)"`
	}

	method := mergeMethodEnum(b.mergeMethod)
	input := githubv4.EnablePullRequestAutoMergeInput{
		PullRequestID: githubv4.ID(pr.NodeID),
		MergeMethod:   &method,
	}

	if err := gql.Mutate(ctx, &mutation, input, nil); err != nil {
		return classify(fmt.Errorf("enabling auto-merge on #%d: %w", pr.Number, err))
	}
	return nil
}

// CloneURL returns the token-authenticated HTTPS remote for the repository.
func (b *Backend) CloneURL() string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", b.token, b.owner, b.repo)
}

// --- Internal helpers ---

// mapCheckRun normalizes a native check-run entry.
func mapCheckRun(name, status, conclusion string) host.CheckResult {
	r := host.CheckResult{Name: name}
	if status != "completed" {
		r.Status = host.CheckPending
		return r
	}
	r.Status = host.CheckCompleted
	switch conclusion {
	case "success":
		r.Conclusion = host.ConclusionSuccess
	case "skipped", "neutral":
		r.Conclusion = host.ConclusionSkipped
	case "failure", "timed_out", "cancelled", "action_required", "startup_failure", "stale":
		r.Conclusion = host.ConclusionFailure
	default:
		r.Conclusion = host.ConclusionUnknown
	}
	return r
}

// mapCommitStatus normalizes a legacy combined-status entry.
func mapCommitStatus(name, state string) host.CheckResult {
	r := host.CheckResult{Name: name}
	switch state {
	case "success":
		r.Status = host.CheckCompleted
		r.Conclusion = host.ConclusionSuccess
	case "failure", "error":
		r.Status = host.CheckCompleted
		r.Conclusion = host.ConclusionFailure
	default: // pending
		r.Status = host.CheckPending
	}
	return r
}

// mergeMethodEnum maps the configured merge method to the GraphQL enum,
// defaulting to squash.
func mergeMethodEnum(method string) githubv4.PullRequestMergeMethod {
	switch strings.ToLower(method) {
	case "merge":
		return githubv4.PullRequestMergeMethodMerge
	case "rebase":
		return githubv4.PullRequestMergeMethodRebase
	default:
		return githubv4.PullRequestMergeMethodSquash
	}
}

// classify tags errors from the GitHub client with the host error taxonomy:
// rate limits, 5xx responses, and transport failures are transient; 404 is
// not-found; everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %v", host.ErrTransient, err)
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch {
		case ghErr.Response.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %v", host.ErrNotFound, err)
		case ghErr.Response.StatusCode >= 500:
			return fmt.Errorf("%w: %v", host.ErrTransient, err)
		}
		return err
	}

	// No structured GitHub error: assume a transport-level failure.
	return fmt.Errorf("%w: %v", host.ErrTransient, err)
}

// getGraphQLClient returns (and lazily creates) the GitHub GraphQL client.
// Thread-safe via sync.Once.
func (b *Backend) getGraphQLClient(ctx context.Context) *githubv4.Client {
	b.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(ctx, ts)
		b.gqlClient = githubv4.NewClient(httpClient)
	})
	return b.gqlClient
}
