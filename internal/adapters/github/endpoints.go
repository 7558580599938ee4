package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agpm/internal/core/rules"
	perr "agpm/internal/platform/errors"
)

// ListRepositories enumerates the repositories visible to the token, filtered
// through the include and exclude lists
func (c *Client) ListRepositories(ctx context.Context) ([]RepoRef, error) {
	var out []RepoRef
	path := fmt.Sprintf("/user/repos?per_page=%d", c.opts.PerPage)
	for path != "" {
		body, next, err := c.get(ctx, path)
		if err != nil {
			return softenList(c, out, err, "list repositories")
		}
		var page []wireRepo
		if jerr := json.Unmarshal(body, &page); jerr != nil {
			c.log.Warn().Err(jerr).Msg("repository page unparseable, treating as empty")
			return out, nil
		}
		for _, r := range page {
			ref := RepoRef{Owner: r.Owner.Login, Name: r.Name}
			if ref.Owner == "" || ref.Name == "" || !c.Allowed(ref) {
				continue
			}
			out = append(out, ref)
		}
		path = next
	}
	return out, nil
}

// ListPullRequests pages through the repo's pull requests.
// since > 0 keeps only PRs updated within that window; includeMerged keeps
// merged PRs in the result
func (c *Client) ListPullRequests(
	ctx context.Context,
	repo RepoRef,
	includeMerged bool,
	perPage int,
	since time.Duration,
) ([]PullRequest, error) {
	if !c.Allowed(repo) {
		return nil, nil
	}
	if perPage <= 0 {
		perPage = c.opts.PerPage
	}
	cutoff := time.Time{}
	if since > 0 {
		cutoff = c.now().Add(-since)
	}
	var out []PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=all&per_page=%d&sort=updated&direction=desc",
		encodeRef(repo.Owner), encodeRef(repo.Name), perPage)
	for path != "" {
		body, next, err := c.get(ctx, path)
		if err != nil {
			return softenList(c, out, err, "list pull requests")
		}
		var page []wirePull
		if jerr := json.Unmarshal(body, &page); jerr != nil {
			c.log.Warn().Err(jerr).Str("repo", repo.Slug()).Msg("pull page unparseable, treating as empty")
			return out, nil
		}
		done := false
		for _, w := range page {
			pr := w.toPullRequest()
			if pr.Owner == "" {
				pr.Owner = repo.Owner
			}
			if pr.Name == "" {
				pr.Name = repo.Name
			}
			if !cutoff.IsZero() && pr.UpdatedAt.Before(cutoff) {
				// results are sorted by updated desc, the rest is older
				done = true
				break
			}
			if pr.Merged && !includeMerged {
				continue
			}
			out = append(out, pr)
		}
		if done {
			break
		}
		path = next
	}
	return out, nil
}

// ListOpenPullRequests is the single request fast path used when the request
// budget is too tight for full pagination
func (c *Client) ListOpenPullRequests(ctx context.Context, repo RepoRef, limit int) ([]PullRequest, error) {
	if !c.Allowed(repo) {
		return nil, nil
	}
	if limit <= 0 {
		limit = c.opts.PerPage
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=open&per_page=%d",
		encodeRef(repo.Owner), encodeRef(repo.Name), limit)
	body, _, err := c.get(ctx, path)
	if err != nil {
		return softenList[PullRequest](c, nil, err, "list open pull requests")
	}
	var page []wirePull
	if jerr := json.Unmarshal(body, &page); jerr != nil {
		c.log.Warn().Err(jerr).Str("repo", repo.Slug()).Msg("pull page unparseable, treating as empty")
		return nil, nil
	}
	out := make([]PullRequest, 0, len(page))
	for _, w := range page {
		pr := w.toPullRequest()
		if pr.Owner == "" {
			pr.Owner = repo.Owner
		}
		if pr.Name == "" {
			pr.Name = repo.Name
		}
		out = append(out, pr)
	}
	return out, nil
}

// PullRequestMetadata fetches the merge relevant detail for one pull request:
// review approvals, mergeability, and the aggregate check state
func (c *Client) PullRequestMetadata(ctx context.Context, repo RepoRef, number int) (rules.PullMeta, error) {
	var meta rules.PullMeta
	if !c.Allowed(repo) {
		return meta, perr.NotFoundf("repository filtered: %s", repo.Slug())
	}
	body, _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/pulls/%d",
		encodeRef(repo.Owner), encodeRef(repo.Name), number))
	if err != nil {
		return meta, err
	}
	var w wirePull
	if jerr := json.Unmarshal(body, &w); jerr != nil {
		return meta, perr.Wrapf(jerr, perr.ErrorCodeJSON, "pull detail unparseable")
	}
	meta.State = strings.ToLower(w.State)
	meta.Draft = w.Draft
	meta.MergeableState = strings.ToLower(w.MergeableState)
	if w.Mergeable != nil {
		meta.Mergeable = *w.Mergeable
		meta.MergeableKnown = true
	}
	meta.Approvals = c.countApprovals(ctx, repo, number)
	meta.Checks = c.checkState(ctx, repo, w.Head.SHA)
	return meta, nil
}

// countApprovals tallies distinct users whose latest review is APPROVED
func (c *Client) countApprovals(ctx context.Context, repo RepoRef, number int) int {
	body, _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews?per_page=%d",
		encodeRef(repo.Owner), encodeRef(repo.Name), number, c.opts.PerPage))
	if err != nil {
		c.log.Warn().Err(err).Str("repo", repo.Slug()).Int("number", number).Msg("review listing failed")
		return 0
	}
	var reviews []wireReview
	if jerr := json.Unmarshal(body, &reviews); jerr != nil {
		return 0
	}
	latest := map[string]string{}
	for _, r := range reviews {
		if r.User.Login == "" {
			continue
		}
		switch strings.ToUpper(r.State) {
		case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
			latest[r.User.Login] = strings.ToUpper(r.State)
		}
	}
	n := 0
	for _, s := range latest {
		if s == "APPROVED" {
			n++
		}
	}
	return n
}

// checkState maps the combined commit status onto the decider's enum
func (c *Client) checkState(ctx context.Context, repo RepoRef, sha string) rules.CheckState {
	if sha == "" {
		return rules.CheckUnknown
	}
	body, _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/commits/%s/status",
		encodeRef(repo.Owner), encodeRef(repo.Name), encodeRef(sha)))
	if err != nil {
		return rules.CheckUnknown
	}
	var cs wireCombinedStatus
	if jerr := json.Unmarshal(body, &cs); jerr != nil {
		return rules.CheckUnknown
	}
	if cs.TotalCount == 0 {
		return rules.CheckUnknown
	}
	switch strings.ToLower(cs.State) {
	case "success":
		return rules.CheckPassed
	case "failure":
		return rules.CheckFailed
	case "error":
		return rules.CheckRejected
	default:
		return rules.CheckUnknown
	}
}

// MergePullRequest consults the gate before issuing the merge.
// False means the gate blocked, the server refused, or the repo is filtered
func (c *Client) MergePullRequest(ctx context.Context, repo RepoRef, number int, gate rules.MergeGate) (bool, error) {
	if !c.Allowed(repo) {
		return false, nil
	}
	meta, err := c.PullRequestMetadata(ctx, repo, number)
	if err != nil {
		return false, c.soften(err, "merge metadata")
	}
	if ok, reason := gate.Allows(meta); !ok {
		c.log.Info().Str("repo", repo.Slug()).Int("number", number).Str("blocked_by", reason).Msg("merge gate blocked")
		return false, nil
	}
	status, body, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", encodeRef(repo.Owner), encodeRef(repo.Name), number),
		[]byte(`{}`))
	if err != nil {
		return false, c.soften(err, "merge pull request")
	}
	if status != http.StatusOK {
		c.log.Warn().Str("repo", repo.Slug()).Int("number", number).Int("status", status).Msg("merge refused by server")
		return false, nil
	}
	var res wireMergeResult
	if jerr := json.Unmarshal(body, &res); jerr != nil {
		// a 200 without a parseable body still merged
		return true, nil
	}
	return res.Merged || status == http.StatusOK, nil
}

// ClosePullRequest patches the pull request state to closed
func (c *Client) ClosePullRequest(ctx context.Context, repo RepoRef, number int) (bool, error) {
	if !c.Allowed(repo) {
		return false, nil
	}
	status, _, err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/repos/%s/%s/pulls/%d", encodeRef(repo.Owner), encodeRef(repo.Name), number),
		[]byte(`{"state":"closed"}`))
	if err != nil {
		return false, c.soften(err, "close pull request")
	}
	if status != http.StatusOK {
		c.log.Warn().Str("repo", repo.Slug()).Int("number", number).Int("status", status).Msg("close refused by server")
		return false, nil
	}
	return true, nil
}

// ListBranches pages through the repo's branches
func (c *Client) ListBranches(ctx context.Context, repo RepoRef) ([]Branch, error) {
	if !c.Allowed(repo) {
		return nil, nil
	}
	var out []Branch
	path := fmt.Sprintf("/repos/%s/%s/branches?per_page=%d",
		encodeRef(repo.Owner), encodeRef(repo.Name), c.opts.PerPage)
	for path != "" {
		body, next, err := c.get(ctx, path)
		if err != nil {
			return softenList(c, out, err, "list branches")
		}
		var page []wireBranch
		if jerr := json.Unmarshal(body, &page); jerr != nil {
			c.log.Warn().Err(jerr).Str("repo", repo.Slug()).Msg("branch page unparseable, treating as empty")
			return out, nil
		}
		for _, b := range page {
			out = append(out, Branch{
				Owner:   repo.Owner,
				Name:    repo.Name,
				Ref:     b.Name,
				LastSHA: b.Commit.SHA,
			})
		}
		path = next
	}
	return out, nil
}

// DefaultBranch returns the repo's default branch name
func (c *Client) DefaultBranch(ctx context.Context, repo RepoRef) (string, error) {
	body, _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s", encodeRef(repo.Owner), encodeRef(repo.Name)))
	if err != nil {
		return "", err
	}
	var w wireRepo
	if jerr := json.Unmarshal(body, &w); jerr != nil {
		return "", perr.Wrapf(jerr, perr.ErrorCodeJSON, "repo detail unparseable")
	}
	return w.DefaultBranch, nil
}

// Compare runs the base...head comparison
func (c *Client) Compare(ctx context.Context, repo RepoRef, base, head string) (CompareResult, error) {
	body, _, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/compare/%s...%s",
		encodeRef(repo.Owner), encodeRef(repo.Name), encodeRef(base), encodeRef(head)))
	if err != nil {
		return CompareResult{}, err
	}
	var w wireCompare
	if jerr := json.Unmarshal(body, &w); jerr != nil {
		return CompareResult{}, perr.Wrapf(jerr, perr.ErrorCodeJSON, "compare unparseable")
	}
	return CompareResult{Status: strings.ToLower(w.Status), AheadBy: w.AheadBy}, nil
}

// DeleteBranch removes a ref unless branch protection holds it.
// False with nil error means protection or a refusal the poller can live with
func (c *Client) DeleteBranch(ctx context.Context, repo RepoRef, ref string, prot *rules.Protection) (bool, error) {
	if !c.Allowed(repo) {
		return false, nil
	}
	if prot.Protected(ref) {
		c.log.Info().Str("repo", repo.Slug()).Str("ref", ref).Msg("branch protected, skipping delete")
		return false, nil
	}
	status, _, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", encodeRef(repo.Owner), encodeRef(repo.Name), encodeRef(ref)),
		nil)
	if err != nil {
		return false, c.soften(err, "delete branch")
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		c.log.Warn().Str("repo", repo.Slug()).Str("ref", ref).Int("status", status).Msg("branch delete refused")
		return false, nil
	}
	return true, nil
}

// CleanupBranches deletes head refs of closed pull requests that match prefix.
// It returns the number of branches actually deleted
func (c *Client) CleanupBranches(ctx context.Context, repo RepoRef, prefix string, prot *rules.Protection) (int, error) {
	if !c.Allowed(repo) || prefix == "" {
		return 0, nil
	}
	var deleted int
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=closed&per_page=%d",
		encodeRef(repo.Owner), encodeRef(repo.Name), c.opts.PerPage)
	for path != "" {
		body, next, err := c.get(ctx, path)
		if err != nil {
			return deleted, c.soften(err, "cleanup listing")
		}
		var page []wirePull
		if jerr := json.Unmarshal(body, &page); jerr != nil {
			return deleted, nil
		}
		for _, w := range page {
			ref := w.Head.Ref
			if ref == "" || !strings.HasPrefix(ref, prefix) {
				continue
			}
			ok, derr := c.DeleteBranch(ctx, repo, ref, prot)
			if derr != nil {
				return deleted, derr
			}
			if ok {
				deleted++
			}
		}
		path = next
	}
	return deleted, nil
}

// CloseDirtyBranches deletes branches that sit ahead of the default branch.
// allowDeleteBase permits removing the default branch itself, which is almost
// never what anyone wants
func (c *Client) CloseDirtyBranches(
	ctx context.Context,
	repo RepoRef,
	prot *rules.Protection,
	allowDeleteBase bool,
) (int, error) {
	if !c.Allowed(repo) {
		return 0, nil
	}
	base, err := c.DefaultBranch(ctx, repo)
	if err != nil {
		return 0, c.soften(err, "default branch")
	}
	if base == "" {
		return 0, nil
	}
	branches, err := c.ListBranches(ctx, repo)
	if err != nil {
		return 0, err
	}
	var deleted int
	for _, b := range branches {
		if b.Ref == base && !allowDeleteBase {
			continue
		}
		cmp, cerr := c.Compare(ctx, repo, base, b.Ref)
		if cerr != nil {
			c.log.Warn().Err(cerr).Str("repo", repo.Slug()).Str("ref", b.Ref).Msg("compare failed, keeping branch")
			continue
		}
		if cmp.Status != "ahead" {
			continue
		}
		ok, derr := c.DeleteBranch(ctx, repo, b.Ref, prot)
		if derr != nil {
			return deleted, derr
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// soften downgrades not found and forbidden to a logged nil so repo level
// faults never kill a sweep; other errors pass through
func (c *Client) soften(err error, op string) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || perr.IsCode(err, perr.ErrorCodeForbidden) {
		c.log.Warn().Err(err).Str("op", op).Msg("remote refused, continuing")
		return nil
	}
	return err
}

func softenList[T any](c *Client, partial []T, err error, op string) ([]T, error) {
	if serr := c.soften(err, op); serr != nil {
		return partial, serr
	}
	return partial, nil
}
