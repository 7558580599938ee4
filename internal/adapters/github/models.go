package github

import (
	"strings"
	"time"

	"agpm/internal/core/rules"
)

// RepoRef identifies a repository by owner and name
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// Slug returns the owner/name identity string
func (r RepoRef) Slug() string { return r.Owner + "/" + r.Name }

// ParseRepoRef splits an owner/name slug; ok is false when either side is empty
func ParseRepoRef(slug string) (RepoRef, bool) {
	owner, name, found := strings.Cut(strings.TrimSpace(slug), "/")
	if !found || owner == "" || name == "" {
		return RepoRef{}, false
	}
	return RepoRef{Owner: owner, Name: name}, true
}

// PullRequest is the normalized view the poller and deciders work from
type PullRequest struct {
	Number         int              `json:"number"`
	Title          string           `json:"title"`
	Owner          string           `json:"owner"`
	Name           string           `json:"name"`
	Merged         bool             `json:"merged"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Draft          bool             `json:"draft"`
	State          string           `json:"state"`
	MergeableState string           `json:"mergeable_state"`
	Approvals      int              `json:"approvals"`
	Checks         rules.CheckState `json:"check_state"`
	HeadRef        string           `json:"head_ref,omitempty"`
}

// Branch is one remote branch plus its compare result against the default
type Branch struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Ref           string `json:"ref"`
	LastSHA       string `json:"last_sha"`
	CompareStatus string `json:"compare_status,omitempty"`
	AheadBy       int    `json:"ahead_by,omitempty"`
}

// CompareResult is the two dot comparison of base...head
type CompareResult struct {
	Status  string `json:"status"` // identical | behind | ahead | diverged
	AheadBy int    `json:"ahead_by"`
}

// wire shapes

type wirePull struct {
	Number         int       `json:"number"`
	Title          string    `json:"title"`
	State          string    `json:"state"`
	Draft          bool      `json:"draft"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	MergedAt       *string   `json:"merged_at"`
	Merged         bool      `json:"merged"`
	Mergeable      *bool     `json:"mergeable"`
	MergeableState string    `json:"mergeable_state"`
	Head           struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Repo struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repo"`
	} `json:"base"`
}

type wireBranch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type wireRepo struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	DefaultBranch string `json:"default_branch"`
}

type wireCompare struct {
	Status  string `json:"status"`
	AheadBy int    `json:"ahead_by"`
}

type wireReview struct {
	State string `json:"state"`
	User  struct {
		Login string `json:"login"`
	} `json:"user"`
}

type wireCombinedStatus struct {
	State      string `json:"state"` // success | failure | pending | error
	TotalCount int    `json:"total_count"`
}

type wireMergeResult struct {
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

func (w wirePull) toPullRequest() PullRequest {
	merged := w.Merged || (w.MergedAt != nil && *w.MergedAt != "")
	state := strings.ToLower(w.State)
	if merged {
		state = "merged"
	}
	return PullRequest{
		Number:         w.Number,
		Title:          w.Title,
		Owner:          w.Base.Repo.Owner.Login,
		Name:           w.Base.Repo.Name,
		Merged:         merged,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
		Draft:          w.Draft,
		State:          state,
		MergeableState: strings.ToLower(w.MergeableState),
		HeadRef:        w.Head.Ref,
	}
}
