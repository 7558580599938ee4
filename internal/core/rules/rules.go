// Package rules contains the pure deciders that map pull request and branch
// metadata onto automated actions. Deciders are deterministic and side effect
// free; callers own the execution of whatever action comes back
package rules

import "strings"

// Action is the outcome of a decider
type Action int

// Decider outcomes
const (
	ActionNone Action = iota
	ActionWait
	ActionIgnore
	ActionKeep
	ActionMerge
	ActionClose
	ActionDelete
)

// String returns a stable lowercase label for logs and hooks
func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionIgnore:
		return "ignore"
	case ActionKeep:
		return "keep"
	case ActionMerge:
		return "merge"
	case ActionClose:
		return "close"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// CheckState is the aggregate CI status of a pull request head
type CheckState int

// Check states reported by the remote
const (
	CheckUnknown CheckState = iota
	CheckPassed
	CheckFailed
	CheckRejected
)

// PullInput is the metadata a pull decision depends on
type PullInput struct {
	State          string
	MergeableState string
	Draft          bool
	Checks         CheckState
}

// BranchInput is the metadata a branch decision depends on
type BranchInput struct {
	StateLabel   string
	Stray        bool
	NewlyCreated bool
}

// PullDecider maps pull request metadata to an action.
// The zero value uses the default mergeable_state mapping
type PullDecider struct {
	// ByMergeableState overrides the builtin mergeable_state mapping.
	// Keys are normalized to lowercase at decision time
	ByMergeableState map[string]Action
}

var defaultPullMap = map[string]Action{
	"dirty":    ActionClose,
	"clean":    ActionMerge,
	"blocked":  ActionMerge,
	"unstable": ActionMerge,
	"failure":  ActionMerge,
	"failed":   ActionMerge,
	"rejected": ActionMerge,
}

// Decide returns the action for a pull request.
// Precedence: non open state, draft, mergeable_state mapping, check state
func (d PullDecider) Decide(in PullInput) Action {
	if strings.ToLower(strings.TrimSpace(in.State)) != "open" {
		return ActionIgnore
	}
	if in.Draft {
		return ActionWait
	}
	ms := strings.ToLower(strings.TrimSpace(in.MergeableState))
	if ms != "" {
		m := d.ByMergeableState
		if m == nil {
			m = defaultPullMap
		}
		if a, ok := m[ms]; ok {
			return a
		}
	}
	if in.Checks == CheckPassed || in.Checks == CheckRejected {
		return ActionMerge
	}
	return ActionWait
}

// BranchDecider maps branch metadata to an action.
// The zero value uses the default state label mapping
type BranchDecider struct {
	// ByStateLabel overrides the builtin state label mapping.
	// Keys are normalized to lowercase at decision time
	ByStateLabel map[string]Action
}

var defaultBranchMap = map[string]Action{
	"stray":  ActionDelete,
	"new":    ActionKeep,
	"active": ActionKeep,
	"dirty":  ActionDelete,
	"purge":  ActionDelete,
}

// Decide returns the action for a branch.
// Precedence: explicit state label, stray flag, newly created flag, keep
func (d BranchDecider) Decide(in BranchInput) Action {
	m := d.ByStateLabel
	if m == nil {
		m = defaultBranchMap
	}
	if lbl := strings.ToLower(strings.TrimSpace(in.StateLabel)); lbl != "" {
		if a, ok := m[lbl]; ok {
			return a
		}
	}
	if in.Stray {
		if a, ok := m["stray"]; ok {
			return a
		}
	}
	if in.NewlyCreated {
		if a, ok := m["new"]; ok {
			return a
		}
	}
	return ActionKeep
}
