package rules

import "strings"

// PullMeta is the server side detail consulted before issuing a merge
type PullMeta struct {
	Approvals      int
	Mergeable      bool
	MergeableKnown bool
	MergeableState string
	State          string
	Draft          bool
	Checks         CheckState
}

// MergeGate is the extra guard applied right before a merge request goes out
type MergeGate struct {
	RequiredApprovals    int
	RequireMergeable     bool
	RequireCleanState    bool
	RequireStatusSuccess bool
}

// Allows reports whether meta passes the gate.
// The reason string names the first failing condition for logs
func (g MergeGate) Allows(meta PullMeta) (bool, string) {
	if meta.Approvals < g.RequiredApprovals {
		return false, "approvals"
	}
	if g.RequireMergeable && meta.MergeableKnown && !meta.Mergeable {
		return false, "mergeable"
	}
	if g.RequireCleanState && strings.ToLower(meta.MergeableState) != "clean" {
		return false, "mergeable_state"
	}
	if g.RequireStatusSuccess && meta.Checks == CheckFailed {
		return false, "checks"
	}
	return true, ""
}
