package rules

import "testing"

func TestPullDeciderPrecedence(t *testing.T) {
	var d PullDecider
	cases := []struct {
		name string
		in   PullInput
		want Action
	}{
		{name: "closed ignored", in: PullInput{State: "closed", MergeableState: "clean"}, want: ActionIgnore},
		{name: "merged ignored", in: PullInput{State: "merged"}, want: ActionIgnore},
		{name: "draft waits", in: PullInput{State: "open", Draft: true, MergeableState: "clean"}, want: ActionWait},
		{name: "dirty closes", in: PullInput{State: "open", MergeableState: "dirty"}, want: ActionClose},
		{name: "clean merges", in: PullInput{State: "open", MergeableState: "clean"}, want: ActionMerge},
		{name: "blocked merges", in: PullInput{State: "open", MergeableState: "blocked"}, want: ActionMerge},
		{name: "unstable merges", in: PullInput{State: "open", MergeableState: "unstable"}, want: ActionMerge},
		{name: "label case folded", in: PullInput{State: "Open", MergeableState: "DIRTY"}, want: ActionClose},
		{name: "unknown label passed checks", in: PullInput{State: "open", MergeableState: "weird", Checks: CheckPassed}, want: ActionMerge},
		{name: "unknown label rejected checks", in: PullInput{State: "open", MergeableState: "weird", Checks: CheckRejected}, want: ActionMerge},
		{name: "unknown label no checks", in: PullInput{State: "open", MergeableState: "weird"}, want: ActionWait},
		{name: "no label no checks", in: PullInput{State: "open"}, want: ActionWait},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.Decide(tc.in); got != tc.want {
				t.Fatalf("Decide(%+v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestPullDeciderDeterministic(t *testing.T) {
	var d PullDecider
	in := PullInput{State: "open", MergeableState: "unstable", Checks: CheckFailed}
	first := d.Decide(in)
	for i := 0; i < 100; i++ {
		if got := d.Decide(in); got != first {
			t.Fatalf("iteration %d: Decide = %v, want %v", i, got, first)
		}
	}
}

func TestPullDeciderOverrideMap(t *testing.T) {
	d := PullDecider{ByMergeableState: map[string]Action{"dirty": ActionWait}}
	if got := d.Decide(PullInput{State: "open", MergeableState: "dirty"}); got != ActionWait {
		t.Fatalf("override map ignored, got %v", got)
	}
	// clean is absent from the override map so checks decide
	if got := d.Decide(PullInput{State: "open", MergeableState: "clean"}); got != ActionWait {
		t.Fatalf("missing key should fall through to checks, got %v", got)
	}
}

func TestBranchDecider(t *testing.T) {
	var d BranchDecider
	cases := []struct {
		name string
		in   BranchInput
		want Action
	}{
		{name: "stray label deletes", in: BranchInput{StateLabel: "stray"}, want: ActionDelete},
		{name: "new label keeps", in: BranchInput{StateLabel: "new"}, want: ActionKeep},
		{name: "active keeps", in: BranchInput{StateLabel: "active"}, want: ActionKeep},
		{name: "dirty deletes", in: BranchInput{StateLabel: "Dirty"}, want: ActionDelete},
		{name: "purge deletes", in: BranchInput{StateLabel: "purge"}, want: ActionDelete},
		{name: "stray flag deletes", in: BranchInput{Stray: true}, want: ActionDelete},
		{name: "newly created keeps", in: BranchInput{NewlyCreated: true}, want: ActionKeep},
		{name: "default keeps", in: BranchInput{}, want: ActionKeep},
		{name: "label beats flags", in: BranchInput{StateLabel: "active", Stray: true}, want: ActionKeep},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.Decide(tc.in); got != tc.want {
				t.Fatalf("Decide(%+v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestMergeGate(t *testing.T) {
	meta := PullMeta{Approvals: 2, Mergeable: true, MergeableKnown: true, MergeableState: "clean"}

	g := MergeGate{RequiredApprovals: 1, RequireMergeable: true, RequireCleanState: true, RequireStatusSuccess: true}
	if ok, reason := g.Allows(meta); !ok {
		t.Fatalf("gate blocked clean approved PR: %s", reason)
	}

	if ok, reason := (MergeGate{RequiredApprovals: 3}).Allows(meta); ok || reason != "approvals" {
		t.Fatalf("approvals gate = %v %q", ok, reason)
	}

	m := meta
	m.Mergeable = false
	if ok, reason := (MergeGate{RequireMergeable: true}).Allows(m); ok || reason != "mergeable" {
		t.Fatalf("mergeable gate = %v %q", ok, reason)
	}

	m = meta
	m.MergeableState = "blocked"
	if ok, reason := (MergeGate{RequireCleanState: true}).Allows(m); ok || reason != "mergeable_state" {
		t.Fatalf("state gate = %v %q", ok, reason)
	}

	m = meta
	m.Checks = CheckFailed
	if ok, reason := (MergeGate{RequireStatusSuccess: true}).Allows(m); ok || reason != "checks" {
		t.Fatalf("checks gate = %v %q", ok, reason)
	}

	// unknown mergeable never blocks even when required
	m = meta
	m.Mergeable = false
	m.MergeableKnown = false
	if ok, _ := (MergeGate{RequireMergeable: true}).Allows(m); !ok {
		t.Fatalf("unknown mergeable should not block")
	}
}
