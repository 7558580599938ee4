package rules

import "testing"

func mustProtection(t *testing.T, patterns, excludes []string) *Protection {
	t.Helper()
	p, err := CompileProtection(patterns, excludes)
	if err != nil {
		t.Fatalf("CompileProtection: %v", err)
	}
	return p
}

func TestProtectionLiteral(t *testing.T) {
	p := mustProtection(t, []string{"main", "release"}, nil)
	if !p.Protected("main") {
		t.Fatalf("main should be protected")
	}
	if p.Protected("main2") {
		t.Fatalf("literal must match exactly")
	}
	// a pattern with glob characters widens to a shell glob
	p = mustProtection(t, []string{"feat*"}, nil)
	if !p.Protected("feature") {
		t.Fatalf("feat* glob should protect feature")
	}
	if p.Protected("main") {
		t.Fatalf("glob must not protect unrelated names")
	}
}

func TestProtectionRegex(t *testing.T) {
	p := mustProtection(t, []string{"regex:^feat.*"}, nil)
	if !p.Protected("feature") {
		t.Fatalf("regex should protect feature")
	}
	if p.Protected("Feature") {
		t.Fatalf("regex matching is case sensitive")
	}
	// full string semantics: a partial match is not enough
	p = mustProtection(t, []string{"regex:rel"}, nil)
	if p.Protected("release") {
		t.Fatalf("regex must match the full branch name")
	}
}

func TestProtectionExcludes(t *testing.T) {
	p := mustProtection(t, []string{"regex:^feat.*"}, []string{"feature"})
	if p.Protected("feature") {
		t.Fatalf("exclude should subtract protection")
	}
	if !p.Protected("feature-x") {
		t.Fatalf("other matches stay protected")
	}
	// protection and exclude on the same literal means deletable
	p = mustProtection(t, []string{"feature"}, []string{"feature"})
	if p.Protected("feature") {
		t.Fatalf("literal exclude should win")
	}
}

func TestProtectionBadRegex(t *testing.T) {
	if _, err := CompileProtection([]string{"regex:["}, nil); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestNilProtection(t *testing.T) {
	var p *Protection
	if p.Protected("anything") {
		t.Fatalf("nil protection protects nothing")
	}
}
