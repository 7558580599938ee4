package rules

import (
	"path"
	"regexp"
	"strings"

	perr "agpm/internal/platform/errors"
)

// regexMarker prefixes a pattern that should compile as a full string regex
// instead of matching as a literal branch name
const regexMarker = "regex:"

type protectPattern struct {
	literal string
	glob    bool
	re      *regexp.Regexp
}

func (p protectPattern) match(ref string) bool {
	if p.re != nil {
		return p.re.MatchString(ref)
	}
	if p.glob {
		ok, err := path.Match(p.literal, ref)
		return err == nil && ok
	}
	return p.literal == ref
}

// Protection holds compiled branch protection patterns.
// A branch is protected when any pattern matches and no exclude matches
type Protection struct {
	patterns []protectPattern
	excludes []protectPattern
}

// CompileProtection parses pattern lists once so matching stays cheap.
// Patterns are literal branch names unless prefixed with "regex:",
// in which case the remainder compiles as a case sensitive full string match.
// Plain patterns containing *, ? or [ match as shell globs
func CompileProtection(patterns, excludes []string) (*Protection, error) {
	ps, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}
	xs, err := compilePatterns(excludes)
	if err != nil {
		return nil, err
	}
	return &Protection{patterns: ps, excludes: xs}, nil
}

func compilePatterns(in []string) ([]protectPattern, error) {
	out := make([]protectPattern, 0, len(in))
	for _, raw := range in {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(s, regexMarker); ok {
			re, err := regexp.Compile("^(?:" + rest + ")$")
			if err != nil {
				return nil, perr.Wrapf(err, perr.ErrorCodeConfig, "bad protection pattern %q", raw)
			}
			out = append(out, protectPattern{re: re})
			continue
		}
		out = append(out, protectPattern{literal: s, glob: strings.ContainsAny(s, "*?[")})
	}
	return out, nil
}

// Protected reports whether ref may not be deleted
func (p *Protection) Protected(ref string) bool {
	if p == nil {
		return false
	}
	hit := false
	for _, pat := range p.patterns {
		if pat.match(ref) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, x := range p.excludes {
		if x.match(ref) {
			return false
		}
	}
	return true
}
