// Package textsort orders pull request titles for the aggregated poll callback.
// The alphanum mode splits titles into digit and non digit runs so "PR-10"
// sorts after "PR-2" instead of between "PR-1" and "PR-2"
package textsort

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Mode selects the ordering applied to the aggregated pull request list
type Mode string

// Sort modes
const (
	ModeAlpha           Mode = "alpha"
	ModeReverse         Mode = "reverse"
	ModeAlphanum        Mode = "alphanum"
	ModeReverseAlphanum Mode = "reverse-alphanum"
)

// ParseMode normalizes a mode label, defaulting to alpha
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReverse:
		return ModeReverse
	case ModeAlphanum:
		return ModeAlphanum
	case ModeReverseAlphanum:
		return ModeReverseAlphanum
	default:
		return ModeAlpha
	}
}

var caseFold = collate.New(language.Und, collate.IgnoreCase)

// Strings sorts ss in place according to mode
func Strings(ss []string, mode Mode) {
	switch mode {
	case ModeReverse:
		sort.SliceStable(ss, func(i, j int) bool { return caseFold.CompareString(ss[i], ss[j]) > 0 })
	case ModeAlphanum:
		sort.SliceStable(ss, func(i, j int) bool { return CompareAlphanum(ss[i], ss[j]) < 0 })
	case ModeReverseAlphanum:
		sort.SliceStable(ss, func(i, j int) bool { return CompareAlphanum(ss[i], ss[j]) > 0 })
	default:
		sort.SliceStable(ss, func(i, j int) bool { return caseFold.CompareString(ss[i], ss[j]) < 0 })
	}
}

// By sorts a slice of any element type by a string key according to mode
func By[T any](items []T, key func(T) string, mode Mode) {
	less := Less(mode)
	sort.SliceStable(items, func(i, j int) bool { return less(key(items[i]), key(items[j])) })
}

// Less returns the string comparison used by mode
func Less(mode Mode) func(a, b string) bool {
	switch mode {
	case ModeReverse:
		return func(a, b string) bool { return caseFold.CompareString(a, b) > 0 }
	case ModeAlphanum:
		return func(a, b string) bool { return CompareAlphanum(a, b) < 0 }
	case ModeReverseAlphanum:
		return func(a, b string) bool { return CompareAlphanum(a, b) > 0 }
	default:
		return func(a, b string) bool { return caseFold.CompareString(a, b) < 0 }
	}
}

// CompareAlphanum compares two strings run by run.
// Digit runs compare as integers, other runs compare case insensitively,
// and on a shared prefix the shorter string is less
func CompareAlphanum(a, b string) int {
	for a != "" && b != "" {
		ra, restA, numA := nextRun(a)
		rb, restB, numB := nextRun(b)
		var c int
		switch {
		case numA && numB:
			c = compareDigits(ra, rb)
		case numA != numB:
			// a digit run orders before a non digit run at the same position
			if numA {
				c = -1
			} else {
				c = 1
			}
		default:
			c = caseFold.CompareString(ra, rb)
		}
		if c != 0 {
			return c
		}
		a, b = restA, restB
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// nextRun splits off the leading run of digits or non digits
func nextRun(s string) (run, rest string, digits bool) {
	digits = isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digits {
		i++
	}
	return s[:i], s[i:], digits
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// compareDigits compares two digit runs numerically without overflow:
// strip leading zeros, then longer run wins, then lexical order decides
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
