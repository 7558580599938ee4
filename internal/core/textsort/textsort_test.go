package textsort

import (
	"reflect"
	"testing"
)

func TestCompareAlphanum(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"PR-2", "PR-10", -1},
		{"PR-10", "PR-2", 1},
		{"pr-2", "PR-2", 0},
		{"abc", "abc", 0},
		{"abc", "abcd", -1},
		{"abc2", "abc2x", -1},
		{"a002", "a2", 0},
		{"a10b2", "a10b10", -1},
		{"", "x", -1},
		{"1", "a", -1},
	}
	for _, tc := range cases {
		got := CompareAlphanum(tc.a, tc.b)
		if sign(got) != tc.want {
			t.Fatalf("CompareAlphanum(%q,%q) = %d, want sign %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// total order sanity: antisymmetry and transitivity over a small corpus
func TestCompareAlphanumTotalOrder(t *testing.T) {
	corpus := []string{"", "a", "A", "a1", "a2", "a10", "a10b", "b", "10", "2", "z9z"}
	for _, x := range corpus {
		for _, y := range corpus {
			if sign(CompareAlphanum(x, y)) != -sign(CompareAlphanum(y, x)) {
				t.Fatalf("antisymmetry broken for %q %q", x, y)
			}
			for _, z := range corpus {
				if CompareAlphanum(x, y) <= 0 && CompareAlphanum(y, z) <= 0 && CompareAlphanum(x, z) > 0 {
					t.Fatalf("transitivity broken for %q %q %q", x, y, z)
				}
			}
		}
	}
}

func TestStringsModes(t *testing.T) {
	in := func() []string { return []string{"PR-10", "pr-2", "PR-1", "alpha"} }

	got := in()
	Strings(got, ModeAlphanum)
	want := []string{"alpha", "PR-1", "pr-2", "PR-10"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("alphanum = %v, want %v", got, want)
	}

	got = in()
	Strings(got, ModeReverseAlphanum)
	want = []string{"PR-10", "pr-2", "PR-1", "alpha"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reverse-alphanum = %v, want %v", got, want)
	}

	got = []string{"b", "A", "c"}
	Strings(got, ModeAlpha)
	if !reflect.DeepEqual(got, []string{"A", "b", "c"}) {
		t.Fatalf("alpha = %v", got)
	}

	got = []string{"b", "A", "c"}
	Strings(got, ModeReverse)
	if !reflect.DeepEqual(got, []string{"c", "b", "A"}) {
		t.Fatalf("reverse = %v", got)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode(" Reverse-Alphanum ") != ModeReverseAlphanum {
		t.Fatalf("ParseMode should trim and fold")
	}
	if ParseMode("bogus") != ModeAlpha {
		t.Fatalf("unknown mode should default to alpha")
	}
}
