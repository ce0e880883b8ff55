package mergeexpert

import "testing"

func TestMergeStringsThreeWayNoBase(t *testing.T) {
	cases := []struct{ base, left, right, want string }{
		{"", "a good test", "a bad test", "a good bad test"},
		{"", "test 123", "ok go other", "test 123 ok go other"},
		{"", "test 123", "test ok go other", "test 123 ok go other"},
	}
	for _, c := range cases {
		if got := MergeStringsThreeWay(c.base, c.left, c.right); got != c.want {
			t.Errorf("MergeStringsThreeWay(%q, %q, %q) = %q, want %q", c.base, c.left, c.right, got, c.want)
		}
	}
}

func TestMergeStringsThreeWay(t *testing.T) {
	cases := []struct{ base, left, right, want string }{
		{"The quick brown fox", "The quick brown fox", "The quick brown fox", "The quick brown fox"},
		{"a good test", "a bad test", "a good text", "a bad text"},
		{"a good test", "a bad text", "a good text", "a bad text"},
		{
			"The quick brown fox jumps",
			"The quick brown fox jumps",
			"The quick fox jumps",
			"The quick fox jumps",
		},
		{"Hello world", "Hello universe", "Greetings world", "Greetings universe"},
		{"", "Hello universe", "Greetings world", "Hello universe Greetings world"},
		{"", "Hello universe", "Hello universe and more", "Hello universe and more"},
	}
	for _, c := range cases {
		if got := MergeStringsThreeWay(c.base, c.left, c.right); got != c.want {
			t.Errorf("MergeStringsThreeWay(%q, %q, %q) = %q, want %q", c.base, c.left, c.right, got, c.want)
		}
	}
}

func TestMergeSlicesThreeWay(t *testing.T) {
	cases := []struct {
		base, left, right, want []string
	}{
		{
			[]string{"The", "quick", "brown"},
			[]string{"The", "quick", "brown"},
			[]string{"The", "quick", "brown"},
			[]string{"The", "quick", "brown"},
		},
		{
			[]string{"The", "quick", "brown"},
			[]string{"The", "slow", "brown"},
			[]string{"The", "quick", "yellow"},
			[]string{"The", "slow", "yellow"},
		},
		{
			[]string{"The", "quick", "brown"},
			[]string{"The", "quick", "brown"},
			[]string{"The", "brown"},
			[]string{"The", "brown"},
		},
		{
			[]string{},
			[]string{"The", "slow"},
			[]string{"brown", "quick"},
			[]string{"The", "slow", "brown", "quick"},
		},
	}
	for _, c := range cases {
		got := MergeSlicesThreeWay(c.base, c.left, c.right)
		if !equalSlices(got, c.want) {
			t.Errorf("MergeSlicesThreeWay(%v, %v, %v) = %v, want %v", c.base, c.left, c.right, got, c.want)
		}
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
