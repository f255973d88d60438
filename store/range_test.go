package store

import "testing"

func TestIsExact(t *testing.T) {
	cases := []struct {
		name string
		r    ValueRange
		want bool
	}{
		{"exact_single_value", Exact("abc"), true},
		{"between_same_value", Between("a", "a"), true},
		{"between_distinct", Between("a", "z"), false},
		{"at_least", AtLeast("a"), false},
		{"less_than", LessThan("z"), false},
		{"all", All(), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.IsExact(); got != tc.want {
				t.Fatalf("IsExact(%v) = %v, want %v", tc.r, got, tc.want)
			}
		})
	}
}

func TestRangeContains(t *testing.T) {
	r := Between("a", "z")
	for _, v := range []string{"a", "abc", "z"} {
		if !r.Contains(v) {
			t.Fatalf("%v should contain %q", r, v)
		}
	}
	// "z!" sorts after the successor of "z"
	for _, v := range []string{"", "A", "z!", "zz"} {
		if r.Contains(v) {
			t.Fatalf("%v should not contain %q", r, v)
		}
	}

	if !AtLeast("m").Contains("zzz") || AtLeast("m").Contains("a") {
		t.Fatalf("AtLeast bound broken")
	}
	if !LessThan("m").Contains("a") || LessThan("m").Contains("m") {
		t.Fatalf("LessThan bound broken")
	}
	if !All().Contains("") || !All().Contains("anything") {
		t.Fatalf("All should contain everything")
	}
}

func TestExactValue(t *testing.T) {
	r := Exact("abc")
	if r.Value() != "abc" {
		t.Fatalf("Value = %q, want abc", r.Value())
	}
	if !r.Contains("abc") || r.Contains("abd") || r.Contains("abc\x00") {
		t.Fatalf("exact range should contain only its value")
	}
}
