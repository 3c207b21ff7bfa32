package models

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"User Auth", "user-auth"},
		{"Add OAuth2 support!", "add-oauth2-support"},
		{"  spaced   out  ", "spaced-out"},
		{"CamelCaseTitle", "camelcasetitle"},
		{"___", "work"},
		{"", "work"},
		{"a-very-long-title-that-keeps-going-and-going-and-going", "a-very-long-title-that-keeps-going-and-g"},
	}

	for _, c := range cases {
		if got := Slugify(c.in); got != c.want {
			t.Errorf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFeatureBranchName(t *testing.T) {
	got := FeatureBranchName("F-200", "User Auth")
	want := "feature/F-200-user-auth"
	if got != want {
		t.Errorf("FeatureBranchName = %q, want %q", got, want)
	}
}

func TestTaskBranchName(t *testing.T) {
	got := TaskBranchName("F-200", "T-7", "Design schema")
	want := "task/F-200/T-7-design-schema"
	if got != want {
		t.Errorf("TaskBranchName = %q, want %q", got, want)
	}
}
