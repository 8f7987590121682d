package mozpath

import "testing"

func TestJoin(t *testing.T) {
	tests := []struct {
		elem []string
		want string
	}{
		{elem: []string{"/src", "a", "moz.build"}, want: "/src/a/moz.build"},
		{elem: []string{"/src", "", "a"}, want: "/src/a"},
		{elem: []string{"/src/a", "../b"}, want: "/src/b"},
		{elem: []string{"", ""}, want: ""},
		{elem: []string{"a/./b/"}, want: "a/b"},
	}
	for _, tt := range tests {
		if got := Join(tt.elem...); got != tt.want {
			t.Errorf("Join(%q) = %q, want %q", tt.elem, got, tt.want)
		}
	}
}

func TestRel(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{base: "/src", target: "/src", want: ""},
		{base: "/src", target: "/src/a/b", want: "a/b"},
		{base: "/src/a", target: "/src/b", want: "../b"},
		{base: "/src/", target: "/src/a/", want: "a"},
	}
	for _, tt := range tests {
		if got := Rel(tt.base, tt.target); got != tt.want {
			t.Errorf("Rel(%q, %q) = %q, want %q", tt.base, tt.target, got, tt.want)
		}
	}
}

func TestHasPrefix(t *testing.T) {
	tests := []struct {
		p, prefix string
		want      bool
	}{
		{p: "/a/b", prefix: "/a/b", want: true},
		{p: "/a/b/c", prefix: "/a/b", want: true},
		{p: "/a/bc", prefix: "/a/b", want: false},
		{p: "/a/b/../c", prefix: "/a/b", want: false},
		{p: "/a", prefix: "/", want: true},
		{p: "/a", prefix: "", want: false},
		{p: "/a/b", prefix: "/a/b/", want: true},
	}
	for _, tt := range tests {
		if got := HasPrefix(tt.p, tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.p, tt.prefix, got, tt.want)
		}
	}
}

func TestBaseDir(t *testing.T) {
	bases := []string{"/src/js", "/src", "/ext"}
	tests := map[string]string{
		"/src/js/src/moz.build": "/src/js",
		"/src/dom/moz.build":    "/src",
		"/ext/moz.build":        "/ext",
		"/other/moz.build":      "",
	}
	for p, want := range tests {
		if got := BaseDir(p, bases); got != want {
			t.Errorf("BaseDir(%q) = %q, want %q", p, got, want)
		}
	}
}

func TestDirAndBase(t *testing.T) {
	if got := Dir("/src/a/moz.build"); got != "/src/a" {
		t.Errorf("Dir() = %q", got)
	}
	if got := Base("/src/a/moz.build"); got != "moz.build" {
		t.Errorf("Base() = %q", got)
	}
	if !IsAbs("/src") || IsAbs("src") {
		t.Error("IsAbs() misclassifies paths")
	}
}
