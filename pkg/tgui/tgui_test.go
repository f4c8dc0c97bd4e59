package tgui

import "testing"

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short untouched", in: "hello", n: 10, want: "hello"},
		{name: "exact fits", in: "hello", n: 5, want: "hello"},
		{name: "cut with ellipsis", in: "hello world", n: 5, want: "hello…"},
		{name: "zero", in: "hello", n: 0, want: ""},
		{name: "multibyte safe", in: "héllo wörld", n: 6, want: "héllo …"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncRunes(tt.in, tt.n); got != tt.want {
				t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestEscAndWraps(t *testing.T) {
	t.Parallel()
	if got := Esc("<b>&"); got != "&lt;b&gt;&amp;" {
		t.Fatalf("Esc = %q", got)
	}
	if got := B("x<y"); got != "<b>x&lt;y</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Code("a&b"); got != "<code>a&amp;b</code>" {
		t.Fatalf("Code = %q", got)
	}
	if got := JoinH("\n", "a", "", "b"); got != "a\nb" {
		t.Fatalf("JoinH = %q", got)
	}
}
