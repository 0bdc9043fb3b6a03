package textutil

import "testing"

func TestNormalize(t *testing.T) {
	got := Normalize("  Hello\tWORLD  ")
	want := "hello world"
	if got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}

func TestRemoveEmojisLeavesASCIIUnchanged(t *testing.T) {
	in := "book a table for two"
	if got := RemoveEmojis(in); got != in {
		t.Fatalf("RemoveEmojis() = %q, want %q", got, in)
	}
}

func TestRemoveEmojisStripsEmoji(t *testing.T) {
	in := "hello \U0001F600 world"
	want := "hello  world"
	if got := RemoveEmojis(in); got != want {
		t.Fatalf("RemoveEmojis() = %q, want %q", got, want)
	}
}

func TestURLEncode(t *testing.T) {
	cases := map[string]string{
		"A-Za-z0-9-_.~": "A-Za-z0-9-_.~",
		"!":             "%21",
		" ":             "%20",
	}
	for in, want := range cases {
		if got := URLEncode(in); got != want {
			t.Fatalf("URLEncode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveRedirect(t *testing.T) {
	cases := []struct{ base, location, want string }{
		{"https://h/p/f", "/x", "https://h/x"},
		{"https://h/p/f", "y", "https://h/p/y"},
		{"https://h/p/f", "https://other/z", "https://other/z"},
	}
	for _, c := range cases {
		if got := ResolveRedirect(c.base, c.location); got != c.want {
			t.Fatalf("ResolveRedirect(%q, %q) = %q, want %q", c.base, c.location, got, c.want)
		}
	}
}
