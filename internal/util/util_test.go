package util

import (
	"testing"
)

func TestRandomPassword_Length(t *testing.T) {
	p, err := RandomPassword(20)
	if err != nil {
		t.Fatal(err)
	}
	if got := len([]rune(p)); got != 20 {
		t.Fatalf("got %d chars, want 20", got)
	}
}

func TestRandomPassword_Distinct(t *testing.T) {
	a, err := RandomPassword(20)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RandomPassword(20)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two generated passwords should not collide")
	}
}

func TestNormalizeUsername(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"admin", "admin"},
		{"  admin  ", "admin"},
		{"ﬁre", "fire"}, // ﬁ ligature folds under NFKC
	}
	for _, c := range cases {
		if got := NormalizeUsername(c.in); got != c.want {
			t.Fatalf("NormalizeUsername(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 32 {
		t.Fatalf("got %d bytes, want 32", len(b))
	}
}
