package bugzilla

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient("https://bugzilla.yoctoproject.org/", t.TempDir(), nil, zerolog.Nop())
}

func TestBugURL(t *testing.T) {
	c := newTestClient(t)
	if got := c.BugURL(14520); got != "https://bugzilla.yoctoproject.org/show_bug.cgi?id=14520" {
		t.Errorf("BugURL = %q", got)
	}
}

func TestBugIDFromURL(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		input  string
		wantID int
		wantOK bool
	}{
		{"https://bugzilla.yoctoproject.org/show_bug.cgi?id=14520", 14520, true},
		{"https://bugzilla.yoctoproject.org/show_bug.cgi?id=abc", 0, false},
		{"https://other.example.org/show_bug.cgi?id=14520", 0, false},
		{"just a comment", 0, false},
	}
	for _, tt := range tests {
		id, ok := c.BugIDFromURL(tt.input)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("BugIDFromURL(%q) = %d, %v; want %d, %v",
				tt.input, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestAddCommentWithoutToken(t *testing.T) {
	c := newTestClient(t)
	if err := c.AddComment(14520, "hello"); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("AddComment without a stored token = %v, want ErrLoginRequired", err)
	}
}
