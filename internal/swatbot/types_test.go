package swatbot

import (
	"testing"
	"time"
)

func TestStatusFromInt(t *testing.T) {
	tests := []struct {
		input int
		want  Status
	}{
		{1, StatusWarning},
		{2, StatusError},
		{6, StatusCancelled},
		{0, StatusUnknown},
		{99, StatusUnknown},
		{-5, StatusUnknown},
	}
	for _, tt := range tests {
		if got := StatusFromInt(tt.input); got != tt.want {
			t.Errorf("StatusFromInt(%d) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTriageRoundTrip(t *testing.T) {
	statuses := []TriageStatus{
		TriagePending, TriageMailSent, TriageBug,
		TriageOther, TriageNotForSwat, TriageCancelled,
	}
	for _, status := range statuses {
		got, err := TriageFromName(status.Name())
		if err != nil {
			t.Errorf("TriageFromName(%q): %v", status.Name(), err)
			continue
		}
		if got != status {
			t.Errorf("TriageFromName(%q) = %v, want %v", status.Name(), got, status)
		}
	}
}

func TestTriageFromName(t *testing.T) {
	if got, err := TriageFromName("mail_sent"); err != nil || got != TriageMailSent {
		t.Errorf("TriageFromName should be case-insensitive, got %v, %v", got, err)
	}
	if got, err := TriageFromName(" BUG "); err != nil || got != TriageBug {
		t.Errorf("TriageFromName should trim spaces, got %v, %v", got, err)
	}
	if _, err := TriageFromName("NO_SUCH"); err == nil {
		t.Error("unknown name should error")
	}
}

func TestFailureLogURL(t *testing.T) {
	failure := &Failure{URLs: map[string]string{
		"stdio": "https://ab.example.org/logs/42/stdio",
	}}
	if got := failure.LogURL("stdio"); got != "https://ab.example.org/logs/42/stdio" {
		t.Errorf("LogURL = %q", got)
	}
	if got := failure.LogURL("stderr"); got != "" {
		t.Errorf("missing log should yield empty URL, got %q", got)
	}
}

func TestFirstFailure(t *testing.T) {
	build := &Build{ID: 1, Status: StatusError}
	build.Failures = map[int]*Failure{
		12: {ID: 12, Build: build, Status: StatusWarning},
		10: {ID: 10, Build: build, Status: StatusWarning},
		11: {ID: 11, Build: build, Status: StatusError},
	}

	// First failure matching the build status wins.
	if got := build.FirstFailure(); got.ID != 11 {
		t.Errorf("FirstFailure = %d, want 11", got.ID)
	}

	// No status match: lowest id wins.
	build.Status = StatusCancelled
	if got := build.FirstFailure(); got.ID != 10 {
		t.Errorf("FirstFailure = %d, want 10", got.ID)
	}
}

func TestShortDescription(t *testing.T) {
	build := &Build{
		ID:        123,
		Status:    StatusError,
		Test:      "a-full",
		Worker:    "ubuntu2204-ty-1",
		Branch:    "master",
		Completed: time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC),
	}
	want := "Build 123 (master): a-full on ubuntu2204-ty-1, error at 2024-03-01 17:30"
	if got := build.ShortDescription(); got != want {
		t.Errorf("ShortDescription = %q, want %q", got, want)
	}
}
