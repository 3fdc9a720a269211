package buildbot

import "testing"

func TestBaseURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{
			"https://autobuilder.yoctoproject.org/typhoon/#/builders/79/builds/4710",
			"https://autobuilder.yoctoproject.org/typhoon",
		},
		{
			"https://autobuilder.yoctoproject.org/typhoon/",
			"https://autobuilder.yoctoproject.org/typhoon",
		},
		{
			"https://autobuilder.yoctoproject.org/typhoon",
			"https://autobuilder.yoctoproject.org/typhoon",
		},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.input); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRestAPIURL(t *testing.T) {
	got := RestAPIURL("https://autobuilder.yoctoproject.org/typhoon/#/builders/79/builds/4710")
	want := "https://autobuilder.yoctoproject.org/typhoon/api/v2"
	if got != want {
		t.Errorf("RestAPIURL = %q, want %q", got, want)
	}
}

func TestShortName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://autobuilder.yoctoproject.org/typhoon/#/builders/79", "typhoon"},
		{"https://autobuilder.yoctoproject.org/valkyrie/", "valkyrie"},
		{"https://autobuilder.yoctoproject.org", "https://autobuilder.yoctoproject.org"},
	}
	for _, tt := range tests {
		if got := ShortName(tt.input); got != tt.want {
			t.Errorf("ShortName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
