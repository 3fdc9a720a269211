package swatbot

import (
	"encoding/json"
	"testing"
)

func TestParseLogURLs(t *testing.T) {
	urls := "https://ab.example.org/builders/7/builds/9/steps/12/logs/stdio " +
		"https://ab.example.org/builders/7/builds/9/steps/12/logs/errors"

	parsed := parseLogURLs(urls)
	if len(parsed) != 2 {
		t.Fatalf("parsed %d URLs, want 2", len(parsed))
	}
	if parsed["stdio"] != "https://ab.example.org/builders/7/builds/9/steps/12/logs/stdio" {
		t.Errorf("stdio URL = %q", parsed["stdio"])
	}
	if parsed["errors"] != "https://ab.example.org/builders/7/builds/9/steps/12/logs/errors" {
		t.Errorf("errors URL = %q", parsed["errors"])
	}

	if got := parseLogURLs(""); len(got) != 0 {
		t.Errorf("empty input should parse to no URLs, got %v", got)
	}
}

func TestIntValueUnmarshal(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{`42`, 42, false},
		{`"42"`, 42, false},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"abc"`, 0, true},
	}
	for _, tt := range tests {
		var v intValue
		err := json.Unmarshal([]byte(tt.input), &v)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Unmarshal(%s) should error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("Unmarshal(%s): %v", tt.input, err)
			continue
		}
		if int(v) != tt.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, int(v), tt.want)
		}
	}
}

func TestFailureResourceDecoding(t *testing.T) {
	// The server mixes numbers and numeric strings between fields and
	// records.
	raw := `{
		"id": "314",
		"attributes": {
			"stepnumber": 12,
			"stepname": "Running oe-selftest",
			"urls": "https://ab.example.org/logs/stdio",
			"triage": "0",
			"triagenotes": ""
		},
		"relationships": {
			"build": {"data": {"id": 8921}}
		}
	}`

	var resource failureResource
	if err := json.Unmarshal([]byte(raw), &resource); err != nil {
		t.Fatal(err)
	}
	if int(resource.ID) != 314 {
		t.Errorf("id = %d", int(resource.ID))
	}
	if int(resource.Attributes.StepNumber) != 12 {
		t.Errorf("stepnumber = %d", int(resource.Attributes.StepNumber))
	}
	if int(resource.Relationships.Build.Data.ID) != 8921 {
		t.Errorf("build id = %d", int(resource.Relationships.Build.Data.ID))
	}
	if TriageStatus(resource.Attributes.Triage) != TriagePending {
		t.Errorf("triage = %d", int(resource.Attributes.Triage))
	}
}
