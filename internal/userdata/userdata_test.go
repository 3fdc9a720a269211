package userdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/swattool/swattool-go/internal/swatbot"
)

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userinfos.yaml")
	infos, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(infos.All()) != 0 {
		t.Errorf("fresh store should be empty, got %v", infos.All())
	}
}

func TestGetCreatesOnAccess(t *testing.T) {
	infos, err := Load(filepath.Join(t.TempDir(), "userinfos.yaml"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	info := infos.Get(123)
	if info == nil {
		t.Fatal("Get should create state on first access")
	}
	if infos.Get(123) != info {
		t.Error("repeated Get should return the same state")
	}
	if len(infos.All()) != 1 {
		t.Errorf("All() has %d builds, want 1", len(infos.All()))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userinfos.yaml")
	infos, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	info := infos.Get(123)
	info.Notes = []string{"ping alice about the worker"}
	info.Triages = append(info.Triages, &Triage{
		Failures:        []int{1, 2},
		Status:          swatbot.TriageBug,
		Comment:         "14520",
		BugzillaComment: "a-full failed at step 12",
	})

	if err := infos.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	got := reloaded.Get(123)
	if len(got.Notes) != 1 || got.Notes[0] != "ping alice about the worker" {
		t.Errorf("notes = %v", got.Notes)
	}
	if len(got.Triages) != 1 {
		t.Fatalf("got %d triages, want 1", len(got.Triages))
	}
	triage := got.Triages[0]
	if triage.Status != swatbot.TriageBug || triage.Comment != "14520" {
		t.Errorf("triage = %v/%q", triage.Status, triage.Comment)
	}
	if triage.BugzillaComment != "a-full failed at step 12" {
		t.Errorf("bugzilla comment = %q", triage.BugzillaComment)
	}
	if len(triage.Failures) != 2 {
		t.Errorf("failures = %v", triage.Failures)
	}
}

func TestSavePrunesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userinfos.yaml")
	infos, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	// Build 1: triage whose failures were all published.
	infos.Get(1).Triages = []*Triage{{Status: swatbot.TriageMailSent}}
	// Build 2: nothing at all.
	infos.Get(2)
	// Build 3: still has a note.
	infos.Get(3).Notes = []string{"keep"}

	if err := infos.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	all := reloaded.All()
	if len(all) != 1 {
		t.Fatalf("pruning failed, %d builds persisted: %v", len(all), all)
	}
	if _, ok := all[3]; !ok {
		t.Error("build with notes should survive the save")
	}
}

func TestSaveKeepsNumberedBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userinfos.yaml")
	infos, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	infos.Get(1).Notes = []string{"first"}

	if err := infos.Save(); err != nil {
		t.Fatal(err)
	}
	if err := infos.Save(); err != nil {
		t.Fatal(err)
	}

	backupDir := filepath.Join(filepath.Dir(path), "backups")
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d backups, want 2", len(entries))
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["userinfos-backup-0.yaml"] || !names["userinfos-backup-1.yaml"] {
		t.Errorf("unexpected backup names: %v", names)
	}
}

func TestLoadSkipsUnknownTriageStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userinfos.yaml")
	raw := "" +
		"123:\n" +
		"  triages:\n" +
		"    - failures: [1]\n" +
		"      status: MAIL_SENT\n" +
		"      comment: ok\n" +
		"    - failures: [2]\n" +
		"      status: NO_SUCH_STATUS\n" +
		"      comment: bad\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	infos, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	triages := infos.Get(123).Triages
	if len(triages) != 1 {
		t.Fatalf("got %d triages, want 1 (unknown status skipped)", len(triages))
	}
	if triages[0].Status != swatbot.TriageMailSent {
		t.Errorf("surviving triage status = %v", triages[0].Status)
	}
}

func TestFailureTriage(t *testing.T) {
	info := &UserInfo{Triages: []*Triage{
		{Failures: []int{1, 2}, Status: swatbot.TriageMailSent},
		{Failures: []int{5}, Status: swatbot.TriageNotForSwat},
	}}

	if got := info.FailureTriage(2); got == nil || got.Status != swatbot.TriageMailSent {
		t.Errorf("FailureTriage(2) = %v", got)
	}
	if got := info.FailureTriage(5); got == nil || got.Status != swatbot.TriageNotForSwat {
		t.Errorf("FailureTriage(5) = %v", got)
	}
	if got := info.FailureTriage(9); got != nil {
		t.Errorf("uncovered failure should yield nil, got %v", got)
	}
}
