// Package userdata stores the operator's local review state: free-form notes
// and triage decisions not yet published to the swatbot server.
package userdata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/swattool/swattool-go/internal/swatbot"
)

// Triage is one pending triage decision covering one or more failures of a
// build.
type Triage struct {
	Failures []int
	Status   swatbot.TriageStatus
	Comment  string

	// BugzillaComment is the prepared bug tracker comment, set when Status
	// is TriageBug.
	BugzillaComment string
}

// UserInfo is the operator's state for one build.
type UserInfo struct {
	Notes   []string
	Triages []*Triage
}

// FailureTriage returns the pending triage covering a failure id, or nil.
func (ui *UserInfo) FailureTriage(failureID int) *Triage {
	for _, triage := range ui.Triages {
		for _, id := range triage.Failures {
			if id == failureID {
				return triage
			}
		}
	}
	return nil
}

type triageFile struct {
	Failures        []int  `yaml:"failures"`
	Status          string `yaml:"status"`
	Comment         string `yaml:"comment"`
	BugzillaComment string `yaml:"bugzilla-comment,omitempty"`
}

type userInfoFile struct {
	Notes   []string     `yaml:"notes,omitempty"`
	Triages []triageFile `yaml:"triages,omitempty"`
}

// UserInfos maps build ids to operator state, persisted as one YAML file.
type UserInfos struct {
	path string
	log  zerolog.Logger

	mu    sync.Mutex
	infos map[int]*UserInfo
}

// Load reads the operator state file. A missing file yields an empty store.
func Load(path string, log zerolog.Logger) (*UserInfos, error) {
	u := &UserInfos{
		path:  path,
		log:   log.With().Str("component", "userdata").Logger(),
		infos: make(map[int]*UserInfo),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading user data: %w", err)
	}

	var persisted map[int]userInfoFile
	if err := yaml.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("parsing user data: %w", err)
	}

	for buildID, pi := range persisted {
		info := &UserInfo{Notes: pi.Notes}
		for _, pt := range pi.Triages {
			status, err := swatbot.TriageFromName(pt.Status)
			if err != nil {
				u.log.Warn().Err(err).Int("build", buildID).
					Msg("Skipping triage with unknown status")
				continue
			}
			info.Triages = append(info.Triages, &Triage{
				Failures:        pt.Failures,
				Status:          status,
				Comment:         pt.Comment,
				BugzillaComment: pt.BugzillaComment,
			})
		}
		u.infos[buildID] = info
	}
	return u, nil
}

// Get returns the state for a build, creating it on first access.
func (u *UserInfos) Get(buildID int) *UserInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	info, ok := u.infos[buildID]
	if !ok {
		info = &UserInfo{}
		u.infos[buildID] = info
	}
	return info
}

// All returns a snapshot of the stored build ids and their state.
func (u *UserInfos) All() map[int]*UserInfo {
	u.mu.Lock()
	defer u.mu.Unlock()
	snapshot := make(map[int]*UserInfo, len(u.infos))
	for buildID, info := range u.infos {
		snapshot[buildID] = info
	}
	return snapshot
}

// Save writes the state back, pruning triages whose failures were all
// published and builds with nothing left to store. A backup copy of each
// saved file is kept.
func (u *UserInfos) Save() error {
	u.mu.Lock()
	persisted := make(map[int]userInfoFile, len(u.infos))
	for buildID, info := range u.infos {
		var triages []triageFile
		for _, triage := range info.Triages {
			if len(triage.Failures) == 0 {
				continue
			}
			triages = append(triages, triageFile{
				Failures:        triage.Failures,
				Status:          triage.Status.Name(),
				Comment:         triage.Comment,
				BugzillaComment: triage.BugzillaComment,
			})
		}
		if len(info.Notes) == 0 && len(triages) == 0 {
			continue
		}
		persisted[buildID] = userInfoFile{
			Notes:   info.Notes,
			Triages: triages,
		}
	}
	u.mu.Unlock()

	raw, err := yaml.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("encoding user data: %w", err)
	}

	dir := filepath.Dir(u.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating user data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".userinfos-*")
	if err != nil {
		return fmt.Errorf("writing user data: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing user data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing user data: %w", err)
	}
	if err := os.Rename(tmp.Name(), u.path); err != nil {
		return fmt.Errorf("writing user data: %w", err)
	}

	if err := u.backup(raw); err != nil {
		u.log.Warn().Err(err).Msg("Failed to write user data backup")
	}
	return nil
}

// backup keeps numbered copies of every save until the format settles.
func (u *UserInfos) backup(raw []byte) error {
	backupDir := filepath.Join(filepath.Dir(u.path), "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return err
	}

	base := filepath.Base(u.path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for i := 0; ; i++ {
		name := filepath.Join(backupDir, fmt.Sprintf("%s-backup-%d%s", stem, i, ext))
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return err
		}
		_, werr := f.Write(raw)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		return werr
	}
}
