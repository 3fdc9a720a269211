// Package gitarchive maintains a bare local mirror of the poky CI archive
// repository and answers which commits a given build carried on top of its
// base branch.
package gitarchive

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"github.com/swattool/swattool-go/internal/swatbot"
)

// Upstream repositories. The poky repo carries the branches, the archive
// repo carries one tag per autobuilder build.
const (
	PokyGitURL    = "https://git.yoctoproject.org/poky"
	ArchiveGitURL = "https://git.yoctoproject.org/poky-ci-archive"
)

// Archive is the local bare mirror.
type Archive struct {
	dir string
	log zerolog.Logger
}

func New(dataDir string, log zerolog.Logger) *Archive {
	return &Archive{
		dir: filepath.Join(dataDir, "gits", "poky-ci-archive"),
		log: log.With().Str("component", "gitarchive").Logger(),
	}
}

// Update clones the mirror on first use and fetches both remotes plus all
// tags otherwise. A non-zero minAge skips the fetch when the last one is
// recent enough.
func (a *Archive) Update(minAge time.Duration) error {
	repo, err := git.PlainOpen(a.dir)
	switch {
	case err == nil:
		if minAge > 0 {
			if info, err := os.Stat(filepath.Join(a.dir, "FETCH_HEAD")); err == nil {
				if time.Since(info.ModTime()) < minAge {
					a.log.Debug().Msg("Archive fetched recently, skipping update")
					return nil
				}
			}
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = a.clone()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("opening archive mirror: %w", err)
	}

	remotes, err := repo.Remotes()
	if err != nil {
		return fmt.Errorf("listing archive remotes: %w", err)
	}
	for _, remote := range remotes {
		name := remote.Config().Name
		err := remote.Fetch(&git.FetchOptions{
			RemoteName: name,
			RefSpecs: []config.RefSpec{
				config.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", name)),
				"+refs/tags/*:refs/tags/*",
			},
			Tags: git.AllTags,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("fetching remote %s: %w", name, err)
		}
	}
	return nil
}

func (a *Archive) clone() (*git.Repository, error) {
	if err := os.MkdirAll(filepath.Dir(a.dir), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	a.log.Info().Str("dir", a.dir).Msg("Cloning poky mirror, this can take a while")

	repo, err := git.PlainClone(a.dir, true, &git.CloneOptions{
		URL:  PokyGitURL,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning poky mirror: %w", err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{
		Name: "archive",
		URLs: []string{ArchiveGitURL},
	}); err != nil {
		return nil, fmt.Errorf("adding archive remote: %w", err)
	}
	return repo, nil
}

// BuildTag derives the archive tag name for a build: the autobuilder host
// and path joined with "<test>-<build number>". Only the main build types are
// tagged in the archive; anything else reports false.
func BuildTag(build *swatbot.Build) (string, bool) {
	if build.Test != "a-quick" && build.Test != "a-full" {
		return "", false
	}
	u, err := url.Parse(build.AutobuilderURL)
	if err != nil {
		return "", false
	}
	number := build.AutobuilderURL[strings.LastIndex(build.AutobuilderURL, "/")+1:]
	if number == "" {
		return "", false
	}
	host := strings.ReplaceAll(u.Host, ":", "_")
	return fmt.Sprintf("%s%s%s-%s", host, u.Path, build.Test, number), true
}

// CommitInfo is one commit of a build.
type CommitInfo struct {
	Hash  string
	Title string
}

// BuildCommits is the commit delta of one build against its base branch.
type BuildCommits struct {
	Commits    []CommitInfo
	BaseCommit string
	TipCommit  string
	// Truncated reports that the walk hit the limit before reaching the
	// merge base.
	Truncated bool
}

// Commits lists the commits a build tag carries on top of a base branch, up
// to limit. Returns nil (no error) when the tag or branch is unknown to the
// mirror.
func (a *Archive) Commits(buildTag, baseBranch string, limit int) (*BuildCommits, error) {
	repo, err := git.PlainOpen(a.dir)
	if err != nil {
		return nil, fmt.Errorf("opening archive mirror: %w", err)
	}

	tip, err := a.resolveCommit(repo, "refs/tags/"+buildTag)
	if err != nil {
		a.log.Debug().Str("tag", buildTag).Msg("Build tag not in archive")
		return nil, nil
	}
	base, err := a.resolveCommit(repo, "refs/remotes/origin/"+baseBranch)
	if err != nil {
		a.log.Debug().Str("branch", baseBranch).Msg("Base branch not in archive")
		return nil, nil
	}

	mergeBases, err := tip.MergeBase(base)
	if err != nil || len(mergeBases) == 0 {
		return nil, fmt.Errorf("no merge base between %s and %s", buildTag, baseBranch)
	}
	mergeBase := mergeBases[0].Hash

	result := &BuildCommits{
		BaseCommit: mergeBase.String(),
		TipCommit:  tip.Hash.String(),
	}

	iter := object.NewCommitPreorderIter(tip, nil, nil)
	defer iter.Close()
	for {
		commit, err := iter.Next()
		if err != nil {
			break
		}
		if commit.Hash == mergeBase {
			return result, nil
		}
		if len(result.Commits) >= limit {
			result.Truncated = true
			return result, nil
		}
		title, _, _ := strings.Cut(commit.Message, "\n")
		result.Commits = append(result.Commits, CommitInfo{
			Hash:  commit.Hash.String(),
			Title: title,
		})
	}
	return result, nil
}

func (a *Archive) resolveCommit(repo *git.Repository, refName string) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.ReferenceName(refName), true)
	if err != nil {
		return nil, err
	}

	hash := ref.Hash()
	if tag, err := repo.TagObject(hash); err == nil {
		return tag.Commit()
	}
	return repo.CommitObject(hash)
}
