// Package buildbot fetches build step logs and their metadata from autobuilder
// instances over the buildbot REST API.
package buildbot

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/swattool/swattool-go/internal/logs"
	"github.com/swattool/swattool-go/internal/swatbot"
	"github.com/swattool/swattool-go/internal/webclient"
)

// LogData is the cheap metadata of one step log.
type LogData struct {
	LogID    int
	NumLines int
}

// MetaStore caches log metadata between runs. Implemented by the sqlite
// store; a nil MetaStore disables caching.
type MetaStore interface {
	LogData(abInstance string, buildID, stepNumber int, logname string) (LogData, bool)
	SaveLogData(abInstance string, buildID, stepNumber int, logname string, data LogData) error
}

// Fetcher resolves failures to their buildbot logs. It implements the
// highlight cache's log source.
type Fetcher struct {
	session *webclient.Session
	store   MetaStore
	log     zerolog.Logger
}

var _ logs.Source = (*Fetcher)(nil)

func NewFetcher(session *webclient.Session, store MetaStore, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		session: session,
		store:   store,
		log:     log.With().Str("component", "buildbot").Logger(),
	}
}

// BaseURL reduces an autobuilder build page URL to the instance base,
// dropping the web UI fragment.
func BaseURL(abURL string) string {
	if i := strings.Index(abURL, "/#"); i >= 0 {
		abURL = abURL[:i]
	}
	return strings.TrimSuffix(abURL, "/")
}

// RestAPIURL returns the REST API prefix for an autobuilder build page URL.
func RestAPIURL(abURL string) string {
	return BaseURL(abURL) + "/api/v2"
}

// ShortName returns a compact instance identifier, the last path component of
// the instance base URL.
func ShortName(abURL string) string {
	base := BaseURL(abURL)
	if u, err := url.Parse(base); err == nil && u.Path != "" {
		return strings.Trim(u.Path, "/")
	}
	return base
}

// LogData fetches the metadata of one step log, reading through the metadata
// store when one is configured.
func (f *Fetcher) LogData(failure *swatbot.Failure, logname string) (LogData, error) {
	instance := ShortName(failure.Build.AutobuilderURL)

	if f.store != nil {
		if data, ok := f.store.LogData(instance, failure.Build.ID, failure.StepNumber, logname); ok {
			return data, nil
		}
	}

	restURL := RestAPIURL(failure.Build.AutobuilderURL)
	infoURL := fmt.Sprintf("%s/builds/%d/steps/%d/logs/%s",
		restURL, failure.Build.ID, failure.StepNumber, logname)

	body, err := f.session.Get(infoURL, webclient.CacheForever)
	if err != nil {
		return LogData{}, fmt.Errorf("fetching log metadata from %s: %w", infoURL, err)
	}

	var reply struct {
		Logs []struct {
			LogID    int `json:"logid"`
			NumLines int `json:"num_lines"`
		} `json:"logs"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		f.session.InvalidateCache(infoURL)
		return LogData{}, fmt.Errorf("parsing log metadata from %s: %w", infoURL, err)
	}
	if len(reply.Logs) == 0 {
		return LogData{}, fmt.Errorf("no %s log for step %d of build %d",
			logname, failure.StepNumber, failure.Build.ID)
	}

	data := LogData{
		LogID:    reply.Logs[0].LogID,
		NumLines: reply.Logs[0].NumLines,
	}
	if f.store != nil {
		if err := f.store.SaveLogData(instance, failure.Build.ID, failure.StepNumber, logname, data); err != nil {
			f.log.Warn().Err(err).Msg("Failed to cache log metadata")
		}
	}
	return data, nil
}

// RawLog downloads the full text of one step log.
func (f *Fetcher) RawLog(failure *swatbot.Failure, logname string) (string, error) {
	data, err := f.LogData(failure, logname)
	if err != nil {
		return "", err
	}

	restURL := RestAPIURL(failure.Build.AutobuilderURL)
	rawURL := fmt.Sprintf("%s/logs/%d/raw", restURL, data.LogID)
	body, err := f.session.Get(rawURL, webclient.CacheForever)
	if err != nil {
		return "", fmt.Errorf("downloading log %s of failure %d: %w", logname, failure.ID, err)
	}
	return body, nil
}

// LogLineCount reports the log's line count from metadata alone.
func (f *Fetcher) LogLineCount(failure *swatbot.Failure, logname string) (int, error) {
	data, err := f.LogData(failure, logname)
	if err != nil {
		return 0, err
	}
	return data.NumLines, nil
}
