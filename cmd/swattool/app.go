package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/swattool/swattool-go/internal/bugzilla"
	"github.com/swattool/swattool-go/internal/buildbot"
	"github.com/swattool/swattool-go/internal/config"
	"github.com/swattool/swattool-go/internal/fingerprint"
	"github.com/swattool/swattool-go/internal/logging"
	"github.com/swattool/swattool-go/internal/logs"
	"github.com/swattool/swattool-go/internal/review"
	"github.com/swattool/swattool-go/internal/storage"
	"github.com/swattool/swattool-go/internal/swatbot"
	"github.com/swattool/swattool-go/internal/triagehistory"
	"github.com/swattool/swattool-go/internal/userdata"
	"github.com/swattool/swattool-go/internal/webclient"
	"github.com/swattool/swattool-go/pkg/logger"
)

// app wires the collaborators of one command invocation together.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	secure    *logging.SecureLogger
	session   *webclient.Session
	swat      *swatbot.Client
	bugs      *bugzilla.Client
	store     *storage.Store
	cache     *logs.Cache
	extractor *fingerprint.Extractor
	engine    *fingerprint.Engine
	history   *triagehistory.History
	userInfos *userdata.UserInfos
	reviewer  *review.Reviewer
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	session, err := webclient.NewSession(cfg.DataDir, cfg.WebCacheDir(), log)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	swat := swatbot.NewClient(cfg.SwatbotBaseURL, session, log)
	bugs := bugzilla.NewClient(cfg.BugzillaBaseURL, cfg.DataDir, session, log)

	fetcher := buildbot.NewFetcher(session, store, log)
	cache, err := logs.NewCache(cfg.CacheDir, fetcher, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	extractor := fingerprint.NewExtractor(cache)
	engine := fingerprint.NewEngine()

	history := triagehistory.New(cfg.HistoryPath(), extractor, log)
	if err := history.Load(); err != nil {
		_ = store.Close()
		return nil, err
	}

	userInfos, err := userdata.Load(cfg.UserInfosPath(), log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reviewer := review.New(review.Config{
		Swatbot:     swat,
		Store:       store,
		Cache:       cache,
		Extractor:   extractor,
		Engine:      engine,
		History:     history,
		UserInfos:   userInfos,
		Bugzilla:    bugs,
		SwatBaseURL: cfg.SwatbotBaseURL,
		Workers:     cfg.Workers,
		Logger:      log,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		secure:    logging.NewSecure(log),
		session:   session,
		swat:      swat,
		bugs:      bugs,
		store:     store,
		cache:     cache,
		extractor: extractor,
		engine:    engine,
		history:   history,
		userInfos: userInfos,
		reviewer:  reviewer,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close database")
	}
}

func (a *app) historyBudget() time.Duration {
	return time.Duration(a.cfg.HistoryLookupTimeoutS) * time.Second
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := cfg.LogLevel
	if rootFlags.debug {
		level = "debug"
	}
	base := logger.New(logger.Config{
		Level:   level,
		LogDir:  filepath.Join(cfg.DataDir, "logs"),
		Console: true,
	})
	return base.Logger
}

// promptLine reads one line of input after printing a label.
func promptLine(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echoing it.
func promptPassword(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
