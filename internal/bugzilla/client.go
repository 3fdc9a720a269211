// Package bugzilla talks to the bug tracker REST API: AB-INT bug listing,
// title lookup and comment posting.
package bugzilla

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swattool/swattool-go/internal/webclient"
)

// abintsCacheAge bounds how long the AB-INT listing is served from cache.
const abintsCacheAge = 24 * time.Hour

// ErrLoginRequired indicates no stored API token; the operator has to run the
// bugzilla login command first.
var ErrLoginRequired = errors.New("no bugzilla token, login required")

// Bug is one bug tracker entry.
type Bug struct {
	ID             int    `json:"id"`
	Summary        string `json:"summary"`
	Classification string `json:"classification"`
	Status         string `json:"status"`
	Resolution     string `json:"resolution"`
}

// Client talks to a bugzilla server. The AB-INT listing is cached in memory
// for the process lifetime on top of the HTTP response cache.
type Client struct {
	baseURL   string
	session   *webclient.Session
	tokenPath string
	log       zerolog.Logger

	mu     sync.Mutex
	abints map[int]Bug
}

func NewClient(baseURL, dataDir string, session *webclient.Session, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		session:   session,
		tokenPath: filepath.Join(dataDir, "bugzilla_token"),
		log:       log.With().Str("component", "bugzilla").Logger(),
	}
}

func (c *Client) restURL(path string) string {
	return c.baseURL + "/rest/" + path
}

func (c *Client) issuePrefix() string {
	return c.baseURL + "/show_bug.cgi?id="
}

// BugURL returns the bug page URL for an issue id.
func (c *Client) BugURL(bugID int) string {
	return c.issuePrefix() + strconv.Itoa(bugID)
}

// BugIDFromURL extracts the issue id from a bug page URL, reporting false for
// anything else.
func (c *Client) BugIDFromURL(bugURL string) (int, bool) {
	if !strings.HasPrefix(bugURL, c.issuePrefix()) {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimPrefix(bugURL, c.issuePrefix()))
	if err != nil {
		return 0, false
	}
	return id, true
}

// Login obtains an API token and stores it for later commands.
func (c *Client) Login(user, password string) error {
	params := url.Values{
		"login":    {user},
		"password": {password},
	}
	body, err := c.session.Get(c.restURL("login?"+params.Encode()), webclient.CacheDisabled)
	if err != nil {
		return fmt.Errorf("bugzilla login failed: %w", err)
	}

	var reply struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil || reply.Token == "" {
		return errors.New("bugzilla login failed: no token in reply")
	}

	if err := os.WriteFile(c.tokenPath, []byte(reply.Token), 0o600); err != nil {
		return fmt.Errorf("storing bugzilla token: %w", err)
	}
	c.log.Info().Str("user", user).Msg("Logged in to bugzilla")
	return nil
}

// ABInts lists all bugs whiteboarded AB-INT (autobuilder intermittent),
// keyed by id.
func (c *Client) ABInts(forceRefresh bool) (map[int]Bug, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.abints != nil && !forceRefresh {
		return c.abints, nil
	}

	params := url.Values{
		"order":        {"order=bug_id DESC"},
		"query_format": {"advanced"},
		"resolution": {"---", "FIXED", "INVALID", "OBSOLETE", "NOTABUG",
			"ReportedUpstream", "WONTFIX", "WORKSFORME", "MOVED"},
		"status_whiteboard":      {"AB-INT"},
		"status_whiteboard_type": {"allwordssubstr"},
		"include_fields": {"id", "summary", "classification", "status",
			"resolution"},
	}
	maxAge := abintsCacheAge
	if forceRefresh {
		maxAge = webclient.CacheDisabled
	}

	bugs, err := c.queryBugs(params, maxAge)
	if err != nil {
		return nil, fmt.Errorf("fetching AB-INT list: %w", err)
	}

	c.abints = make(map[int]Bug, len(bugs))
	for _, bug := range bugs {
		c.abints[bug.ID] = bug
	}
	return c.abints, nil
}

// BugTitle returns the summary of one bug, served from the AB-INT listing
// when possible.
func (c *Client) BugTitle(bugID int) (string, error) {
	if abints, err := c.ABInts(false); err == nil {
		if bug, ok := abints[bugID]; ok {
			return bug.Summary, nil
		}
	}

	params := url.Values{
		"order":        {"order=bug_id DESC"},
		"query_format": {"advanced"},
		"bug_id":       {strconv.Itoa(bugID)},
	}
	bugs, err := c.queryBugs(params, abintsCacheAge)
	if err != nil {
		return "", fmt.Errorf("fetching bug %d: %w", bugID, err)
	}
	if len(bugs) != 1 {
		return "", fmt.Errorf("bug %d not found", bugID)
	}
	return bugs[0].Summary, nil
}

// AddComment posts a comment to a bug using the stored token.
func (c *Client) AddComment(bugID int, comment string) error {
	token, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return ErrLoginRequired
	}

	form := url.Values{
		"token":   {strings.TrimSpace(string(token))},
		"comment": {comment},
	}
	if _, err := c.session.Post(c.restURL(fmt.Sprintf("bug/%d/comment", bugID)), form); err != nil {
		return fmt.Errorf("posting comment on bug %d: %w", bugID, err)
	}
	c.log.Info().Int("bug", bugID).Msg("Posted bugzilla comment")
	return nil
}

func (c *Client) queryBugs(params url.Values, maxAge time.Duration) ([]Bug, error) {
	body, err := c.session.Get(c.restURL("bug?"+params.Encode()), maxAge)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Bugs []Bug `json:"bugs"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return nil, fmt.Errorf("parsing bug list: %w", err)
	}
	return reply.Bugs, nil
}
