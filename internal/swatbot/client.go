package swatbot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swattool/swattool-go/internal/webclient"
)

// Cache ages for failure listings. Pending failures are what an operator is
// about to review, so they refresh much more often.
const (
	failuresMaxAge        = 4 * time.Hour
	pendingFailuresMaxAge = 10 * time.Minute
	recordMaxAge          = 30 * 24 * time.Hour
)

// ErrLoginRequired indicates the server answered with its login page instead
// of data.
var ErrLoginRequired = errors.New("not logged in to swatbot")

// Client talks to the swatbot Django server.
type Client struct {
	baseURL string
	session *webclient.Session
	log     zerolog.Logger
}

func NewClient(baseURL string, session *webclient.Session, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		session: session,
		log:     log.With().Str("component", "swatbot").Logger(),
	}
}

func (c *Client) loginURL() string {
	return c.baseURL + "/accounts/login/"
}

func (c *Client) restURL(path string) string {
	return c.baseURL + "/rest" + path
}

// Login authenticates against the Django login form and persists the session
// cookies.
//
// The server redirects to a missing page on success, so a 404 from the POST
// means the credentials were accepted while a re-rendered login page (2xx)
// means they were not.
func (c *Client) Login(user, password string) error {
	if _, err := c.session.Get(c.loginURL(), webclient.CacheDisabled); err != nil {
		return fmt.Errorf("fetching login page: %w", err)
	}

	token := c.session.CookieValue(c.baseURL, "csrftoken")
	if token == "" {
		return errors.New("login page did not set a csrf token")
	}

	form := url.Values{
		"csrfmiddlewaretoken": {token},
		"username":            {user},
		"password":            {password},
	}
	_, err := c.session.Post(c.loginURL(), form)
	if err == nil {
		return errors.New("login rejected, check credentials")
	}
	var statusErr *webclient.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		return fmt.Errorf("login request failed: %w", err)
	}

	if err := c.session.SaveCookies(); err != nil {
		return fmt.Errorf("saving session cookies: %w", err)
	}
	c.log.Info().Str("user", user).Msg("Logged in to swatbot")
	return nil
}

// intValue tolerates the server mixing JSON numbers and numeric strings for
// the same fields.
type intValue int

func (v *intValue) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if string(data) == "null" || len(data) == 0 {
		*v = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("parsing integer value %q: %w", data, err)
	}
	*v = intValue(n)
	return nil
}

// StepFailureRecord is one failure as listed by the server, before builds are
// resolved.
type StepFailureRecord struct {
	ID          int
	BuildID     int
	StepNumber  int
	StepName    string
	URLs        map[string]string
	Triage      TriageStatus
	TriageNotes string
}

type failureResource struct {
	ID         intValue `json:"id"`
	Attributes struct {
		StepNumber  intValue `json:"stepnumber"`
		StepName    string   `json:"stepname"`
		URLs        string   `json:"urls"`
		Triage      intValue `json:"triage"`
		TriageNotes string   `json:"triagenotes"`
	} `json:"attributes"`
	Relationships struct {
		Build struct {
			Data struct {
				ID intValue `json:"id"`
			} `json:"data"`
		} `json:"build"`
	} `json:"relationships"`
}

// StepFailures lists failures, optionally filtered by triage status. Pass
// nil for all failures.
func (c *Client) StepFailures(triage *TriageStatus) ([]StepFailureRecord, error) {
	maxAge := failuresMaxAge
	params := url.Values{}
	if triage != nil {
		params.Set("triage", strconv.Itoa(int(*triage)))
		if *triage == TriagePending {
			maxAge = pendingFailuresMaxAge
		}
	}

	var resources []failureResource
	path := "/stepfailure/?" + params.Encode()
	if err := c.getJSON(path, maxAge, &resources); err != nil {
		return nil, err
	}

	records := make([]StepFailureRecord, 0, len(resources))
	for _, r := range resources {
		records = append(records, StepFailureRecord{
			ID:          int(r.ID),
			BuildID:     int(r.Relationships.Build.Data.ID),
			StepNumber:  int(r.Attributes.StepNumber),
			StepName:    r.Attributes.StepName,
			URLs:        parseLogURLs(r.Attributes.URLs),
			Triage:      TriageStatus(r.Attributes.Triage),
			TriageNotes: r.Attributes.TriageNotes,
		})
	}
	return records, nil
}

// StepFailure fetches one failure, bypassing the response cache so the
// result reflects the server's current triage state.
func (c *Client) StepFailure(failureID int) (*StepFailureRecord, error) {
	var resource failureResource
	path := fmt.Sprintf("/stepfailure/%d/", failureID)
	if err := c.getJSON(path, webclient.CacheDisabled, &resource); err != nil {
		return nil, err
	}
	return &StepFailureRecord{
		ID:          failureID,
		BuildID:     int(resource.Relationships.Build.Data.ID),
		StepNumber:  int(resource.Attributes.StepNumber),
		StepName:    resource.Attributes.StepName,
		URLs:        parseLogURLs(resource.Attributes.URLs),
		Triage:      TriageStatus(resource.Attributes.Triage),
		TriageNotes: resource.Attributes.TriageNotes,
	}, nil
}

// parseLogURLs splits the server's space-separated URL list, keying each URL
// by its last path segment (the log name).
func parseLogURLs(urls string) map[string]string {
	parsed := make(map[string]string)
	for _, u := range strings.Fields(urls) {
		name := u[strings.LastIndex(u, "/")+1:]
		parsed[name] = u
	}
	return parsed
}

// BuildRecord is the server's view of one build.
type BuildRecord struct {
	ID             int
	BuildbotID     int
	Status         Status
	Test           string
	Worker         string
	Completed      time.Time
	CollectionID   int
	AutobuilderURL string
}

type buildResource struct {
	Attributes struct {
		BuildID    intValue `json:"buildid"`
		Status     intValue `json:"status"`
		TargetName string   `json:"targetname"`
		WorkerName string   `json:"workername"`
		Completed  string   `json:"completed"`
		URL        string   `json:"url"`
	} `json:"attributes"`
	Relationships struct {
		BuildCollection struct {
			Data struct {
				ID intValue `json:"id"`
			} `json:"data"`
		} `json:"buildcollection"`
	} `json:"relationships"`
}

// BuildInfo fetches one build.
func (c *Client) BuildInfo(buildID int) (*BuildRecord, error) {
	var resource buildResource
	if err := c.getJSON(fmt.Sprintf("/build/%d/", buildID), recordMaxAge, &resource); err != nil {
		return nil, err
	}

	completed, err := time.Parse(time.RFC3339, resource.Attributes.Completed)
	if err != nil {
		c.log.Warn().Err(err).Int("build", buildID).Msg("Unparseable completion time")
	}

	return &BuildRecord{
		ID:             buildID,
		BuildbotID:     int(resource.Attributes.BuildID),
		Status:         StatusFromInt(int(resource.Attributes.Status)),
		Test:           resource.Attributes.TargetName,
		Worker:         resource.Attributes.WorkerName,
		Completed:      completed,
		CollectionID:   int(resource.Relationships.BuildCollection.Data.ID),
		AutobuilderURL: resource.Attributes.URL,
	}, nil
}

// CollectionRecord is the server's view of one build collection.
type CollectionRecord struct {
	ID         int
	Owner      string
	Branch     string
	BuildID    int
	TargetName string
}

type collectionResource struct {
	Attributes struct {
		Owner      string   `json:"owner"`
		Branch     string   `json:"branch"`
		BuildID    intValue `json:"buildid"`
		TargetName string   `json:"targetname"`
	} `json:"attributes"`
}

// Collection fetches one build collection.
func (c *Client) Collection(collectionID int) (*CollectionRecord, error) {
	var resource collectionResource
	path := fmt.Sprintf("/buildcollection/%d/", collectionID)
	if err := c.getJSON(path, recordMaxAge, &resource); err != nil {
		return nil, err
	}
	return &CollectionRecord{
		ID:         collectionID,
		Owner:      resource.Attributes.Owner,
		Branch:     resource.Attributes.Branch,
		BuildID:    int(resource.Attributes.BuildID),
		TargetName: resource.Attributes.TargetName,
	}, nil
}

// PublishTriage pushes a new triage status for a failure. Any collection page
// accepts the update, so a fixed one is used.
func (c *Client) PublishTriage(failureID int, status TriageStatus, comment string) error {
	token := c.session.CookieValue(c.baseURL, "csrftoken")
	if token == "" {
		return ErrLoginRequired
	}

	form := url.Values{
		"csrfmiddlewaretoken": {token},
		"failureid":           {strconv.Itoa(failureID)},
		"status":              {strconv.Itoa(int(status))},
		"notes":               {comment},
	}
	if _, err := c.session.Post(c.baseURL+"/collection/1/", form); err != nil {
		return fmt.Errorf("publishing triage for failure %d: %w", failureID, err)
	}
	c.log.Info().
		Int("failure", failureID).
		Stringer("status", status).
		Msg("Published triage status")
	return nil
}

// InvalidateFailuresCache forces the next failure listing to hit the server,
// for use after publishing triage updates.
func (c *Client) InvalidateFailuresCache() {
	for _, triage := range []TriageStatus{
		TriagePending, TriageMailSent, TriageBug, TriageOther,
		TriageNotForSwat, TriageCancelled,
	} {
		params := url.Values{}
		params.Set("triage", strconv.Itoa(int(triage)))
		c.session.InvalidateCache(c.restURL("/stepfailure/?" + params.Encode()))
	}
	c.session.InvalidateCache(c.restURL("/stepfailure/?"))
}

// getJSON fetches a REST path and decodes the "data" member. A reply that is
// not JSON invalidates the cached copy; the server's login page is reported
// as ErrLoginRequired.
func (c *Client) getJSON(path string, maxAge time.Duration, out any) error {
	fullURL := c.restURL(path)
	body, err := c.session.Get(fullURL, maxAge)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", fullURL, err)
	}

	var reply struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		c.session.InvalidateCache(fullURL)
		if strings.Contains(body, "Please login to see this page.") {
			return ErrLoginRequired
		}
		return fmt.Errorf("parsing reply from %s: %w", fullURL, err)
	}
	if err := json.Unmarshal(reply.Data, out); err != nil {
		c.session.InvalidateCache(fullURL)
		return fmt.Errorf("parsing reply from %s: %w", fullURL, err)
	}
	return nil
}
