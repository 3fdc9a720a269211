// Package webclient provides the shared HTTP session used by the swatbot,
// buildbot and bugzilla clients: persistent cookies plus a file-based
// response cache with per-request age policies.
package webclient

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache age policies for Get.
const (
	// CacheDisabled bypasses the response cache and always refetches.
	CacheDisabled time.Duration = 0
	// CacheForever accepts a cached response of any age.
	CacheForever time.Duration = -1
)

// StatusError is returned for HTTP responses outside the 2xx range. Callers
// that treat specific status codes as expected (the swatbot login quirk)
// unwrap it with errors.As.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.URL, e.StatusCode)
}

// Session is an HTTP session with durable cookies and a gzip file cache of
// GET responses keyed by URL. Safe for concurrent use.
type Session struct {
	client      *http.Client
	jar         *persistentJar
	cookiesPath string
	cacheDir    string
	log         zerolog.Logger

	cacheMu sync.Mutex
}

// NewSession creates a session persisting cookies under dataDir and cached
// responses under cacheDir. Previously saved cookies are loaded if present.
func NewSession(dataDir, cacheDir string, log zerolog.Logger) (*Session, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating web cache dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	jar, err := newPersistentJar()
	if err != nil {
		return nil, err
	}

	s := &Session{
		client: &http.Client{
			Jar:     jar,
			Timeout: 60 * time.Second,
		},
		jar:         jar,
		cookiesPath: filepath.Join(dataDir, "cookies.json"),
		cacheDir:    cacheDir,
		log:         log.With().Str("component", "webclient").Logger(),
	}

	if err := s.jar.loadFile(s.cookiesPath); err != nil {
		s.log.Warn().Err(err).Msg("Failed to load saved cookies, starting fresh")
	}
	return s, nil
}

// SaveCookies persists the current cookies for later sessions.
func (s *Session) SaveCookies() error {
	return s.jar.saveFile(s.cookiesPath)
}

// CookieValue returns the named cookie's value for a URL, or "" when unset.
func (s *Session) CookieValue(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, c := range s.jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Get performs a GET request, serving from the response cache when a cached
// copy no older than maxAge exists. The fresh response replaces the cached
// one.
func (s *Session) Get(rawURL string, maxAge time.Duration) (string, error) {
	cachePath := s.cachePath(rawURL)

	if maxAge != CacheDisabled {
		if body, ok := s.loadCache(cachePath, maxAge); ok {
			s.log.Debug().Str("url", rawURL).Msg("Serving response from cache")
			return body, nil
		}
	}

	s.log.Debug().Str("url", rawURL).Msg("Fetching")
	resp, err := s.client.Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("GET %s: reading response: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	s.storeCache(cachePath, string(body))
	return string(body), nil
}

// Post performs a form POST. The response cache is not involved.
func (s *Session) Post(rawURL string, form url.Values) (string, error) {
	s.log.Debug().Str("url", rawURL).Msg("Sending POST request")
	resp, err := s.client.PostForm(rawURL, form)
	if err != nil {
		return "", fmt.Errorf("POST %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("POST %s: reading response: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return string(body), nil
}

// InvalidateCache drops the cached response for one URL.
func (s *Session) InvalidateCache(rawURL string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if err := os.Remove(s.cachePath(rawURL)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("url", rawURL).Msg("Failed to invalidate cached response")
	}
}

// cachePath maps a URL to its cache file. Short URLs keep a readable name,
// long ones collapse to a hash.
func (s *Session) cachePath(rawURL string) string {
	name := rawURL
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}
	name = strings.TrimSuffix(name, "/")
	replacer := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_", "=", "_")
	name = replacer.Replace(name)
	if len(name) > 100 {
		sum := sha256.Sum256([]byte(name))
		name = hex.EncodeToString(sum[:])
	}
	return filepath.Join(s.cacheDir, name+".gz")
}

func (s *Session) loadCache(path string, maxAge time.Duration) (string, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if maxAge != CacheForever && time.Since(info.ModTime()) >= maxAge {
		return "", false
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Failed to read cache file, ignoring")
		return "", false
	}
	defer zr.Close()

	body, err := io.ReadAll(zr)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Failed to read cache file, ignoring")
		return "", false
	}
	return string(body), true
}

func (s *Session) storeCache(path, body string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	tmp, err := os.CreateTemp(s.cacheDir, ".resp-*")
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Failed to write cache file")
		return
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	_, werr := zw.Write([]byte(body))
	cerr := zw.Close()
	if err := tmp.Close(); werr == nil && cerr == nil && err == nil {
		if err := os.Rename(tmp.Name(), path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("Failed to write cache file")
		}
		return
	}
	s.log.Warn().Str("path", path).Msg("Failed to write cache file")
}
