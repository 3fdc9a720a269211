package webclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// savedCookie is the serialized form of one cookie.
type savedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// persistentJar wraps the standard cookie jar, which offers no enumeration,
// with a record of every cookie set per origin so the jar contents can be
// written to disk and replayed into a fresh jar on the next run.
type persistentJar struct {
	mu    sync.Mutex
	inner *cookiejar.Jar
	saved map[string]map[string]savedCookie
}

var _ http.CookieJar = (*persistentJar)(nil)

func newPersistentJar() (*persistentJar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return &persistentJar{
		inner: inner,
		saved: make(map[string]map[string]savedCookie),
	}, nil
}

func (j *persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	origin := u.Scheme + "://" + u.Host

	j.mu.Lock()
	byName := j.saved[origin]
	if byName == nil {
		byName = make(map[string]savedCookie)
		j.saved[origin] = byName
	}
	for _, c := range cookies {
		byName[c.Name] = savedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
	}
	j.mu.Unlock()

	j.inner.SetCookies(u, cookies)
}

func (j *persistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// loadFile replays previously saved cookies into the jar. A missing file is
// not an error.
func (j *persistentJar) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cookies file: %w", err)
	}

	var saved map[string]map[string]savedCookie
	if err := json.Unmarshal(raw, &saved); err != nil {
		return fmt.Errorf("parsing cookies file: %w", err)
	}

	now := time.Now()
	for origin, byName := range saved {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		var cookies []*http.Cookie
		for _, sc := range byName {
			if !sc.Expires.IsZero() && sc.Expires.Before(now) {
				continue
			}
			cookies = append(cookies, &http.Cookie{
				Name:     sc.Name,
				Value:    sc.Value,
				Path:     sc.Path,
				Domain:   sc.Domain,
				Expires:  sc.Expires,
				Secure:   sc.Secure,
				HttpOnly: sc.HTTPOnly,
			})
		}
		if len(cookies) > 0 {
			j.SetCookies(u, cookies)
		}
	}
	return nil
}

// saveFile writes the recorded cookies with owner-only permissions, since
// they carry session credentials.
func (j *persistentJar) saveFile(path string) error {
	j.mu.Lock()
	raw, err := json.MarshalIndent(j.saved, "", "  ")
	j.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding cookies: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cookies-*")
	if err != nil {
		return fmt.Errorf("writing cookies file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cookies file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cookies file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing cookies file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing cookies file: %w", err)
	}
	return nil
}
