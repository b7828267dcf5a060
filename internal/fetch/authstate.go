package fetch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// storageState is the subset of a browser storage-state file we consume.
// Expires is Unix seconds; -1 marks a session cookie.
type storageState struct {
	Cookies []stateCookie `json:"cookies"`
}

type stateCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// loadAuthState primes jar with the cookies from a storage-state file,
// skipping entries that have already expired. Returns the number of
// cookies loaded.
func loadAuthState(path string, jar http.CookieJar) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var state storageState
	if err := json.Unmarshal(b, &state); err != nil {
		return 0, fmt.Errorf("decode %q: %w", path, err)
	}

	now := time.Now()
	byHost := make(map[string][]*http.Cookie)
	for _, c := range state.Cookies {
		if c.Name == "" || c.Domain == "" {
			continue
		}
		if c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now) {
			continue
		}
		host := strings.TrimPrefix(c.Domain, ".")
		ck := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			ck.Expires = time.Unix(int64(c.Expires), 0)
		}
		byHost[host] = append(byHost[host], ck)
	}

	n := 0
	for host, cookies := range byHost {
		u := &url.URL{Scheme: "https", Host: host, Path: "/"}
		jar.SetCookies(u, cookies)
		n += len(cookies)
	}
	return n, nil
}
