package fetch

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "dkwatch/pkg/logx"
)

func TestResolveContestURL(t *testing.T) {
	t.Parallel()

	t.Run("direct url wins", func(t *testing.T) {
		t.Parallel()
		got, err := resolveContestURL(Config{ContestURL: " https://example.com/c/1 "})
		if err != nil {
			t.Fatal(err)
		}
		if got != "https://example.com/c/1" {
			t.Fatalf("url = %q", got)
		}
	})

	t.Run("first line of contest file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "contest.txt")
		body := "https://example.com/c/2\nsome trailing notes\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := resolveContestURL(Config{ContestFile: path})
		if err != nil {
			t.Fatal(err)
		}
		if got != "https://example.com/c/2" {
			t.Fatalf("url = %q", got)
		}
	})

	t.Run("empty contest file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "contest.txt")
		if err := os.WriteFile(path, []byte("\n\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := resolveContestURL(Config{ContestFile: path}); err == nil {
			t.Fatal("expected error for empty contest file")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Parallel()
		if _, err := resolveContestURL(Config{}); err != ErrNoContestURL {
			t.Fatalf("err = %v, want ErrNoContestURL", err)
		}
	})
}

func TestFetchSendsUserAgentAndCookies(t *testing.T) {
	t.Parallel()

	var gotUA, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	host := mustHost(t, srv.URL)
	authPath := filepath.Join(t.TempDir(), "auth_state.json")
	state := `{"cookies": [{"name": "session", "value": "s3cret", "domain": "` + host + `", "path": "/", "expires": -1}]}`
	if err := os.WriteFile(authPath, []byte(state), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := New(Config{
		ContestURL:    srv.URL,
		AuthStatePath: authPath,
		UserAgent:     "standings-test/1.0",
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	body, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "<html></html>" {
		t.Fatalf("body = %q", body)
	}
	if gotUA != "standings-test/1.0" {
		t.Errorf("user agent = %q", gotUA)
	}
	if gotCookie != "s3cret" {
		t.Errorf("cookie = %q, want s3cret", gotCookie)
	}
}

func TestFetchNon2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	src, err := New(Config{ContestURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	} else if !strings.Contains(err.Error(), "403") {
		t.Fatalf("error %q does not mention the status", err)
	}
}

func TestFetchMissingAuthStateIsSurvivable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	src, err := New(Config{
		ContestURL:    srv.URL,
		AuthStatePath: filepath.Join(t.TempDir(), "does-not-exist.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("unauthenticated fetch failed: %v", err)
	}
}

func TestFetchHonorsContextCancel(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	src, err := New(Config{ContestURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := src.Fetch(ctx); err == nil {
		t.Fatal("expected error for cancelled fetch")
	}
}

func TestFetchRateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	const gap = 60 * time.Millisecond
	src, err := New(Config{ContestURL: srv.URL, MinRequestGap: gap}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := src.Fetch(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 2*gap {
		t.Fatalf("3 fetches took %v, want >= %v", elapsed, 2*gap)
	}
}

func TestLoadAuthStateSkipsExpired(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "auth_state.json")
	state := `{"cookies": [
		{"name": "live", "value": "v", "domain": "example.com", "path": "/", "expires": -1},
		{"name": "dead", "value": "v", "domain": "example.com", "path": "/", "expires": 1000000}
	]}`
	if err := os.WriteFile(path, []byte(state), 0o644); err != nil {
		t.Fatal(err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := loadAuthState(path, jar)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("loaded %d cookies, want 1", n)
	}
	u, _ := url.Parse("https://example.com/")
	cookies := jar.Cookies(u)
	if len(cookies) != 1 || cookies[0].Name != "live" {
		t.Fatalf("jar cookies = %+v", cookies)
	}
}

func mustHost(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	return u.Hostname()
}
