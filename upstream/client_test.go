package upstream_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/upstream"
)

func TestDoReturnsStreamingResponse(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "streamed body")
	}))
	defer origin.Close()

	client := upstream.NewClient(upstream.Options{})
	defer client.Close()

	req, err := http.NewRequest(http.MethodGet, origin.URL, nil)
	c.Assert(err, qt.IsNil)

	resp, err := client.Do(context.Background(), req, upstream.RequestOptions{})
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "streamed body")
}

func TestRedirectsNotFollowedByDefault(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		io.WriteString(w, "final")
	}))
	defer origin.Close()

	client := upstream.NewClient(upstream.Options{})
	defer client.Close()

	req, _ := http.NewRequest(http.MethodGet, origin.URL+"/start", nil)
	resp, err := client.Do(context.Background(), req, upstream.RequestOptions{})
	c.Assert(err, qt.IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, http.StatusFound)

	req, _ = http.NewRequest(http.MethodGet, origin.URL+"/start", nil)
	resp, err = client.Do(context.Background(), req, upstream.RequestOptions{FollowRedirects: true})
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)

	body, _ := io.ReadAll(resp.Body)
	c.Assert(string(body), qt.Equals, "final")
}

func TestPerRequestTimeout(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer origin.Close()

	client := upstream.NewClient(upstream.Options{})
	defer client.Close()

	req, _ := http.NewRequest(http.MethodGet, origin.URL, nil)
	start := time.Now()
	_, err := client.Do(context.Background(), req, upstream.RequestOptions{Timeout: 200 * time.Millisecond})

	c.Assert(err, qt.IsNotNil)
	c.Assert(time.Since(start) < time.Second, qt.IsTrue)
}
