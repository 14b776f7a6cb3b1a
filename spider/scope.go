package spider

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/temoto/robotstxt"

	"github.com/vsthakur101/webapi-moderator/upstream"
)

const spiderUserAgent = "webapi-moderator-spider/1.0"

// scope decides which discovered URLs are admitted to the frontier.
type scope struct {
	seedHosts       map[string]bool
	include         []*regexp2.Regexp
	exclude         []*regexp2.Regexp
	followExternal  bool
	respectRobots   bool
	maxDepth        int

	client *upstream.Client

	robotsMu sync.Mutex
	robots   map[string]*robotstxt.RobotsData // keyed by scheme://host
}

func newScope(seedURLs, includePatterns, excludePatterns []string, followExternal, respectRobots bool, maxDepth int, client *upstream.Client) (*scope, error) {
	s := &scope{
		seedHosts:      make(map[string]bool),
		followExternal: followExternal,
		respectRobots:  respectRobots,
		maxDepth:       maxDepth,
		client:         client,
		robots:         make(map[string]*robotstxt.RobotsData),
	}

	for _, seed := range seedURLs {
		u, err := url.Parse(seed)
		if err != nil {
			continue
		}
		s.seedHosts[strings.ToLower(u.Hostname())] = true
	}

	for _, p := range includePatterns {
		re, err := regexp2.Compile(p, regexp2.RE2)
		if err != nil {
			return nil, err
		}
		re.MatchTimeout = 100 * time.Millisecond
		s.include = append(s.include, re)
	}
	for _, p := range excludePatterns {
		re, err := regexp2.Compile(p, regexp2.RE2)
		if err != nil {
			return nil, err
		}
		re.MatchTimeout = 100 * time.Millisecond
		s.exclude = append(s.exclude, re)
	}
	return s, nil
}

// verdict explains why a URL was not admitted.
type verdict struct {
	admit  bool
	reason string
}

// admit applies the scope filter: depth cap, host policy, include/exclude
// patterns, and robots.
func (s *scope) admit(ctx context.Context, rawURL string, depth int) verdict {
	if depth > s.maxDepth {
		return verdict{reason: "Exceeds max depth"}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return verdict{reason: "Unparseable URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return verdict{reason: "Non-HTTP scheme"}
	}

	if !s.followExternal && !s.seedHosts[strings.ToLower(u.Hostname())] {
		return verdict{reason: "External host"}
	}

	if len(s.include) > 0 {
		matched := false
		for _, re := range s.include {
			if ok, err := re.MatchString(rawURL); err == nil && ok {
				matched = true
				break
			}
		}
		if !matched {
			return verdict{reason: "Filtered by patterns"}
		}
	}
	for _, re := range s.exclude {
		if ok, err := re.MatchString(rawURL); err == nil && ok {
			return verdict{reason: "Filtered by patterns"}
		}
	}

	if s.respectRobots && !s.robotsAllowed(ctx, u) {
		return verdict{reason: "Blocked by robots.txt"}
	}

	return verdict{admit: true}
}

// robotsAllowed consults the host's robots.txt, fetching it once per host.
// Fetch failures allow everything.
func (s *scope) robotsAllowed(ctx context.Context, u *url.URL) bool {
	key := u.Scheme + "://" + u.Host

	s.robotsMu.Lock()
	data, ok := s.robots[key]
	s.robotsMu.Unlock()

	if !ok {
		data = s.fetchRobots(ctx, key)
		s.robotsMu.Lock()
		s.robots[key] = data
		s.robotsMu.Unlock()
	}

	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, spiderUserAgent)
}

func (s *scope) fetchRobots(ctx context.Context, base string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", spiderUserAgent)

	resp, err := s.client.Do(ctx, req, upstream.RequestOptions{
		Timeout:         10 * time.Second,
		FollowRedirects: true,
	})
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return data
}
