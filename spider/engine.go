package spider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/storage"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

// Session statuses.
const (
	StatusConfigured = "configured"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// URL statuses.
const (
	URLQueued   = "queued"
	URLCrawling = "crawling"
	URLCrawled  = "crawled"
	URLError    = "error"
	URLSkipped  = "skipped"
)

// ErrAlreadyRunning is returned when starting a running session.
var ErrAlreadyRunning = errors.New("spider: session already running")

const requestTimeout = 15 * time.Second

// Engine runs spider sessions.
type Engine struct {
	store  storage.SpiderStore
	bus    *eventbus.Bus
	client *upstream.Client

	mu      sync.Mutex
	running map[string]*crawl
}

// NewEngine creates an Engine.
func NewEngine(store storage.SpiderStore, bus *eventbus.Bus, client *upstream.Client) *Engine {
	return &Engine{
		store:   store,
		bus:     bus,
		client:  client,
		running: make(map[string]*crawl),
	}
}

type crawl struct {
	session *storage.SpiderSession
	scope   *scope
	cancel  context.CancelFunc
	paused  atomic.Bool
	resume  chan struct{}

	mu       sync.Mutex // guards frontier
	frontier *frontier

	crawled  atomic.Int64
	errors   atomic.Int64
	inFlight atomic.Int64
	// remaining dispatch budget; taken before handing work to a worker so
	// concurrent fetches cannot overshoot max_pages
	budget atomic.Int64
}

// Start launches a crawl in the background.
func (e *Engine) Start(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.running[sessionID]; ok {
		return ErrAlreadyRunning
	}

	session, err := e.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	sc, err := newScope(
		session.StartURLs,
		session.IncludePatterns,
		session.ExcludePatterns,
		session.FollowExternalLinks,
		session.RespectRobotsTxt,
		session.MaxDepth,
		e.client,
	)
	if err != nil {
		session.Status = StatusError
		session.ErrorMessage = err.Error()
		_ = e.store.UpdateSession(session)
		return err
	}

	now := time.Now().UTC()
	session.Status = StatusRunning
	session.StartedAt = &now
	session.CompletedAt = nil
	session.ErrorMessage = ""
	if err := e.store.UpdateSession(session); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &crawl{
		session:  session,
		scope:    sc,
		cancel:   cancel,
		resume:   make(chan struct{}, 1),
		frontier: newFrontier(),
	}
	c.budget.Store(int64(session.MaxPages))
	e.running[sessionID] = c

	for _, seed := range session.StartURLs {
		e.discover(ctx, c, seed, 0, "")
	}

	go e.run(ctx, c)
	return nil
}

// Pause idles the dispatcher after in-flight fetches complete.
func (e *Engine) Pause(sessionID string) error {
	e.mu.Lock()
	c, ok := e.running[sessionID]
	e.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	c.paused.Store(true)
	c.session.Status = StatusPaused
	err := e.store.UpdateSession(c.session)
	e.publishProgress(c, "")
	return err
}

// Resume restarts a paused crawl.
func (e *Engine) Resume(sessionID string) error {
	e.mu.Lock()
	c, ok := e.running[sessionID]
	e.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	if c.paused.Swap(false) {
		select {
		case c.resume <- struct{}{}:
		default:
		}
	}
	c.session.Status = StatusRunning
	err := e.store.UpdateSession(c.session)
	e.publishProgress(c, "")
	return err
}

// Stop aborts the crawl and finalizes the session.
func (e *Engine) Stop(sessionID string) error {
	e.mu.Lock()
	c, ok := e.running[sessionID]
	e.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	c.paused.Store(false)
	select {
	case c.resume <- struct{}{}:
	default:
	}
	c.cancel()
	return nil
}

// run is the dispatch loop: pop from the frontier, gate on pause and the
// per-dispatch delay, fan fetches out to the worker pool.
func (e *Engine) run(ctx context.Context, c *crawl) {
	session := c.session
	logger := log.WithField("session", session.ID)

	threads := session.Threads
	if threads <= 0 {
		threads = 1
	}
	delay := time.Duration(session.DelayMs) * time.Millisecond

	work := make(chan *frontierItem)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				e.crawlURL(ctx, c, item)
			}
		}()
	}

dispatch:
	for {
		for c.paused.Load() {
			select {
			case <-ctx.Done():
				break dispatch
			case <-c.resume:
			case <-time.After(200 * time.Millisecond):
			}
		}

		c.mu.Lock()
		item, ok := c.frontier.pop()
		c.mu.Unlock()
		if !ok {
			// in-flight fetches may still discover more
			if c.inFlight.Load() == 0 {
				break
			}
			select {
			case <-ctx.Done():
				break dispatch
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if c.budget.Dec() < 0 {
			break
		}

		c.inFlight.Inc()
		select {
		case <-ctx.Done():
			c.inFlight.Dec()
			break dispatch
		case work <- item:
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				break dispatch
			case <-time.After(delay):
			}
		}
	}
	close(work)
	wg.Wait()

	e.mu.Lock()
	delete(e.running, session.ID)
	e.mu.Unlock()

	now := time.Now().UTC()
	session.Status = StatusCompleted
	session.CompletedAt = &now
	session.PagesCrawled = int(c.crawled.Load())
	session.ErrorCount = int(c.errors.Load())
	c.mu.Lock()
	session.PagesQueued = c.frontier.len()
	c.mu.Unlock()
	if err := e.store.UpdateSession(session); err != nil {
		logger.WithError(err).Error("finalize session failed")
	}
	e.publishProgress(c, "")
}

// discover admits a found URL: dedup by canonical form, then record it as
// queued or skipped with the scope's reason.
func (e *Engine) discover(ctx context.Context, c *crawl, rawURL string, depth int, source string) {
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return
	}

	c.mu.Lock()
	fresh := !c.frontier.seen[canonical]
	c.mu.Unlock()
	if !fresh {
		return
	}

	v := c.scope.admit(ctx, canonical, depth)

	rec := &storage.SpiderURL{
		ID:           uuid.NewV4().String(),
		SessionID:    c.session.ID,
		URL:          canonical,
		Depth:        depth,
		SourceURL:    source,
		DiscoveredAt: time.Now().UTC(),
	}

	if !v.admit {
		c.mu.Lock()
		c.frontier.seen[canonical] = true
		c.mu.Unlock()

		rec.Status = URLSkipped
		rec.ErrorMessage = v.reason
		e.saveURL(c, rec)
		return
	}

	c.mu.Lock()
	pushed := c.frontier.push(canonical, depth, source)
	c.mu.Unlock()
	if !pushed {
		return
	}

	rec.Status = URLQueued
	e.saveURL(c, rec)
}

// crawlURL fetches one admitted URL and feeds discoveries back.
func (e *Engine) crawlURL(ctx context.Context, c *crawl, item *frontierItem) {
	defer c.inFlight.Dec()

	rec := e.loadURL(c, item.url)
	if rec == nil {
		return
	}
	rec.Status = URLCrawling
	e.updateURL(c, rec)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.url, nil)
	if err != nil {
		rec.Status = URLError
		rec.ErrorMessage = err.Error()
		e.updateURL(c, rec)
		c.errors.Inc()
		return
	}
	req.Header.Set("User-Agent", spiderUserAgent)

	start := time.Now()
	resp, err := e.client.Do(ctx, req, upstream.RequestOptions{
		Timeout:         requestTimeout,
		FollowRedirects: true,
	})
	if err != nil {
		rec.Status = URLError
		rec.ErrorMessage = err.Error()
		rec.ResponseTimeMs = time.Since(start).Milliseconds()
		e.updateURL(c, rec)
		c.errors.Inc()
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	rec.ResponseTimeMs = time.Since(start).Milliseconds()
	rec.ResponseStatus = resp.StatusCode
	rec.ContentType = resp.Header.Get("Content-Type")
	rec.ContentLength = len(body)
	if err != nil {
		rec.Status = URLError
		rec.ErrorMessage = err.Error()
		e.updateURL(c, rec)
		c.errors.Inc()
		return
	}

	// only HTML responses are expanded
	if strings.Contains(rec.ContentType, "text/html") {
		info := extractLinks(body, item.url)
		rec.LinksFound = len(info.links)
		rec.FormsFound = info.forms
		rec.Title = info.title

		for _, link := range info.links {
			e.discover(ctx, c, link, item.depth+1, item.url)
		}
	}

	now := time.Now().UTC()
	rec.Status = URLCrawled
	rec.CrawledAt = &now
	e.updateURL(c, rec)

	c.crawled.Inc()
	e.publishProgress(c, item.url)
}

func (e *Engine) saveURL(c *crawl, rec *storage.SpiderURL) {
	if err := e.store.PutURL(rec); err != nil {
		log.WithError(err).WithField("session", c.session.ID).Error("save spider url failed")
		return
	}
	e.bus.Publish(eventbus.TopicSpiderURL, map[string]any{
		"session_id": c.session.ID,
		"url":        rec,
	})
}

func (e *Engine) updateURL(c *crawl, rec *storage.SpiderURL) {
	if err := e.store.UpdateURL(rec); err != nil {
		log.WithError(err).WithField("session", c.session.ID).Error("update spider url failed")
		return
	}
	e.bus.Publish(eventbus.TopicSpiderURL, map[string]any{
		"session_id": c.session.ID,
		"url":        rec,
	})
}

func (e *Engine) loadURL(c *crawl, url string) *storage.SpiderURL {
	rec, err := e.store.GetURL(c.session.ID, url)
	if err != nil {
		log.WithError(err).WithField("session", c.session.ID).Error("load spider url failed")
		return nil
	}
	return rec
}

func (e *Engine) publishProgress(c *crawl, currentURL string) {
	c.mu.Lock()
	queued := c.frontier.len()
	c.mu.Unlock()

	e.bus.Publish(eventbus.TopicSpiderProgress, map[string]any{
		"session_id":    c.session.ID,
		"status":        c.session.Status,
		"pages_crawled": c.crawled.Load(),
		"pages_queued":  queued,
		"error_count":   c.errors.Load(),
		"current_url":   currentURL,
	})
}
