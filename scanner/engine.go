package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/storage"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

// Scan statuses.
const (
	StatusConfigured = "configured"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ErrAlreadyRunning is returned when starting a running scan.
var ErrAlreadyRunning = errors.New("scanner: scan already running")

// defaultParallel caps concurrent check invocations.
const defaultParallel = 4

// Engine runs scans.
type Engine struct {
	store  storage.ScanStore
	flows  storage.FlowStore
	bus    *eventbus.Bus
	client *upstream.Client

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewEngine creates an Engine.
func NewEngine(store storage.ScanStore, flows storage.FlowStore, bus *eventbus.Bus, client *upstream.Client) *Engine {
	return &Engine{
		store:   store,
		flows:   flows,
		bus:     bus,
		client:  client,
		running: make(map[string]context.CancelFunc),
	}
}

// AvailableChecks lists check metadata for the API.
func (e *Engine) AvailableChecks() []Meta {
	checks := Registry()
	metas := make([]Meta, 0, len(checks))
	for _, c := range checks {
		metas = append(metas, c.Meta())
	}
	return metas
}

// Start launches a scan in the background.
func (e *Engine) Start(scanID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.running[scanID]; ok {
		return ErrAlreadyRunning
	}

	scan, err := e.store.GetScan(scanID)
	if err != nil {
		return err
	}

	targets, err := e.resolveTargets(scan)
	if err != nil || len(targets) == 0 {
		scan.Status = StatusError
		scan.ErrorMessage = "no targets to scan"
		if err != nil {
			scan.ErrorMessage = err.Error()
		}
		_ = e.store.UpdateScan(scan)
		if err == nil {
			err = errors.New("scanner: " + scan.ErrorMessage)
		}
		return err
	}

	var checks []Check
	for _, id := range scan.EnabledChecks {
		if c := FindCheck(id); c != nil {
			checks = append(checks, c)
		}
	}
	if len(checks) == 0 {
		checks = Registry()
	}

	now := time.Now().UTC()
	scan.Status = StatusRunning
	scan.StartedAt = &now
	scan.CompletedAt = nil
	scan.ErrorMessage = ""
	scan.TotalChecks = len(targets) * len(checks)
	scan.CompletedChecks = 0
	scan.IssuesFound = 0
	if err := e.store.UpdateScan(scan); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.running[scanID] = cancel

	go e.run(ctx, scan, targets, checks)
	return nil
}

// Stop aborts a running scan.
func (e *Engine) Stop(scanID string) error {
	e.mu.Lock()
	cancel, ok := e.running[scanID]
	e.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	cancel()
	return nil
}

func (e *Engine) resolveTargets(scan *storage.Scan) ([]Target, error) {
	switch scan.SourceType {
	case "url", "":
		targets := make([]Target, 0, len(scan.SourceURLs))
		for _, u := range scan.SourceURLs {
			targets = append(targets, Target{URL: u})
		}
		return targets, nil
	case "request":
		rec, err := e.flows.GetFlow(scan.SourceRequestID)
		if err != nil {
			return nil, err
		}
		return []Target{{URL: rec.URL, Flow: rec.ToFlow()}}, nil
	}
	return nil, errors.New("unknown scan source type")
}

// run executes checks × targets through a bounded worker pool, persisting
// deduplicated issues as they arrive.
func (e *Engine) run(ctx context.Context, scan *storage.Scan, targets []Target, checks []Check) {
	logger := log.WithField("scan", scan.ID)

	type job struct {
		check  Check
		target Target
	}
	work := make(chan job)

	var completed, issues atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < defaultParallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range work {
				findings := j.check.Run(ctx, e.client, j.target)
				for _, finding := range findings {
					created, err := e.store.SaveIssue(findingToIssue(scan.ID, finding))
					if err != nil {
						logger.WithError(err).Error("save issue failed")
						continue
					}
					if created {
						issues.Inc()
					}
				}
				done := completed.Inc()
				e.publishProgress(scan, StatusRunning, int(done), int(issues.Load()), j.check.Meta().Name, j.target.URL)
			}
		}()
	}

dispatch:
	for _, target := range targets {
		for _, check := range checks {
			select {
			case <-ctx.Done():
				break dispatch
			case work <- job{check: check, target: target}:
			}
		}
	}
	close(work)
	wg.Wait()

	e.mu.Lock()
	delete(e.running, scan.ID)
	e.mu.Unlock()

	now := time.Now().UTC()
	scan.Status = StatusCompleted
	scan.CompletedAt = &now
	scan.CompletedChecks = int(completed.Load())
	scan.IssuesFound = int(issues.Load())
	if err := e.store.UpdateScan(scan); err != nil {
		logger.WithError(err).Error("finalize scan failed")
	}
	e.publishProgress(scan, StatusCompleted, scan.CompletedChecks, scan.IssuesFound, "", "")
}

func findingToIssue(scanID string, f Finding) *storage.ScanIssue {
	now := time.Now().UTC()
	return &storage.ScanIssue{
		ID:           uuid.NewV4().String(),
		ScanID:       scanID,
		IssueType:    f.IssueType,
		Severity:     f.Severity,
		Confidence:   f.Confidence,
		URL:          f.URL,
		Method:       f.Method,
		Parameter:    f.Parameter,
		Location:     f.Location,
		Evidence:     f.Evidence,
		Payload:      f.Payload,
		Title:        f.Title,
		Description:  f.Description,
		Remediation:  f.Remediation,
		References:   f.References,
		Status:       "new",
		DiscoveredAt: now,
		LastSeen:     now,
	}
}

func (e *Engine) publishProgress(scan *storage.Scan, status string, completed, issues int, currentCheck, currentURL string) {
	e.bus.Publish(eventbus.TopicScanProgress, map[string]any{
		"scan_id":          scan.ID,
		"status":           status,
		"total_checks":     scan.TotalChecks,
		"completed_checks": completed,
		"issues_found":     issues,
		"current_check":    currentCheck,
		"current_url":      currentURL,
	})
}
