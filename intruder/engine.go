package intruder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/storage"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

// Attack statuses.
const (
	StatusConfigured = "configured"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ErrAlreadyRunning is returned when starting an attack twice.
var ErrAlreadyRunning = errors.New("intruder: attack already running")

// Engine runs intruder attacks.
type Engine struct {
	store  storage.IntruderStore
	bus    *eventbus.Bus
	client *upstream.Client

	mu      sync.Mutex
	running map[string]*runner
}

// NewEngine creates an Engine.
func NewEngine(store storage.IntruderStore, bus *eventbus.Bus, client *upstream.Client) *Engine {
	return &Engine{
		store:   store,
		bus:     bus,
		client:  client,
		running: make(map[string]*runner),
	}
}

type runner struct {
	attack *storage.IntruderAttack
	cancel context.CancelFunc
	paused atomic.Bool
	resume chan struct{}

	completed atomic.Int64
}

// Start launches an attack in the background.
func (e *Engine) Start(attackID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.running[attackID]; ok {
		return ErrAlreadyRunning
	}

	attack, err := e.store.GetAttack(attackID)
	if err != nil {
		return err
	}

	combos := Expand(attack.Strategy, len(attack.Positions), attack.PayloadSets)
	if len(combos) == 0 {
		attack.Status = StatusError
		attack.ErrorMessage = "attack expands to zero requests"
		_ = e.store.UpdateAttack(attack)
		return fmt.Errorf("intruder: %s", attack.ErrorMessage)
	}

	now := time.Now().UTC()
	attack.Status = StatusRunning
	attack.StartedAt = &now
	attack.CompletedAt = nil
	attack.ErrorMessage = ""
	attack.TotalRequests = len(combos)
	attack.CompletedRequests = 0
	if err := e.store.UpdateAttack(attack); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{
		attack: attack,
		cancel: cancel,
		resume: make(chan struct{}, 1),
	}
	e.running[attackID] = r

	e.publishProgress(attack, StatusRunning, 0)
	go e.run(ctx, r, combos)
	return nil
}

// Pause signals workers to idle after draining outstanding requests.
func (e *Engine) Pause(attackID string) error {
	e.mu.Lock()
	r, ok := e.running[attackID]
	e.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	r.paused.Store(true)
	r.attack.Status = StatusPaused
	err := e.store.UpdateAttack(r.attack)
	e.publishProgress(r.attack, StatusPaused, int(r.completed.Load()))
	return err
}

// Resume restarts a paused attack.
func (e *Engine) Resume(attackID string) error {
	e.mu.Lock()
	r, ok := e.running[attackID]
	e.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	if r.paused.Swap(false) {
		select {
		case r.resume <- struct{}{}:
		default:
		}
	}
	r.attack.Status = StatusRunning
	err := e.store.UpdateAttack(r.attack)
	e.publishProgress(r.attack, StatusRunning, int(r.completed.Load()))
	return err
}

// Stop aborts outstanding work and finalizes the attack.
func (e *Engine) Stop(attackID string) error {
	e.mu.Lock()
	r, ok := e.running[attackID]
	e.mu.Unlock()
	if !ok {
		return storage.ErrNotFound
	}
	r.paused.Store(false)
	select {
	case r.resume <- struct{}{}:
	default:
	}
	r.cancel()
	return nil
}

type workItem struct {
	index    int
	payloads []string
}

// run dispatches the attack's combinations through a bounded worker pool.
// Dispatch order follows the expansion; position_index equals the enqueue
// index regardless of completion order.
func (e *Engine) run(ctx context.Context, r *runner, combos [][]string) {
	attack := r.attack
	logger := log.WithField("attack", attack.ID)

	threads := attack.Threads
	if threads <= 0 {
		threads = 1
	}
	delay := time.Duration(attack.DelayMs) * time.Millisecond

	work := make(chan workItem)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				e.execute(ctx, r, item)
			}
		}()
	}

dispatch:
	for i, payloads := range combos {
		// pause gate: drain outstanding, then idle until resume or stop
		for r.paused.Load() {
			select {
			case <-ctx.Done():
				break dispatch
			case <-r.resume:
			case <-time.After(200 * time.Millisecond):
			}
		}

		select {
		case <-ctx.Done():
			break dispatch
		case work <- workItem{index: i, payloads: payloads}:
		}

		// delay is measured between dispatches, not completions
		if delay > 0 && i < len(combos)-1 {
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
	delete(e.running, attack.ID)
	e.mu.Unlock()

	now := time.Now().UTC()
	attack.CompletedRequests = int(r.completed.Load())
	attack.CompletedAt = &now
	attack.Status = StatusCompleted
	if err := e.store.UpdateAttack(attack); err != nil {
		logger.WithError(err).Error("finalize attack failed")
	}
	e.publishProgress(attack, attack.Status, attack.CompletedRequests)
}

// execute performs one attack request and records its result. Individual
// failures become result rows; they never fail the attack.
func (e *Engine) execute(ctx context.Context, r *runner, item workItem) {
	attack := r.attack

	url := ApplyPayloads(attack.URLTemplate, attack.Positions, item.payloads)
	body := ""
	if attack.BodyTemplate != "" {
		body = ApplyPayloads(attack.BodyTemplate, attack.Positions, item.payloads)
	}

	result := &storage.IntruderResult{
		ID:            uuid.NewV4().String(),
		AttackID:      attack.ID,
		PositionIndex: item.index,
		Payloads:      item.payloads,
		RequestURL:    url,
		Timestamp:     time.Now().UTC(),
	}

	start := time.Now()
	resp, err := e.doRequest(ctx, attack, url, body, item.payloads)
	result.ResponseTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
	} else {
		defer resp.Body.Close()
		result.ResponseStatus = resp.StatusCode
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			result.Error = readErr.Error()
		}
		result.ResponseLength = len(raw)
		if len(raw) > 10000 {
			raw = raw[:10000]
		}
		result.ResponseBody = raw
		result.ResponseHeaders = flow.HeaderFromHTTP(resp.Header)
	}

	if err := e.store.SaveResult(result); err != nil {
		log.WithError(err).WithField("attack", attack.ID).Error("save result failed")
	}

	// workers only touch the atomic counter; the struct field is written
	// once after the pool drains
	completed := r.completed.Inc()

	e.bus.Publish(eventbus.TopicIntruderResult, map[string]any{
		"attack_id": attack.ID,
		"result":    result,
		"completed": completed,
		"total":     attack.TotalRequests,
	})
}

func (e *Engine) doRequest(ctx context.Context, attack *storage.IntruderAttack, url, body string, payloads []string) (*http.Response, error) {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, attack.Method, url, reader)
	if err != nil {
		return nil, err
	}
	for name, tmpl := range attack.HeadersTemplate {
		req.Header.Set(name, ApplyPayloads(tmpl, attack.Positions, payloads))
	}

	timeout := time.Duration(attack.TimeoutSeconds) * time.Second
	return e.client.Do(ctx, req, upstream.RequestOptions{
		Timeout:         timeout,
		FollowRedirects: attack.FollowRedirects,
	})
}

func (e *Engine) publishProgress(attack *storage.IntruderAttack, status string, completed int) {
	e.bus.Publish(eventbus.TopicIntruderProgress, map[string]any{
		"attack_id": attack.ID,
		"status":    status,
		"total":     attack.TotalRequests,
		"completed": completed,
	})
}
