package intruder_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/intruder"
	"github.com/vsthakur101/webapi-moderator/storage"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

func openStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := storage.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func waitForStatus(t *testing.T, store storage.IntruderStore, id, status string) *storage.IntruderAttack {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		attack, err := store.GetAttack(id)
		if err == nil && attack.Status == status {
			return attack
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("attack %s never reached status %s", id, status)
	return nil
}

func TestClusterBombAttackEndToEnd(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "q=%s", r.URL.RawQuery)
	}))
	defer origin.Close()

	store := openStore(t)
	bus := eventbus.New()
	client := upstream.NewClient(upstream.Options{})
	engine := intruder.NewEngine(store, bus, client)

	template := origin.URL + "/?a=P0&b=P1"
	base := len(origin.URL)
	attack := &storage.IntruderAttack{
		ID:          uuid.NewV4().String(),
		Name:        "cluster",
		Status:      intruder.StatusConfigured,
		Method:      http.MethodGet,
		URLTemplate: template,
		Positions: []storage.IntruderPosition{
			{Start: base + 4, End: base + 6, Index: 0},
			{Start: base + 9, End: base + 11, Index: 1},
		},
		PayloadSets:    [][]string{{"a", "b"}, {"1", "2"}},
		Strategy:       intruder.StrategyClusterBomb,
		Threads:        1,
		TimeoutSeconds: 5,
		CreatedAt:      time.Now().UTC(),
	}
	c.Assert(store.PutAttack(attack), qt.IsNil)

	c.Assert(engine.Start(attack.ID), qt.IsNil)
	done := waitForStatus(t, store, attack.ID, intruder.StatusCompleted)

	c.Assert(done.TotalRequests, qt.Equals, 4)
	c.Assert(done.CompletedRequests, qt.Equals, 4)

	results, total, err := store.ListResults(attack.ID, 10, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(total, qt.Equals, int64(4))

	// position_index order traverses the payload sets lexicographically
	wantPayloads := [][]string{{"a", "1"}, {"a", "2"}, {"b", "1"}, {"b", "2"}}
	for i, res := range results {
		c.Assert(res.PositionIndex, qt.Equals, i)
		c.Assert(res.Payloads, qt.DeepEquals, wantPayloads[i])
		c.Assert(res.ResponseStatus, qt.Equals, 200)
		c.Assert(res.Error, qt.Equals, "")
	}
}

func TestAttackRecordsRequestErrors(t *testing.T) {
	c := qt.New(t)

	store := openStore(t)
	engine := intruder.NewEngine(store, eventbus.New(), upstream.NewClient(upstream.Options{}))

	attack := &storage.IntruderAttack{
		ID:          uuid.NewV4().String(),
		Name:        "unreachable",
		Status:      intruder.StatusConfigured,
		Method:      http.MethodGet,
		URLTemplate: "http://127.0.0.1:1/P0",
		Positions: []storage.IntruderPosition{
			{Start: len("http://127.0.0.1:1/"), End: len("http://127.0.0.1:1/P0"), Index: 0},
		},
		PayloadSets:    [][]string{{"x", "y"}},
		Strategy:       intruder.StrategySniper,
		Threads:        2,
		TimeoutSeconds: 2,
		CreatedAt:      time.Now().UTC(),
	}
	c.Assert(store.PutAttack(attack), qt.IsNil)

	c.Assert(engine.Start(attack.ID), qt.IsNil)
	done := waitForStatus(t, store, attack.ID, intruder.StatusCompleted)

	// individual failures become result rows, not attack failure
	c.Assert(done.CompletedRequests, qt.Equals, 2)
	results, _, err := store.ListResults(attack.ID, 10, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(results, qt.HasLen, 2)
	for _, res := range results {
		c.Assert(res.Error, qt.Not(qt.Equals), "")
	}
}

func TestStartTwiceFails(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer origin.Close()

	store := openStore(t)
	engine := intruder.NewEngine(store, eventbus.New(), upstream.NewClient(upstream.Options{}))

	attack := &storage.IntruderAttack{
		ID:          uuid.NewV4().String(),
		Name:        "dup",
		Status:      intruder.StatusConfigured,
		Method:      http.MethodGet,
		URLTemplate: origin.URL + "/P0",
		Positions: []storage.IntruderPosition{
			{Start: len(origin.URL) + 1, End: len(origin.URL) + 3, Index: 0},
		},
		PayloadSets:    [][]string{{"a", "b", "c", "d"}},
		Strategy:       intruder.StrategySniper,
		Threads:        1,
		DelayMs:        50,
		TimeoutSeconds: 5,
		CreatedAt:      time.Now().UTC(),
	}
	c.Assert(store.PutAttack(attack), qt.IsNil)

	c.Assert(engine.Start(attack.ID), qt.IsNil)
	c.Assert(engine.Start(attack.ID), qt.Equals, intruder.ErrAlreadyRunning)

	c.Assert(engine.Stop(attack.ID), qt.IsNil)
	waitForStatus(t, store, attack.ID, intruder.StatusCompleted)
}
