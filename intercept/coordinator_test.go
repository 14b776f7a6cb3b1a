package intercept_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/intercept"
)

func testFlow() *flow.Flow {
	f := flow.New()
	f.Scheme = "http"
	f.Method = "GET"
	f.Host = "example.test"
	f.Port = 80
	f.Path = "/"
	return f
}

func TestSubmitWhileDisabledForwardsImmediately(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	d := <-coord.Submit(testFlow(), intercept.PhaseRequest)

	c.Assert(d.Kind, qt.Equals, intercept.DecisionForward)
}

func TestSubmitAndDecide(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	c.Assert(coord.Toggle(), qt.IsTrue)

	f := testFlow()
	ch := coord.Submit(f, intercept.PhaseRequest)

	c.Assert(coord.List(""), qt.HasLen, 1)

	err := coord.Decide(f.ID, intercept.PhaseRequest, intercept.Decision{
		Kind: intercept.DecisionForwardModified,
		Body: []byte(`{"a":2}`),
	})
	c.Assert(err, qt.IsNil)

	d := <-ch
	c.Assert(d.Kind, qt.Equals, intercept.DecisionForwardModified)
	c.Assert(d.Body, qt.DeepEquals, []byte(`{"a":2}`))
	c.Assert(coord.List(""), qt.HasLen, 0)
}

func TestDecideUnknownSlot(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	coord.Toggle()

	err := coord.Decide(testFlow().ID, intercept.PhaseRequest, intercept.Decision{Kind: intercept.DecisionForward})
	c.Assert(err, qt.Equals, intercept.ErrUnknownSlot)
}

func TestDecideTwiceFails(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	coord.Toggle()

	f := testFlow()
	ch := coord.Submit(f, intercept.PhaseRequest)

	c.Assert(coord.Decide(f.ID, intercept.PhaseRequest, intercept.Decision{Kind: intercept.DecisionForward}), qt.IsNil)
	<-ch

	err := coord.Decide(f.ID, intercept.PhaseRequest, intercept.Decision{Kind: intercept.DecisionDrop})
	c.Assert(err, qt.Equals, intercept.ErrUnknownSlot)
}

func TestListOrderIsFIFO(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	coord.Toggle()

	f1 := testFlow()
	f2 := testFlow()
	coord.Submit(f1, intercept.PhaseRequest)
	coord.Submit(f2, intercept.PhaseRequest)

	slots := coord.List(intercept.PhaseRequest)
	c.Assert(slots, qt.HasLen, 2)
	c.Assert(slots[0].FlowID, qt.Equals, f1.ID)
	c.Assert(slots[1].FlowID, qt.Equals, f2.ID)
}

func TestShutdownResolvesForward(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	coord.Toggle()

	f := testFlow()
	ch := coord.Submit(f, intercept.PhaseResponse)

	coord.Shutdown()

	select {
	case d := <-ch:
		c.Assert(d.Kind, qt.Equals, intercept.DecisionForward)
	case <-time.After(time.Second):
		c.Fatal("slot not resolved on shutdown")
	}
}

func TestToggleOffReleasesPending(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	coord.Toggle()

	f := testFlow()
	ch := coord.Submit(f, intercept.PhaseRequest)

	c.Assert(coord.Toggle(), qt.IsFalse)

	select {
	case d := <-ch:
		c.Assert(d.Kind, qt.Equals, intercept.DecisionForward)
	case <-time.After(time.Second):
		c.Fatal("slot not resolved on disable")
	}
}

func TestCancelResolvesDrop(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	coord.Toggle()

	f := testFlow()
	ch := coord.Submit(f, intercept.PhaseRequest)

	coord.Cancel(f.ID)

	d := <-ch
	c.Assert(d.Kind, qt.Equals, intercept.DecisionDrop)
}

func TestSnapshotIsIsolatedFromLiveFlow(t *testing.T) {
	c := qt.New(t)

	coord := intercept.NewCoordinator(eventbus.New())
	coord.Toggle()

	f := testFlow()
	f.RequestBody = []byte("original")
	coord.Submit(f, intercept.PhaseRequest)

	f.RequestBody = []byte("mutated")

	slots := coord.List("")
	c.Assert(slots, qt.HasLen, 1)
	c.Assert(string(slots[0].Snapshot.RequestBody), qt.Equals, "original")
}
