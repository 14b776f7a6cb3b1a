package proxy_test

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/cert"
	"github.com/vsthakur101/webapi-moderator/eventbus"
	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/intercept"
	"github.com/vsthakur101/webapi-moderator/proxy"
	"github.com/vsthakur101/webapi-moderator/rules"
)

// memRecorder collects finalized flows in memory.
type memRecorder struct {
	mu    sync.Mutex
	flows []*flow.Flow
}

func (r *memRecorder) Record(f *flow.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = append(r.flows, f.Snapshot())
}

func (r *memRecorder) wait(t *testing.T, n int) []*flow.Flow {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.flows) >= n {
			out := append([]*flow.Flow(nil), r.flows...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("recorder never reached %d flows", n)
	return nil
}

type harness struct {
	engine      *proxy.Engine
	coordinator *intercept.Coordinator
	ruleEngine  *rules.Engine
	recorder    *memRecorder
	ca          *cert.Store
	proxyURL    *url.URL
}

func newHarness(t *testing.T, opts proxy.Options) *harness {
	t.Helper()

	ca, err := cert.NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}

	bus := eventbus.New()
	coordinator := intercept.NewCoordinator(bus)
	ruleEngine := rules.NewEngine()
	rec := &memRecorder{}

	opts.SslInsecure = true
	engine := proxy.NewEngine(opts, ca, ruleEngine, coordinator, bus, rec)
	if err := engine.Start("127.0.0.1", 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Stop() })

	proxyURL, err := url.Parse("http://" + engine.Addr())
	if err != nil {
		t.Fatal(err)
	}

	return &harness{
		engine:      engine,
		coordinator: coordinator,
		ruleEngine:  ruleEngine,
		recorder:    rec,
		ca:          ca,
		proxyURL:    proxyURL,
	}
}

func (h *harness) client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(h.proxyURL)},
		Timeout:   10 * time.Second,
	}
}

func (h *harness) tlsClient() *http.Client {
	roots := x509.NewCertPool()
	roots.AddCert(h.ca.RootCA())
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(h.proxyURL),
			TLSClientConfig: &tls.Config{RootCAs: roots},
		},
		Timeout: 10 * time.Second,
	}
}

func TestTransparentPassThrough(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "yes")
		fmt.Fprint(w, `{"origin":"127.0.0.1"}`)
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{})
	resp, err := h.client().Get(origin.URL + "/ip")
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	c.Assert(resp.StatusCode, qt.Equals, 200)
	c.Assert(string(body), qt.Equals, `{"origin":"127.0.0.1"}`)
	c.Assert(resp.Header.Get("X-Origin"), qt.Equals, "yes")

	flows := h.recorder.wait(t, 1)
	f := flows[0]
	c.Assert(f.Method, qt.Equals, "GET")
	c.Assert(f.Scheme, qt.Equals, "http")
	c.Assert(f.Path, qt.Equals, "/ip")
	c.Assert(f.ResponseStatus, qt.Equals, 200)
	c.Assert(f.Modified, qt.IsFalse)
	c.Assert(f.Intercepted, qt.IsFalse)
	c.Assert(string(f.ResponseBody), qt.Equals, `{"origin":"127.0.0.1"}`)
}

func TestRequestBodyForwardedExactly(t *testing.T) {
	c := qt.New(t)

	var received []byte
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(204)
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{})
	payload := []byte(`{"hello":"world","n":42}`)
	resp, err := h.client().Post(origin.URL+"/echo", "application/json", bytes.NewReader(payload))
	c.Assert(err, qt.IsNil)
	resp.Body.Close()

	c.Assert(resp.StatusCode, qt.Equals, 204)
	c.Assert(received, qt.DeepEquals, payload)
}

func TestRuleBlockSynthesizes403(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("origin must not be reached for blocked flows")
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{})
	h.ruleEngine.SetRules([]rules.Rule{{
		ID:           "block-admin",
		Enabled:      true,
		Priority:     0,
		MatchType:    rules.MatchURL,
		MatchPattern: "/admin",
		ActionType:   rules.ActionBlock,
		ApplyTo:      rules.ApplyRequest,
	}})

	resp, err := h.client().Get(origin.URL + "/admin/x")
	c.Assert(err, qt.IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, 403)

	flows := h.recorder.wait(t, 1)
	c.Assert(flows[0].Modified, qt.IsTrue)
	c.Assert(flows[0].ResponseStatus, qt.Equals, 403)
}

func TestRuleAddHeaderReachesUpstream(t *testing.T) {
	c := qt.New(t)

	var gotHeader string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Injected")
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{})
	h.ruleEngine.SetRules([]rules.Rule{{
		ID:           "inject",
		Enabled:      true,
		MatchType:    rules.MatchMethod,
		MatchPattern: "GET",
		ActionType:   rules.ActionAddHeader,
		ActionTarget: "X-Injected",
		ActionValue:  "by-rule",
		ApplyTo:      rules.ApplyRequest,
	}})

	resp, err := h.client().Get(origin.URL + "/")
	c.Assert(err, qt.IsNil)
	resp.Body.Close()

	c.Assert(gotHeader, qt.Equals, "by-rule")

	flows := h.recorder.wait(t, 1)
	c.Assert(flows[0].Modified, qt.IsTrue)
}

func TestInterceptForwardModified(t *testing.T) {
	c := qt.New(t)

	var received []byte
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, "ok")
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{})
	h.coordinator.Toggle()

	// operator: resolve the request slot with a modified body, then
	// forward the response slot untouched
	go func() {
		for i := 0; i < 500; i++ {
			slots := h.coordinator.List(intercept.PhaseRequest)
			if len(slots) > 0 {
				h.coordinator.Decide(slots[0].FlowID, intercept.PhaseRequest, intercept.Decision{
					Kind: intercept.DecisionForwardModified,
					Body: []byte(`{"a":2}`),
				})
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		for i := 0; i < 500; i++ {
			slots := h.coordinator.List(intercept.PhaseResponse)
			if len(slots) > 0 {
				h.coordinator.Decide(slots[0].FlowID, intercept.PhaseResponse, intercept.Decision{
					Kind: intercept.DecisionForward,
				})
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	resp, err := h.client().Post(origin.URL+"/echo", "application/json", strings.NewReader(`{"a":1}`))
	c.Assert(err, qt.IsNil)
	resp.Body.Close()

	c.Assert(string(received), qt.Equals, `{"a":2}`, qt.Commentf("upstream must observe the modified body"))

	flows := h.recorder.wait(t, 1)
	f := flows[0]
	c.Assert(f.Intercepted, qt.IsTrue)
	c.Assert(f.Modified, qt.IsTrue)
	c.Assert(string(f.RequestBody), qt.Equals, `{"a":2}`)
}

func TestUpstreamFailureSynthesizes502(t *testing.T) {
	c := qt.New(t)

	h := newHarness(t, proxy.Options{UpstreamTimeout: 2 * time.Second})

	resp, err := h.client().Get("http://127.0.0.1:1/")
	c.Assert(err, qt.IsNil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, 502)

	flows := h.recorder.wait(t, 1)
	c.Assert(flows[0].Error, qt.Not(qt.Equals), "")
	c.Assert(flows[0].ResponseStatus, qt.Equals, 502)
}

func TestHTTPSMITM(t *testing.T) {
	c := qt.New(t)

	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secret content")
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{})

	resp, err := h.tlsClient().Get(origin.URL + "/page")
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	c.Assert(resp.StatusCode, qt.Equals, 200)
	c.Assert(string(body), qt.Equals, "secret content")

	// the certificate served to the client is a leaf signed by our root
	c.Assert(resp.TLS, qt.IsNotNil)
	leaf := resp.TLS.PeerCertificates[0]
	c.Assert(leaf.Issuer.CommonName, qt.Equals, "WebAPI Moderator CA")

	flows := h.recorder.wait(t, 1)
	f := flows[0]
	c.Assert(f.Scheme, qt.Equals, "https")
	c.Assert(string(f.ResponseBody), qt.Equals, "secret content")
}

func TestBodyCapBoundaries(t *testing.T) {
	c := qt.New(t)

	const cap = 64
	payloadExact := bytes.Repeat([]byte("x"), cap)
	payloadOver := bytes.Repeat([]byte("y"), cap+1)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/exact" {
			w.Write(payloadExact)
			return
		}
		w.Write(payloadOver)
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{BodySizeCap: cap})

	resp, err := h.client().Get(origin.URL + "/exact")
	c.Assert(err, qt.IsNil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.Assert(body, qt.DeepEquals, payloadExact)

	resp, err = h.client().Get(origin.URL + "/over")
	c.Assert(err, qt.IsNil)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	c.Assert(body, qt.DeepEquals, payloadOver, qt.Commentf("the client still receives the full body"))

	flows := h.recorder.wait(t, 2)
	var exact, over *flow.Flow
	for _, f := range flows {
		switch f.Path {
		case "/exact":
			exact = f
		case "/over":
			over = f
		}
	}

	c.Assert(exact, qt.IsNotNil)
	c.Assert(exact.Truncated, qt.IsFalse)
	c.Assert(len(exact.ResponseBody), qt.Equals, cap)
	c.Assert(exact.ResponseTruncatedBytes, qt.Equals, int64(0))

	c.Assert(over, qt.IsNotNil)
	c.Assert(over.Truncated, qt.IsTrue)
	c.Assert(len(over.ResponseBody), qt.Equals, cap)
	c.Assert(over.ResponseTruncatedBytes, qt.Equals, int64(1))
}

func TestStatusLifecycle(t *testing.T) {
	c := qt.New(t)

	h := newHarness(t, proxy.Options{})

	status := h.engine.Status()
	c.Assert(status.State, qt.Equals, proxy.StateRunning)
	c.Assert(status.Host, qt.Equals, "127.0.0.1")

	c.Assert(h.engine.Stop(), qt.IsNil)
	c.Assert(h.engine.Status().State, qt.Equals, proxy.StateStopped)
}

func TestDirectRequestRejected(t *testing.T) {
	c := qt.New(t)

	h := newHarness(t, proxy.Options{})

	resp, err := http.Get("http://" + h.engine.Addr() + "/not-a-proxy-request")
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, qt.Equals, 400)
}

func TestReplayRecordedFlow(t *testing.T) {
	c := qt.New(t)

	hits := 0
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "pong")
	}))
	defer origin.Close()

	h := newHarness(t, proxy.Options{})
	resp, err := h.client().Get(origin.URL + "/ping")
	c.Assert(err, qt.IsNil)
	resp.Body.Close()

	flows := h.recorder.wait(t, 1)

	replayed, err := h.engine.Replay(t.Context(), flows[0])
	c.Assert(err, qt.IsNil)
	c.Assert(replayed.ResponseStatus, qt.Equals, 200)
	c.Assert(string(replayed.ResponseBody), qt.Equals, "pong")
	c.Assert(replayed.Tags, qt.Contains, "replay")
	c.Assert(hits, qt.Equals, 2)
}
