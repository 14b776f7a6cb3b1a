package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/intercept"
	"github.com/vsthakur101/webapi-moderator/internal/helper"
	"github.com/vsthakur101/webapi-moderator/rules"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

// bodyCapture mirrors streamed bytes into a bounded buffer, counting
// whatever spills past the cap.
type bodyCapture struct {
	buf      bytes.Buffer
	capBytes int64
	overflow int64
}

func (bc *bodyCapture) Write(p []byte) (int, error) {
	room := bc.capBytes - int64(bc.buf.Len())
	if room > 0 {
		n := int64(len(p))
		if n > room {
			n = room
		}
		bc.buf.Write(p[:n])
		bc.overflow += int64(len(p)) - n
	} else {
		bc.overflow += int64(len(p))
	}
	return len(p), nil
}

// serveFlow runs one request through the full pipeline: flow construction,
// request rules, request interception, upstream dispatch, response rules,
// response interception, reply, recording.
func (e *Engine) serveFlow(w http.ResponseWriter, req *http.Request, scheme string) {
	logger := slog.With("in", "Engine.serveFlow", "method", req.Method, "host", req.Host)

	e.requestsTotal.Inc()
	e.activeFlows.Inc()
	defer e.activeFlows.Dec()

	start := time.Now()
	f := e.newFlowFromRequest(req, scheme)
	defer f.Finish()

	if isWebSocketUpgrade(req) {
		e.handleWebSocket(w, req, f, start)
		return
	}

	// request body, capped for recording
	reqBody, streamed, err := e.readRequestBody(req, f)
	if err != nil {
		f.Error = "malformed request body: " + err.Error()
		e.finalizeEarly(w, f, start, http.StatusBadRequest)
		return
	}

	// one immutable rule snapshot per flow
	ruleSnap := e.rules.Snapshot()

	// request-phase rules
	res := ruleSnap.Evaluate(f, rules.PhaseRequest)
	e.logRuleErrors(logger, res)
	if res.Blocked {
		f.Modified = true
		e.synthesize(w, f, http.StatusForbidden, "Blocked by rule")
		f.DurationMs = time.Since(start).Milliseconds()
		e.record(f)
		return
	}
	if !streamed {
		rules.Apply(f, rules.PhaseRequest, res)
	}

	// request-phase interception
	if e.coordinator.Enabled() {
		f.Intercepted = true
		e.requestsIntercepted.Inc()
		decision, ok := e.awaitDecision(req.Context(), f, intercept.PhaseRequest)
		if !ok {
			f.Truncated = true
			f.Error = "client disconnected while intercepted"
			f.DurationMs = time.Since(start).Milliseconds()
			e.record(f)
			return
		}
		switch decision.Kind {
		case intercept.DecisionDrop:
			f.Error = "dropped by operator"
			e.finalizeEarly(w, f, start, http.StatusBadGateway)
			return
		case intercept.DecisionForwardModified:
			if decision.Headers != nil {
				f.RequestHeaders = decision.Headers
			}
			if decision.Body != nil && !streamed {
				f.RequestBody = decision.Body
			}
			f.Modified = true
		}
	}

	// upstream dispatch
	var outBody io.Reader
	if streamed {
		outBody = reqBody
	} else if len(f.RequestBody) > 0 {
		outBody = bytes.NewReader(f.RequestBody)
	}

	resp, err := e.dispatch(req.Context(), f, outBody, streamed)
	if err != nil {
		if req.Context().Err() != nil {
			f.Truncated = true
		}
		f.Error = err.Error()
		logErr(logger, err)
		e.finalizeEarly(w, f, start, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	f.ResponseStatus = resp.StatusCode
	f.ResponseReason = statusReason(resp.Status)
	f.ResponseHeaders = flow.HeaderFromHTTP(resp.Header)

	// response body, capped for recording
	respBuf, respRest, err := helper.ReaderToBuffer(resp.Body, e.opts.BodySizeCap+1)
	if err != nil {
		f.Error = err.Error()
		logErr(logger, err)
		e.finalizeEarly(w, f, start, http.StatusBadGateway)
		return
	}
	respStreamed := respBuf == nil
	if !respStreamed {
		f.ResponseBody = respBuf
	}

	if !respStreamed {
		// response-phase rules run before the response intercept slot so
		// operators see rule-modified payloads
		resRes := ruleSnap.Evaluate(f, rules.PhaseResponse)
		e.logRuleErrors(logger, resRes)
		if resRes.Blocked {
			f.Modified = true
			e.synthesize(w, f, http.StatusForbidden, "Blocked by rule")
			f.DurationMs = time.Since(start).Milliseconds()
			e.record(f)
			return
		}
		rules.Apply(f, rules.PhaseResponse, resRes)

		if e.coordinator.Enabled() && f.Intercepted {
			decision, ok := e.awaitDecision(req.Context(), f, intercept.PhaseResponse)
			if !ok {
				f.Truncated = true
				f.Error = "client disconnected while intercepted"
				f.DurationMs = time.Since(start).Milliseconds()
				e.record(f)
				return
			}
			switch decision.Kind {
			case intercept.DecisionDrop:
				f.Error = "dropped by operator"
				e.finalizeEarly(w, f, start, http.StatusBadGateway)
				return
			case intercept.DecisionForwardModified:
				if decision.Headers != nil {
					f.ResponseHeaders = decision.Headers
				}
				if decision.Body != nil {
					f.ResponseBody = decision.Body
				}
				if decision.Status != 0 {
					f.ResponseStatus = decision.Status
				}
				f.Modified = true
			}
		}
	}

	// reply to client, mirroring streamed bodies into the capped record
	writeHeader(w, f.ResponseHeaders, len(f.ResponseBody), respStreamed)
	w.WriteHeader(f.ResponseStatus)
	if respStreamed {
		capture := &bodyCapture{capBytes: e.opts.BodySizeCap}
		if _, err := io.Copy(io.MultiWriter(w, capture), respRest); err != nil {
			logErr(logger, err)
			f.Truncated = true
		}
		f.ResponseBody = capture.buf.Bytes()
		f.ResponseTruncatedBytes = capture.overflow
		if capture.overflow > 0 {
			f.Truncated = true
		}
	} else if len(f.ResponseBody) > 0 {
		if _, err := w.Write(f.ResponseBody); err != nil {
			logErr(logger, err)
		}
	}
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}

	f.DurationMs = time.Since(start).Milliseconds()
	e.record(f)
}

// newFlowFromRequest builds a Flow from the parsed request line and headers.
func (e *Engine) newFlowFromRequest(req *http.Request, scheme string) *flow.Flow {
	f := flow.New()
	f.Scheme = scheme
	f.Method = req.Method
	f.Path = req.URL.Path
	if f.Path == "" {
		f.Path = "/"
	}
	f.Query = req.URL.RawQuery

	defaultPort := 80
	if scheme == "https" || scheme == "wss" {
		defaultPort = 443
	}
	hostport := req.URL.Host
	if hostport == "" {
		hostport = req.Host
	}
	f.Host, f.Port = helper.SplitHostPort(hostport, defaultPort)
	if f.Host == "" {
		if info, ok := req.Context().Value(connInfoKey).(connInfo); ok {
			f.Host, f.Port = info.host, info.port
		}
	}

	headers := flow.HeaderFromHTTP(req.Header)
	for _, field := range headers {
		if helper.IsHopByHop(field.Name) {
			continue
		}
		f.RequestHeaders = append(f.RequestHeaders, field)
	}
	return f
}

// readRequestBody buffers up to the cap. Larger bodies switch to stream
// mode: the prefix is recorded and the rest flows through untouched. For a
// streamed request, request rules can still block but none of their
// mutations (header, URL or body) is applied, and an intercept decision can
// change headers but not the body.
func (e *Engine) readRequestBody(req *http.Request, f *flow.Flow) (io.Reader, bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, false, nil
	}
	buf, rest, err := helper.ReaderToBuffer(req.Body, e.opts.BodySizeCap+1)
	if err != nil {
		return nil, false, err
	}
	if buf != nil {
		f.RequestBody = buf
		return nil, false, nil
	}

	f.Truncated = true
	capture := &bodyCapture{capBytes: e.opts.BodySizeCap}
	tee := io.TeeReader(rest, capture)
	return readerWithFinalizer{r: tee, done: func() {
		f.RequestBody = capture.buf.Bytes()
		f.RequestTruncatedBytes = capture.overflow
	}}, true, nil
}

type readerWithFinalizer struct {
	r    io.Reader
	done func()
}

func (r readerWithFinalizer) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err == io.EOF {
		r.done()
	}
	return n, err
}

// dispatch sends the (possibly modified) request upstream.
func (e *Engine) dispatch(ctx context.Context, f *flow.Flow, body io.Reader, streamed bool) (*http.Response, error) {
	outReq, err := http.NewRequestWithContext(ctx, f.Method, f.URL(), body)
	if err != nil {
		return nil, err
	}
	outReq.Header = f.RequestHeaders.ToHTTP()
	outReq.Header.Del("Host")
	if !streamed {
		outReq.ContentLength = int64(len(f.RequestBody))
		if outReq.ContentLength > 0 {
			outReq.Header.Set("Content-Length", strconv.FormatInt(outReq.ContentLength, 10))
		} else {
			outReq.Header.Del("Content-Length")
		}
	}

	return e.client.Do(ctx, outReq, upstream.RequestOptions{})
}

// awaitDecision blocks on the intercept slot while watching for client
// disconnect. ok is false when the client went away first.
func (e *Engine) awaitDecision(ctx context.Context, f *flow.Flow, phase intercept.Phase) (intercept.Decision, bool) {
	ch := e.coordinator.Submit(f, phase)
	select {
	case d := <-ch:
		return d, true
	case <-ctx.Done():
		e.coordinator.Cancel(f.ID)
		// the cancel resolves the slot with drop; drain it
		select {
		case <-ch:
		default:
		}
		return intercept.Decision{}, false
	}
}

// synthesize writes a locally generated response and records it on the flow.
func (e *Engine) synthesize(w http.ResponseWriter, f *flow.Flow, status int, reason string) {
	f.ResponseStatus = status
	f.ResponseReason = reason
	f.ResponseHeaders = flow.Header{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}}
	f.ResponseBody = []byte(reason)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, reason)
}

func (e *Engine) finalizeEarly(w http.ResponseWriter, f *flow.Flow, start time.Time, status int) {
	reason := http.StatusText(status)
	e.synthesize(w, f, status, reason)
	f.DurationMs = time.Since(start).Milliseconds()
	e.record(f)
}

func (e *Engine) logRuleErrors(logger *slog.Logger, res rules.Result) {
	for _, msg := range res.RuleErrors {
		logger.Warn("rule error", "detail", msg)
	}
}

func writeHeader(w http.ResponseWriter, h flow.Header, bodyLen int, streamed bool) {
	for _, field := range h {
		if helper.IsHopByHop(field.Name) {
			continue
		}
		if strings.EqualFold(field.Name, "Content-Length") {
			continue
		}
		w.Header().Add(field.Name, field.Value)
	}
	if !streamed {
		w.Header().Set("Content-Length", strconv.Itoa(bodyLen))
	}
}

func statusReason(status string) string {
	// "200 OK" -> "OK"
	if i := strings.IndexByte(status, ' '); i >= 0 {
		return status[i+1:]
	}
	return status
}
