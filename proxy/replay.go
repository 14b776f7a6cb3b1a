package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/upstream"
)

// Replay re-issues a recorded flow's request and records the new exchange
// as its own flow tagged "replay".
func (e *Engine) Replay(ctx context.Context, src *flow.Flow) (*flow.Flow, error) {
	f := src.Snapshot()
	f.ID = flow.New().ID
	f.Timestamp = time.Now().UTC()
	f.ResponseStatus = 0
	f.ResponseReason = ""
	f.ResponseHeaders = nil
	f.ResponseBody = nil
	f.ResponseTruncatedBytes = 0
	f.DurationMs = 0
	f.Intercepted = false
	f.Modified = false
	f.Error = ""
	f.AddTag("replay")

	var body *bytes.Reader
	if len(f.RequestBody) > 0 {
		body = bytes.NewReader(f.RequestBody)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, f.Method, f.URL(), body)
	if err != nil {
		return nil, err
	}
	req.Header = f.RequestHeaders.ToHTTP()
	req.ContentLength = int64(len(f.RequestBody))
	if req.ContentLength > 0 {
		req.Header.Set("Content-Length", strconv.FormatInt(req.ContentLength, 10))
	}

	start := time.Now()
	resp, err := e.client.Do(ctx, req, upstream.RequestOptions{})
	if err != nil {
		f.Error = err.Error()
		f.DurationMs = time.Since(start).Milliseconds()
		e.record(f)
		return f, nil
	}
	defer resp.Body.Close()

	f.ResponseStatus = resp.StatusCode
	f.ResponseReason = statusReason(resp.Status)
	f.ResponseHeaders = flow.HeaderFromHTTP(resp.Header)

	capture := &bodyCapture{capBytes: e.opts.BodySizeCap}
	if _, err := io.Copy(capture, resp.Body); err != nil {
		f.Error = err.Error()
	}
	f.ResponseBody = capture.buf.Bytes()
	f.ResponseTruncatedBytes = capture.overflow
	f.Truncated = capture.overflow > 0
	f.DurationMs = time.Since(start).Milliseconds()

	e.record(f)
	return f, nil
}
