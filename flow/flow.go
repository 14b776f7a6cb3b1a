package flow

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// WebSocketMessage is one frame recorded on a spliced WebSocket connection.
type WebSocketMessage struct {
	Opcode     int       `json:"opcode"` // 1 text, 2 binary, 8 close
	FromClient bool      `json:"from_client"`
	Payload    []byte    `json:"payload"`
	Truncated  bool      `json:"truncated"`
	Timestamp  time.Time `json:"timestamp"`
}

// Flow is one recorded client<->upstream transaction. It is created when a
// request line arrives, mutated by rules and interception, finalized when
// the response is fully received (or an error recorded), and immutable after
// recording.
type Flow struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Scheme string `json:"scheme"` // http, https, ws, wss
	Method string `json:"method"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Path   string `json:"path"`
	Query  string `json:"query"`

	RequestHeaders        Header `json:"request_headers"`
	RequestBody           []byte `json:"request_body"`
	RequestTruncatedBytes int64  `json:"request_truncated_bytes"`

	ResponseStatus         int    `json:"response_status"`
	ResponseReason         string `json:"response_reason"`
	ResponseHeaders        Header `json:"response_headers"`
	ResponseBody           []byte `json:"response_body"`
	ResponseTruncatedBytes int64  `json:"response_truncated_bytes"`

	DurationMs  int64    `json:"duration_ms"`
	Intercepted bool     `json:"intercepted"`
	Modified    bool     `json:"modified"`
	Truncated   bool     `json:"truncated"`
	Tags        []string `json:"tags"`
	IsWebSocket bool     `json:"is_websocket"`
	Error       string   `json:"error,omitempty"`

	Messages []WebSocketMessage `json:"messages,omitempty"`

	msgMu sync.Mutex
	done  chan struct{}
}

// AddMessage appends a WebSocket frame record. Safe for concurrent use by
// the two splice directions.
func (f *Flow) AddMessage(msg WebSocketMessage) {
	f.msgMu.Lock()
	f.Messages = append(f.Messages, msg)
	f.msgMu.Unlock()
}

// New creates a Flow stamped with a fresh id and the current time.
func New() *Flow {
	return &Flow{
		ID:        uuid.NewV4(),
		Timestamp: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the flow is finished.
func (f *Flow) Done() <-chan struct{} {
	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}

// Finish marks the flow as complete.
func (f *Flow) Finish() {
	if f.done != nil {
		select {
		case <-f.done:
		default:
			close(f.done)
		}
	}
}

// URL renders scheme://host[:port]path?query. Default ports are omitted.
func (f *Flow) URL() string {
	hostport := f.Host
	if f.Port != 0 && !isDefaultPort(f.Scheme, f.Port) {
		hostport = fmt.Sprintf("%s:%d", f.Host, f.Port)
	}
	u := url.URL{
		Scheme:   f.Scheme,
		Host:     hostport,
		Path:     f.Path,
		RawQuery: f.Query,
	}
	return u.String()
}

func isDefaultPort(scheme string, port int) bool {
	switch scheme {
	case "http", "ws":
		return port == 80
	case "https", "wss":
		return port == 443
	}
	return false
}

// AddTag appends a tag if not already present.
func (f *Flow) AddTag(tag string) {
	for _, t := range f.Tags {
		if t == tag {
			return
		}
	}
	f.Tags = append(f.Tags, tag)
}

// Snapshot returns a deep copy safe to hand to another goroutine while the
// original keeps mutating.
func (f *Flow) Snapshot() *Flow {
	f.msgMu.Lock()
	messages := append([]WebSocketMessage(nil), f.Messages...)
	f.msgMu.Unlock()

	return &Flow{
		ID:                     f.ID,
		Timestamp:              f.Timestamp,
		Scheme:                 f.Scheme,
		Method:                 f.Method,
		Host:                   f.Host,
		Port:                   f.Port,
		Path:                   f.Path,
		Query:                  f.Query,
		RequestHeaders:         f.RequestHeaders.Clone(),
		RequestBody:            append([]byte(nil), f.RequestBody...),
		RequestTruncatedBytes:  f.RequestTruncatedBytes,
		ResponseStatus:         f.ResponseStatus,
		ResponseReason:         f.ResponseReason,
		ResponseHeaders:        f.ResponseHeaders.Clone(),
		ResponseBody:           append([]byte(nil), f.ResponseBody...),
		ResponseTruncatedBytes: f.ResponseTruncatedBytes,
		DurationMs:             f.DurationMs,
		Intercepted:            f.Intercepted,
		Modified:               f.Modified,
		Truncated:              f.Truncated,
		Tags:                   append([]string(nil), f.Tags...),
		IsWebSocket:            f.IsWebSocket,
		Error:                  f.Error,
		Messages:               messages,
	}
}

func (f *Flow) MarshalJSON() ([]byte, error) {
	type alias Flow
	return json.Marshal((*alias)(f))
}
