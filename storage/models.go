// Package storage defines the persisted data model and the store
// interfaces consumed by the engines, plus a sqlite implementation.
package storage

import (
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/rules"
)

// FlowRecord is one finalized flow.
type FlowRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`

	Scheme string `gorm:"size:10" json:"scheme"`
	Method string `gorm:"size:10;index" json:"method"`
	Host   string `gorm:"size:255;index" json:"host"`
	Port   int    `json:"port"`
	Path   string `json:"path"`
	Query  string `json:"query"`
	URL    string `json:"url"`

	RequestHeaders        flow.Header `gorm:"serializer:json" json:"request_headers"`
	RequestBody           []byte      `json:"request_body"`
	RequestTruncatedBytes int64       `json:"request_truncated_bytes"`

	ResponseStatus         int         `gorm:"index" json:"response_status"`
	ResponseReason         string      `json:"response_reason"`
	ResponseHeaders        flow.Header `gorm:"serializer:json" json:"response_headers"`
	ResponseBody           []byte      `json:"response_body"`
	ResponseTruncatedBytes int64       `json:"response_truncated_bytes"`

	DurationMs  int64    `json:"duration_ms"`
	Intercepted bool     `json:"intercepted"`
	Modified    bool     `json:"modified"`
	Truncated   bool     `json:"truncated"`
	IsWebSocket bool     `json:"is_websocket"`
	Tags        []string `gorm:"serializer:json" json:"tags"`
	Error       string   `json:"error,omitempty"`

	Messages []flow.WebSocketMessage `gorm:"serializer:json" json:"messages,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewFlowRecord converts a finalized flow for persistence.
func NewFlowRecord(f *flow.Flow) *FlowRecord {
	return &FlowRecord{
		ID:                     f.ID.String(),
		Timestamp:              f.Timestamp,
		Scheme:                 f.Scheme,
		Method:                 f.Method,
		Host:                   f.Host,
		Port:                   f.Port,
		Path:                   f.Path,
		Query:                  f.Query,
		URL:                    f.URL(),
		RequestHeaders:         f.RequestHeaders,
		RequestBody:            f.RequestBody,
		RequestTruncatedBytes:  f.RequestTruncatedBytes,
		ResponseStatus:         f.ResponseStatus,
		ResponseReason:         f.ResponseReason,
		ResponseHeaders:        f.ResponseHeaders,
		ResponseBody:           f.ResponseBody,
		ResponseTruncatedBytes: f.ResponseTruncatedBytes,
		DurationMs:             f.DurationMs,
		Intercepted:            f.Intercepted,
		Modified:               f.Modified,
		Truncated:              f.Truncated,
		IsWebSocket:            f.IsWebSocket,
		Tags:                   f.Tags,
		Error:                  f.Error,
		Messages:               f.Messages,
	}
}

// ToFlow rehydrates the record into a flow for analyzers.
func (r *FlowRecord) ToFlow() *flow.Flow {
	f := flow.New()
	if id, err := uuid.FromString(r.ID); err == nil {
		f.ID = id
	}
	f.Timestamp = r.Timestamp
	f.Scheme = r.Scheme
	f.Method = r.Method
	f.Host = r.Host
	f.Port = r.Port
	f.Path = r.Path
	f.Query = r.Query
	f.RequestHeaders = r.RequestHeaders
	f.RequestBody = r.RequestBody
	f.RequestTruncatedBytes = r.RequestTruncatedBytes
	f.ResponseStatus = r.ResponseStatus
	f.ResponseReason = r.ResponseReason
	f.ResponseHeaders = r.ResponseHeaders
	f.ResponseBody = r.ResponseBody
	f.ResponseTruncatedBytes = r.ResponseTruncatedBytes
	f.DurationMs = r.DurationMs
	f.Intercepted = r.Intercepted
	f.Modified = r.Modified
	f.Truncated = r.Truncated
	f.IsWebSocket = r.IsWebSocket
	f.Tags = r.Tags
	f.Error = r.Error
	f.Messages = r.Messages
	return f
}

// RuleRecord persists one mutation rule.
type RuleRecord struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:255" json:"name"`
	Enabled      bool      `json:"enabled"`
	Priority     int       `json:"priority"`
	MatchType    string    `gorm:"size:20" json:"match_type"`
	MatchPattern string    `json:"match_pattern"`
	MatchRegex   bool      `json:"match_regex"`
	ActionType   string    `gorm:"size:20" json:"action_type"`
	ActionTarget string    `json:"action_target"`
	ActionValue  string    `json:"action_value"`
	ApplyTo      string    `gorm:"size:20;default:request" json:"apply_to"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToRule converts to the engine's rule type.
func (r *RuleRecord) ToRule() rules.Rule {
	return rules.Rule{
		ID:           r.ID,
		Name:         r.Name,
		Enabled:      r.Enabled,
		Priority:     r.Priority,
		MatchType:    r.MatchType,
		MatchPattern: r.MatchPattern,
		MatchRegex:   r.MatchRegex,
		ActionType:   r.ActionType,
		ActionTarget: r.ActionTarget,
		ActionValue:  r.ActionValue,
		ApplyTo:      r.ApplyTo,
	}
}

// IntruderPosition is a byte range in the attack template.
type IntruderPosition struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Index int `json:"index"`
}

// IntruderAttack is a configured payload attack.
type IntruderAttack struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	Name   string `gorm:"size:255" json:"name"`
	Status string `gorm:"size:20;default:configured" json:"status"`

	Method          string            `gorm:"size:10" json:"method"`
	URLTemplate     string            `json:"url_template"`
	HeadersTemplate map[string]string `gorm:"serializer:json" json:"headers_template"`
	BodyTemplate    string            `json:"body_template"`

	Positions   []IntruderPosition `gorm:"serializer:json" json:"positions"`
	PayloadSets [][]string         `gorm:"serializer:json" json:"payload_sets"`
	Strategy    string             `gorm:"size:20" json:"strategy"`

	Threads         int  `gorm:"default:1" json:"threads"`
	DelayMs         int  `json:"delay_ms"`
	TimeoutSeconds  int  `gorm:"default:30" json:"timeout_seconds"`
	FollowRedirects bool `json:"follow_redirects"`

	TotalRequests     int    `json:"total_requests"`
	CompletedRequests int    `json:"completed_requests"`
	ErrorMessage      string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IntruderResult is one executed attack request.
type IntruderResult struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	AttackID      string `gorm:"size:36;index" json:"attack_id"`
	PositionIndex int    `json:"position_index"`

	Payloads   []string `gorm:"serializer:json" json:"payloads"`
	RequestURL string   `json:"request_url"`

	ResponseStatus  int         `json:"response_status"`
	ResponseLength  int         `json:"response_length"`
	ResponseTimeMs  int64       `json:"response_time_ms"`
	ResponseBody    []byte      `json:"response_body,omitempty"`
	ResponseHeaders flow.Header `gorm:"serializer:json" json:"response_headers,omitempty"`
	Error           string      `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// SpiderSession is one crawl session.
type SpiderSession struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	Name   string `gorm:"size:255" json:"name"`
	Status string `gorm:"size:20;default:configured" json:"status"`

	StartURLs           []string `gorm:"serializer:json" json:"start_urls"`
	IncludePatterns     []string `gorm:"serializer:json" json:"include_patterns"`
	ExcludePatterns     []string `gorm:"serializer:json" json:"exclude_patterns"`
	FollowExternalLinks bool     `json:"follow_external_links"`
	RespectRobotsTxt    bool     `gorm:"default:true" json:"respect_robots_txt"`

	MaxDepth int `gorm:"default:3" json:"max_depth"`
	MaxPages int `gorm:"default:100" json:"max_pages"`
	Threads  int `gorm:"default:2" json:"threads"`
	DelayMs  int `gorm:"default:200" json:"delay_ms"`

	PagesCrawled int    `json:"pages_crawled"`
	PagesQueued  int    `json:"pages_queued"`
	ErrorCount   int    `json:"error_count"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SpiderURL is one frontier entry.
type SpiderURL struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	SessionID string `gorm:"size:36;index" json:"session_id"`

	URL       string `gorm:"index" json:"url"`
	Depth     int    `json:"depth"`
	Status    string `gorm:"size:20;default:queued" json:"status"` // queued, crawling, crawled, error, skipped
	SourceURL string `json:"source_url,omitempty"`

	ResponseStatus int    `json:"response_status,omitempty"`
	ContentType    string `gorm:"size:100" json:"content_type,omitempty"`
	ContentLength  int    `json:"content_length,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	Title          string `json:"title,omitempty"`
	LinksFound     int    `json:"links_found"`
	FormsFound     int    `json:"forms_found"`
	ErrorMessage   string `json:"error_message,omitempty"`

	DiscoveredAt time.Time  `json:"discovered_at"`
	CrawledAt    *time.Time `json:"crawled_at,omitempty"`
}

// ScanConfiguration is a reusable set of enabled checks.
type ScanConfiguration struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	Name          string            `gorm:"size:255" json:"name"`
	Description   string            `json:"description,omitempty"`
	EnabledChecks []string          `gorm:"serializer:json" json:"enabled_checks"`
	Settings      map[string]string `gorm:"serializer:json" json:"settings"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Scan is one scan session.
type Scan struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	Name     string `gorm:"size:255" json:"name"`
	ConfigID string `gorm:"size:36" json:"config_id,omitempty"`
	TargetID string `gorm:"size:36" json:"target_id,omitempty"`
	Status   string `gorm:"size:20;default:configured" json:"status"`

	SourceType      string   `gorm:"size:20;default:url" json:"source_type"` // target, request, url
	SourceRequestID string   `gorm:"size:36" json:"source_request_id,omitempty"`
	SourceURLs      []string `gorm:"serializer:json" json:"source_urls"`
	EnabledChecks   []string `gorm:"serializer:json" json:"enabled_checks"`

	TotalChecks     int    `json:"total_checks"`
	CompletedChecks int    `json:"completed_checks"`
	IssuesFound     int    `json:"issues_found"`
	ErrorMessage    string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ScanIssue is one discovered issue.
type ScanIssue struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	ScanID string `gorm:"size:36;index" json:"scan_id"`

	IssueType  string `gorm:"size:50;index" json:"issue_type"`
	Severity   string `gorm:"size:20;default:info" json:"severity"`     // critical, high, medium, low, info
	Confidence string `gorm:"size:20;default:tentative" json:"confidence"` // certain, firm, tentative

	URL       string `gorm:"index" json:"url"`
	Method    string `gorm:"size:10;default:GET" json:"method"`
	Parameter string `json:"parameter,omitempty"`
	Location  string `gorm:"size:20" json:"location,omitempty"` // body, header, query, cookie

	Evidence string `json:"evidence,omitempty"`
	Payload  string `json:"payload,omitempty"`

	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
	References  []string `gorm:"serializer:json" json:"references"`

	Status string `gorm:"size:20;default:new" json:"status"` // new, confirmed, false_positive, fixed
	Notes  string `json:"notes,omitempty"`

	DiscoveredAt time.Time `json:"discovered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Collection groups saved requests.
type Collection struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:255" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CollectionItem is one saved request in a collection.
type CollectionItem struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	CollectionID string    `gorm:"size:36;index" json:"collection_id"`
	FlowID       string    `gorm:"size:36" json:"flow_id"`
	Name         string    `gorm:"size:255" json:"name"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Target is a host observed in recorded traffic.
type Target struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Host      string    `gorm:"size:255;uniqueIndex" json:"host"`
	Scheme    string    `gorm:"size:10" json:"scheme"`
	Port      int       `json:"port"`
	InScope   bool      `gorm:"default:true" json:"in_scope"`
	Notes     string    `json:"notes,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// SiteMapNode is one path node of a target's site map.
type SiteMapNode struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	TargetID string `gorm:"size:36;index" json:"target_id"`

	Path     string `gorm:"index" json:"path"`
	NodeType string `gorm:"size:10" json:"node_type"` // folder, file

	Methods     []string `gorm:"serializer:json" json:"methods"`
	StatusCodes []int    `gorm:"serializer:json" json:"status_codes"`
	Parameters  []string `gorm:"serializer:json" json:"parameters"`

	RequestCount int       `json:"request_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// SequencerAnalysis is one saved token analysis.
type SequencerAnalysis struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:255" json:"name"`
	TokenCount  int       `json:"token_count"`
	ResultJSON  string    `json:"result_json"`
	CreatedAt   time.Time `json:"created_at"`
}
