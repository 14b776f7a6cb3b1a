package storage

// FlowFilters narrows flow listings.
type FlowFilters struct {
	Method      string
	Host        string
	StatusCode  int
	Search      string
	IsWebSocket *bool
	Limit       int
	Offset      int
}

// FlowStore persists finalized flows.
type FlowStore interface {
	PutFlow(rec *FlowRecord) error
	GetFlow(id string) (*FlowRecord, error)
	ListFlows(filters FlowFilters) ([]*FlowRecord, int64, error)
	DeleteFlow(id string) error
	ClearFlows() error
	TagFlow(id string, tags []string) error
}

// RuleStore persists mutation rules.
type RuleStore interface {
	ListRules() ([]*RuleRecord, error)
	GetRule(id string) (*RuleRecord, error)
	PutRule(r *RuleRecord) error
	PatchRule(id string, fields map[string]any) (*RuleRecord, error)
	DeleteRule(id string) error
	ToggleRule(id string) (*RuleRecord, error)
}

// IntruderStore persists attacks and their results.
type IntruderStore interface {
	ListAttacks() ([]*IntruderAttack, error)
	GetAttack(id string) (*IntruderAttack, error)
	PutAttack(a *IntruderAttack) error
	UpdateAttack(a *IntruderAttack) error
	DeleteAttack(id string) error
	SaveResult(r *IntruderResult) error
	ListResults(attackID string, limit, offset int) ([]*IntruderResult, int64, error)
	ClearResults(attackID string) error
}

// SpiderStore persists sessions and their URLs.
type SpiderStore interface {
	ListSessions() ([]*SpiderSession, error)
	GetSession(id string) (*SpiderSession, error)
	PutSession(s *SpiderSession) error
	UpdateSession(s *SpiderSession) error
	DeleteSession(id string) error
	PutURL(u *SpiderURL) error
	UpdateURL(u *SpiderURL) error
	GetURL(sessionID, url string) (*SpiderURL, error)
	HasURL(sessionID, url string) (bool, error)
	ListURLs(sessionID string, status string, limit, offset int) ([]*SpiderURL, int64, error)
}

// ScanStore persists scans, issues, and configurations. SaveIssue
// deduplicates on (issue_type, url, parameter, evidence), updating
// last_seen on repeats.
type ScanStore interface {
	ListScans() ([]*Scan, error)
	GetScan(id string) (*Scan, error)
	PutScan(s *Scan) error
	UpdateScan(s *Scan) error
	DeleteScan(id string) error
	SaveIssue(i *ScanIssue) (created bool, err error)
	ListIssues(scanID string) ([]*ScanIssue, error)
	UpdateIssueStatus(id, status, notes string) (*ScanIssue, error)
	ListScanConfigs() ([]*ScanConfiguration, error)
	PutScanConfig(c *ScanConfiguration) error
	DeleteScanConfig(id string) error
}

// CollectionStore persists collections and their items.
type CollectionStore interface {
	ListCollections() ([]*Collection, error)
	GetCollection(id string) (*Collection, error)
	PutCollection(c *Collection) error
	DeleteCollection(id string) error
	PutItem(i *CollectionItem) error
	ListItems(collectionID string) ([]*CollectionItem, error)
	DeleteItem(id string) error
}

// TargetStore persists targets and their site map nodes.
type TargetStore interface {
	ListTargets() ([]*Target, error)
	GetTargetByHost(host string) (*Target, error)
	PutTarget(t *Target) error
	UpdateTarget(t *Target) error
	DeleteTarget(id string) error
	GetNode(targetID, path string) (*SiteMapNode, error)
	PutNode(n *SiteMapNode) error
	UpdateNode(n *SiteMapNode) error
	ListNodes(targetID string) ([]*SiteMapNode, error)
	ClearNodes(targetID string) error
}

// SequencerStore persists saved token analyses.
type SequencerStore interface {
	ListAnalyses() ([]*SequencerAnalysis, error)
	PutAnalysis(a *SequencerAnalysis) error
	DeleteAnalysis(id string) error
}

// Store is the full persistence surface.
type Store interface {
	FlowStore
	RuleStore
	IntruderStore
	SpiderStore
	ScanStore
	CollectionStore
	TargetStore
	SequencerStore
	Close() error
}
