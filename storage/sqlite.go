package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// SQLStore is the gorm-backed Store.
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// Open opens (and migrates) the database at dsn. An empty dsn uses a local
// file.
func Open(dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = "webapi_moderator.db"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(
		&FlowRecord{},
		&RuleRecord{},
		&IntruderAttack{},
		&IntruderResult{},
		&SpiderSession{},
		&SpiderURL{},
		&Scan{},
		&ScanIssue{},
		&ScanConfiguration{},
		&Collection{},
		&CollectionItem{},
		&Target{},
		&SiteMapNode{},
		&SequencerAnalysis{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("dsn", dsn).Info("storage opened")
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// flows

func (s *SQLStore) PutFlow(rec *FlowRecord) error {
	return s.db.Create(rec).Error
}

func (s *SQLStore) GetFlow(id string) (*FlowRecord, error) {
	var rec FlowRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *SQLStore) ListFlows(f FlowFilters) ([]*FlowRecord, int64, error) {
	q := s.db.Model(&FlowRecord{})
	if f.Method != "" {
		q = q.Where("method = ?", f.Method)
	}
	if f.Host != "" {
		q = q.Where("host LIKE ?", "%"+f.Host+"%")
	}
	if f.StatusCode != 0 {
		q = q.Where("response_status = ?", f.StatusCode)
	}
	if f.Search != "" {
		q = q.Where("url LIKE ?", "%"+f.Search+"%")
	}
	if f.IsWebSocket != nil {
		q = q.Where("is_web_socket = ?", *f.IsWebSocket)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var recs []*FlowRecord
	err := q.Order("timestamp DESC").Limit(limit).Offset(f.Offset).Find(&recs).Error
	return recs, total, err
}

func (s *SQLStore) DeleteFlow(id string) error {
	return s.db.Delete(&FlowRecord{}, "id = ?", id).Error
}

func (s *SQLStore) ClearFlows() error {
	return s.db.Where("1 = 1").Delete(&FlowRecord{}).Error
}

func (s *SQLStore) TagFlow(id string, tags []string) error {
	rec, err := s.GetFlow(id)
	if err != nil {
		return err
	}
	for _, t := range tags {
		found := false
		for _, existing := range rec.Tags {
			if existing == t {
				found = true
				break
			}
		}
		if !found {
			rec.Tags = append(rec.Tags, t)
		}
	}
	return s.db.Save(rec).Error
}

// rules

func (s *SQLStore) ListRules() ([]*RuleRecord, error) {
	var rs []*RuleRecord
	err := s.db.Order("priority ASC, created_at ASC").Find(&rs).Error
	return rs, err
}

func (s *SQLStore) GetRule(id string) (*RuleRecord, error) {
	var r RuleRecord
	if err := s.db.First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (s *SQLStore) PutRule(r *RuleRecord) error {
	return s.db.Save(r).Error
}

func (s *SQLStore) PatchRule(id string, fields map[string]any) (*RuleRecord, error) {
	r, err := s.GetRule(id)
	if err != nil {
		return nil, err
	}
	fields["updated_at"] = time.Now().UTC()
	if err := s.db.Model(r).Updates(fields).Error; err != nil {
		return nil, err
	}
	return s.GetRule(id)
}

func (s *SQLStore) DeleteRule(id string) error {
	return s.db.Delete(&RuleRecord{}, "id = ?", id).Error
}

func (s *SQLStore) ToggleRule(id string) (*RuleRecord, error) {
	r, err := s.GetRule(id)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(r).Update("enabled", !r.Enabled).Error; err != nil {
		return nil, err
	}
	return s.GetRule(id)
}

// intruder

func (s *SQLStore) ListAttacks() ([]*IntruderAttack, error) {
	var as []*IntruderAttack
	err := s.db.Order("created_at DESC").Find(&as).Error
	return as, err
}

func (s *SQLStore) GetAttack(id string) (*IntruderAttack, error) {
	var a IntruderAttack
	if err := s.db.First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *SQLStore) PutAttack(a *IntruderAttack) error {
	return s.db.Create(a).Error
}

func (s *SQLStore) UpdateAttack(a *IntruderAttack) error {
	return s.db.Save(a).Error
}

func (s *SQLStore) DeleteAttack(id string) error {
	if err := s.ClearResults(id); err != nil {
		return err
	}
	return s.db.Delete(&IntruderAttack{}, "id = ?", id).Error
}

func (s *SQLStore) SaveResult(r *IntruderResult) error {
	return s.db.Create(r).Error
}

func (s *SQLStore) ListResults(attackID string, limit, offset int) ([]*IntruderResult, int64, error) {
	q := s.db.Model(&IntruderResult{}).Where("attack_id = ?", attackID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 100
	}
	var rs []*IntruderResult
	err := q.Order("position_index ASC").Limit(limit).Offset(offset).Find(&rs).Error
	return rs, total, err
}

func (s *SQLStore) ClearResults(attackID string) error {
	return s.db.Delete(&IntruderResult{}, "attack_id = ?", attackID).Error
}

// spider

func (s *SQLStore) ListSessions() ([]*SpiderSession, error) {
	var ss []*SpiderSession
	err := s.db.Order("created_at DESC").Find(&ss).Error
	return ss, err
}

func (s *SQLStore) GetSession(id string) (*SpiderSession, error) {
	var sess SpiderSession
	if err := s.db.First(&sess, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *SQLStore) PutSession(sess *SpiderSession) error {
	return s.db.Create(sess).Error
}

func (s *SQLStore) UpdateSession(sess *SpiderSession) error {
	return s.db.Save(sess).Error
}

func (s *SQLStore) DeleteSession(id string) error {
	if err := s.db.Delete(&SpiderURL{}, "session_id = ?", id).Error; err != nil {
		return err
	}
	return s.db.Delete(&SpiderSession{}, "id = ?", id).Error
}

func (s *SQLStore) PutURL(u *SpiderURL) error {
	return s.db.Create(u).Error
}

func (s *SQLStore) UpdateURL(u *SpiderURL) error {
	return s.db.Save(u).Error
}

func (s *SQLStore) GetURL(sessionID, url string) (*SpiderURL, error) {
	var u SpiderURL
	if err := s.db.First(&u, "session_id = ? AND url = ?", sessionID, url).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *SQLStore) HasURL(sessionID, url string) (bool, error) {
	var count int64
	err := s.db.Model(&SpiderURL{}).
		Where("session_id = ? AND url = ?", sessionID, url).
		Count(&count).Error
	return count > 0, err
}

func (s *SQLStore) ListURLs(sessionID, status string, limit, offset int) ([]*SpiderURL, int64, error) {
	q := s.db.Model(&SpiderURL{}).Where("session_id = ?", sessionID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 100
	}
	var us []*SpiderURL
	err := q.Order("depth ASC, discovered_at ASC").Limit(limit).Offset(offset).Find(&us).Error
	return us, total, err
}

// scans

func (s *SQLStore) ListScans() ([]*Scan, error) {
	var ss []*Scan
	err := s.db.Order("created_at DESC").Find(&ss).Error
	return ss, err
}

func (s *SQLStore) GetScan(id string) (*Scan, error) {
	var sc Scan
	if err := s.db.First(&sc, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

func (s *SQLStore) PutScan(sc *Scan) error {
	return s.db.Create(sc).Error
}

func (s *SQLStore) UpdateScan(sc *Scan) error {
	return s.db.Save(sc).Error
}

func (s *SQLStore) DeleteScan(id string) error {
	if err := s.db.Delete(&ScanIssue{}, "scan_id = ?", id).Error; err != nil {
		return err
	}
	return s.db.Delete(&Scan{}, "id = ?", id).Error
}

// SaveIssue dedupes on (issue_type, url, parameter, evidence); repeated
// findings update last_seen instead of inserting.
func (s *SQLStore) SaveIssue(i *ScanIssue) (bool, error) {
	var existing ScanIssue
	err := s.db.Where(
		"issue_type = ? AND url = ? AND parameter = ? AND evidence = ?",
		i.IssueType, i.URL, i.Parameter, i.Evidence,
	).First(&existing).Error
	if err == nil {
		return false, s.db.Model(&existing).Update("last_seen", time.Now().UTC()).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	return true, s.db.Create(i).Error
}

func (s *SQLStore) ListIssues(scanID string) ([]*ScanIssue, error) {
	var is []*ScanIssue
	q := s.db.Order("discovered_at DESC")
	if scanID != "" {
		q = q.Where("scan_id = ?", scanID)
	}
	err := q.Find(&is).Error
	return is, err
}

func (s *SQLStore) UpdateIssueStatus(id, status, notes string) (*ScanIssue, error) {
	var i ScanIssue
	if err := s.db.First(&i, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	updates := map[string]any{"status": status}
	if notes != "" {
		updates["notes"] = notes
	}
	if err := s.db.Model(&i).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *SQLStore) ListScanConfigs() ([]*ScanConfiguration, error) {
	var cs []*ScanConfiguration
	err := s.db.Order("created_at DESC").Find(&cs).Error
	return cs, err
}

func (s *SQLStore) PutScanConfig(c *ScanConfiguration) error {
	return s.db.Save(c).Error
}

func (s *SQLStore) DeleteScanConfig(id string) error {
	return s.db.Delete(&ScanConfiguration{}, "id = ?", id).Error
}

// collections

func (s *SQLStore) ListCollections() ([]*Collection, error) {
	var cs []*Collection
	err := s.db.Order("created_at DESC").Find(&cs).Error
	return cs, err
}

func (s *SQLStore) GetCollection(id string) (*Collection, error) {
	var c Collection
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *SQLStore) PutCollection(c *Collection) error {
	return s.db.Save(c).Error
}

func (s *SQLStore) DeleteCollection(id string) error {
	if err := s.db.Delete(&CollectionItem{}, "collection_id = ?", id).Error; err != nil {
		return err
	}
	return s.db.Delete(&Collection{}, "id = ?", id).Error
}

func (s *SQLStore) PutItem(i *CollectionItem) error {
	return s.db.Create(i).Error
}

func (s *SQLStore) ListItems(collectionID string) ([]*CollectionItem, error) {
	var is []*CollectionItem
	err := s.db.Where("collection_id = ?", collectionID).Order("created_at ASC").Find(&is).Error
	return is, err
}

func (s *SQLStore) DeleteItem(id string) error {
	return s.db.Delete(&CollectionItem{}, "id = ?", id).Error
}

// targets

func (s *SQLStore) ListTargets() ([]*Target, error) {
	var ts []*Target
	err := s.db.Order("last_seen DESC").Find(&ts).Error
	return ts, err
}

func (s *SQLStore) GetTargetByHost(host string) (*Target, error) {
	var t Target
	if err := s.db.First(&t, "host = ?", host).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *SQLStore) PutTarget(t *Target) error {
	return s.db.Create(t).Error
}

func (s *SQLStore) UpdateTarget(t *Target) error {
	return s.db.Save(t).Error
}

func (s *SQLStore) DeleteTarget(id string) error {
	if err := s.ClearNodes(id); err != nil {
		return err
	}
	return s.db.Delete(&Target{}, "id = ?", id).Error
}

func (s *SQLStore) GetNode(targetID, path string) (*SiteMapNode, error) {
	var n SiteMapNode
	if err := s.db.First(&n, "target_id = ? AND path = ?", targetID, path).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (s *SQLStore) PutNode(n *SiteMapNode) error {
	return s.db.Create(n).Error
}

func (s *SQLStore) UpdateNode(n *SiteMapNode) error {
	return s.db.Save(n).Error
}

func (s *SQLStore) ListNodes(targetID string) ([]*SiteMapNode, error) {
	var ns []*SiteMapNode
	err := s.db.Where("target_id = ?", targetID).Order("path ASC").Find(&ns).Error
	return ns, err
}

func (s *SQLStore) ClearNodes(targetID string) error {
	return s.db.Delete(&SiteMapNode{}, "target_id = ?", targetID).Error
}

// sequencer

func (s *SQLStore) ListAnalyses() ([]*SequencerAnalysis, error) {
	var as []*SequencerAnalysis
	err := s.db.Order("created_at DESC").Find(&as).Error
	return as, err
}

func (s *SQLStore) PutAnalysis(a *SequencerAnalysis) error {
	return s.db.Create(a).Error
}

func (s *SQLStore) DeleteAnalysis(id string) error {
	return s.db.Delete(&SequencerAnalysis{}, "id = ?", id).Error
}
