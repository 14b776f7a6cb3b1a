package storage_test

import (
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/storage"
)

func openStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := storage.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleFlow(method, host, path string, status int) *storage.FlowRecord {
	f := flow.New()
	f.Scheme = "https"
	f.Method = method
	f.Host = host
	f.Port = 443
	f.Path = path
	f.ResponseStatus = status
	f.RequestHeaders = flow.Header{{Name: "Accept", Value: "*/*"}}
	f.ResponseHeaders = flow.Header{{Name: "Content-Type", Value: "text/html"}}
	return storage.NewFlowRecord(f)
}

func TestFlowPutGetRoundTrip(t *testing.T) {
	store := openStore(t)

	rec := sampleFlow("GET", "example.test", "/a", 200)
	rec.RequestBody = []byte("req")
	rec.ResponseBody = []byte("resp")
	rec.Tags = []string{"one"}
	require.NoError(t, store.PutFlow(rec))

	got, err := store.GetFlow(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.URL, got.URL)
	assert.Equal(t, []byte("req"), got.RequestBody)
	assert.Equal(t, rec.RequestHeaders, got.RequestHeaders)
	assert.Equal(t, []string{"one"}, got.Tags)
}

func TestFlowFilters(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.PutFlow(sampleFlow("GET", "a.test", "/x", 200)))
	require.NoError(t, store.PutFlow(sampleFlow("POST", "a.test", "/y", 404)))
	require.NoError(t, store.PutFlow(sampleFlow("GET", "b.test", "/z", 200)))

	recs, total, err := store.ListFlows(storage.FlowFilters{Method: "GET"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, recs, 2)

	recs, _, err = store.ListFlows(storage.FlowFilters{Host: "b.test"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, _, err = store.ListFlows(storage.FlowFilters{StatusCode: 404})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, "POST", recs[0].Method)
}

func TestFlowTagAndClear(t *testing.T) {
	store := openStore(t)

	rec := sampleFlow("GET", "a.test", "/x", 200)
	require.NoError(t, store.PutFlow(rec))

	require.NoError(t, store.TagFlow(rec.ID, []string{"interesting", "interesting"}))
	got, err := store.GetFlow(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"interesting"}, got.Tags)

	require.NoError(t, store.ClearFlows())
	_, _, err = store.ListFlows(storage.FlowFilters{})
	require.NoError(t, err)
	_, err = store.GetFlow(rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRuleCRUDAndToggle(t *testing.T) {
	store := openStore(t)

	now := time.Now().UTC()
	rec := &storage.RuleRecord{
		ID:           uuid.NewV4().String(),
		Name:         "block admin",
		Enabled:      true,
		Priority:     1,
		MatchType:    "url",
		MatchPattern: "/admin",
		ActionType:   "block",
		ApplyTo:      "request",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.PutRule(rec))

	toggled, err := store.ToggleRule(rec.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Enabled)

	patched, err := store.PatchRule(rec.ID, map[string]any{"priority": 9})
	require.NoError(t, err)
	assert.Equal(t, 9, patched.Priority)

	require.NoError(t, store.DeleteRule(rec.ID))
	_, err = store.GetRule(rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRuleListOrder(t *testing.T) {
	store := openStore(t)

	base := time.Now().UTC()
	for i, priority := range []int{5, 1, 3} {
		require.NoError(t, store.PutRule(&storage.RuleRecord{
			ID:           uuid.NewV4().String(),
			Name:         "r",
			MatchType:    "url",
			MatchPattern: "/",
			ActionType:   "block",
			Priority:     priority,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
			UpdatedAt:    base,
		}))
	}

	rules, err := store.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, 1, rules[0].Priority)
	assert.Equal(t, 3, rules[1].Priority)
	assert.Equal(t, 5, rules[2].Priority)
}

func TestIssueDeduplication(t *testing.T) {
	store := openStore(t)

	issue := &storage.ScanIssue{
		ID:           uuid.NewV4().String(),
		ScanID:       "scan-1",
		IssueType:    "xss",
		URL:          "https://example.test/?q=1",
		Parameter:    "q",
		Evidence:     "probe",
		Title:        "XSS",
		DiscoveredAt: time.Now().UTC(),
		LastSeen:     time.Now().UTC(),
	}
	created, err := store.SaveIssue(issue)
	require.NoError(t, err)
	assert.True(t, created)

	dup := *issue
	dup.ID = uuid.NewV4().String()
	dup.ScanID = "scan-2"
	created, err = store.SaveIssue(&dup)
	require.NoError(t, err)
	assert.False(t, created, "identical (check, url, parameter, evidence) must dedupe")

	issues, err := store.ListIssues("")
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestSpiderURLHelpers(t *testing.T) {
	store := openStore(t)

	u := &storage.SpiderURL{
		ID:           uuid.NewV4().String(),
		SessionID:    "s1",
		URL:          "http://a.test/",
		Status:       "queued",
		DiscoveredAt: time.Now().UTC(),
	}
	require.NoError(t, store.PutURL(u))

	has, err := store.HasURL("s1", "http://a.test/")
	require.NoError(t, err)
	assert.True(t, has)

	got, err := store.GetURL("s1", "http://a.test/")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = store.GetURL("s1", "http://missing.test/")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
