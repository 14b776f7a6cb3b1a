package sitemap_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	uuid "github.com/satori/go.uuid"

	"github.com/vsthakur101/webapi-moderator/sitemap"
	"github.com/vsthakur101/webapi-moderator/storage"
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

func record(method, host, path, query string, status int) *storage.FlowRecord {
	return &storage.FlowRecord{
		ID:             uuid.NewV4().String(),
		Timestamp:      time.Now().UTC(),
		Scheme:         "https",
		Method:         method,
		Host:           host,
		Port:           443,
		Path:           path,
		Query:          query,
		URL:            "https://" + host + path,
		ResponseStatus: status,
	}
}

func TestObserveBuildsAncestorChain(t *testing.T) {
	c := qt.New(t)

	store := openStore(t)
	b := sitemap.NewBuilder(store)

	c.Assert(b.Observe(record("GET", "example.test", "/a/b/c", "x=1", 200)), qt.IsNil)

	target, err := store.GetTargetByHost("example.test")
	c.Assert(err, qt.IsNil)

	nodes, err := store.ListNodes(target.ID)
	c.Assert(err, qt.IsNil)

	paths := make(map[string]*storage.SiteMapNode)
	for _, n := range nodes {
		paths[n.Path] = n
	}

	c.Assert(paths, qt.HasLen, 3)
	c.Assert(paths["/a"].NodeType, qt.Equals, "folder")
	c.Assert(paths["/a/b"].NodeType, qt.Equals, "folder")

	leaf := paths["/a/b/c"]
	c.Assert(leaf.NodeType, qt.Equals, "file")
	c.Assert(leaf.Methods, qt.DeepEquals, []string{"GET"})
	c.Assert(leaf.StatusCodes, qt.DeepEquals, []int{200})
	c.Assert(leaf.Parameters, qt.DeepEquals, []string{"x"})
	c.Assert(leaf.RequestCount, qt.Equals, 1)
}

func TestObserveAccumulatesOnLeaf(t *testing.T) {
	c := qt.New(t)

	store := openStore(t)
	b := sitemap.NewBuilder(store)

	c.Assert(b.Observe(record("GET", "example.test", "/api/users", "page=1", 200)), qt.IsNil)
	c.Assert(b.Observe(record("POST", "example.test", "/api/users", "", 201)), qt.IsNil)

	target, _ := store.GetTargetByHost("example.test")
	leaf, err := store.GetNode(target.ID, "/api/users")
	c.Assert(err, qt.IsNil)

	c.Assert(leaf.Methods, qt.DeepEquals, []string{"GET", "POST"})
	c.Assert(leaf.StatusCodes, qt.DeepEquals, []int{200, 201})
	c.Assert(leaf.RequestCount, qt.Equals, 2)
}

func TestRebuildIsIdempotent(t *testing.T) {
	c := qt.New(t)

	store := openStore(t)
	b := sitemap.NewBuilder(store)

	recs := []*storage.FlowRecord{
		record("GET", "example.test", "/a", "", 200),
		record("GET", "example.test", "/a/b", "", 200),
	}
	for _, rec := range recs {
		c.Assert(store.PutFlow(rec), qt.IsNil)
		c.Assert(b.Observe(rec), qt.IsNil)
	}

	c.Assert(b.Rebuild(store), qt.IsNil)
	c.Assert(b.Rebuild(store), qt.IsNil)

	target, _ := store.GetTargetByHost("example.test")
	nodes, err := store.ListNodes(target.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(nodes, qt.HasLen, 2)

	leaf, _ := store.GetNode(target.ID, "/a")
	c.Assert(leaf.RequestCount, qt.Equals, 1)
}

func TestTreeHierarchy(t *testing.T) {
	c := qt.New(t)

	store := openStore(t)
	b := sitemap.NewBuilder(store)

	c.Assert(b.Observe(record("GET", "example.test", "/a/b", "", 200)), qt.IsNil)
	c.Assert(b.Observe(record("GET", "example.test", "/a/c", "", 404)), qt.IsNil)

	target, _ := store.GetTargetByHost("example.test")
	tree, err := b.Tree(target.ID)
	c.Assert(err, qt.IsNil)

	c.Assert(tree, qt.HasLen, 1)
	c.Assert(tree[0].Path, qt.Equals, "/a")
	c.Assert(tree[0].Children, qt.HasLen, 2)
}

func TestRootPathContributesSingleNode(t *testing.T) {
	c := qt.New(t)

	store := openStore(t)
	b := sitemap.NewBuilder(store)

	c.Assert(b.Observe(record("GET", "example.test", "/", "", 200)), qt.IsNil)

	target, _ := store.GetTargetByHost("example.test")
	nodes, err := store.ListNodes(target.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(nodes, qt.HasLen, 1)
	c.Assert(nodes[0].Path, qt.Equals, "/")
}
