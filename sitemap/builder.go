// Package sitemap derives per-host path trees from recorded flows.
package sitemap

import (
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vsthakur101/webapi-moderator/storage"
)

// Builder maintains targets and their site map nodes.
type Builder struct {
	store storage.TargetStore
}

// NewBuilder creates a Builder over the target store.
func NewBuilder(store storage.TargetStore) *Builder {
	return &Builder{store: store}
}

// Observe folds one recorded flow into the site map. A path /a/b/c?x=1
// contributes nodes /a, /a/b, /a/b/c; methods, status codes, and query
// parameter names accumulate on the leaf.
func (b *Builder) Observe(rec *storage.FlowRecord) error {
	if rec.Host == "" {
		return nil
	}

	target, err := b.ensureTarget(rec)
	if err != nil {
		return err
	}

	paths := expandPaths(rec.Path)
	for i, p := range paths {
		leaf := i == len(paths)-1
		if err := b.touchNode(target.ID, p, leaf, rec); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) ensureTarget(rec *storage.FlowRecord) (*storage.Target, error) {
	now := time.Now().UTC()
	target, err := b.store.GetTargetByHost(rec.Host)
	if err == storage.ErrNotFound {
		target = &storage.Target{
			ID:        uuid.NewV4().String(),
			Host:      rec.Host,
			Scheme:    rec.Scheme,
			Port:      rec.Port,
			InScope:   true,
			FirstSeen: now,
			LastSeen:  now,
		}
		return target, b.store.PutTarget(target)
	}
	if err != nil {
		return nil, err
	}
	target.LastSeen = now
	return target, b.store.UpdateTarget(target)
}

func (b *Builder) touchNode(targetID, path string, leaf bool, rec *storage.FlowRecord) error {
	now := time.Now().UTC()
	node, err := b.store.GetNode(targetID, path)
	if err == storage.ErrNotFound {
		node = &storage.SiteMapNode{
			ID:        uuid.NewV4().String(),
			TargetID:  targetID,
			Path:      path,
			NodeType:  nodeType(leaf),
			FirstSeen: now,
			LastSeen:  now,
		}
		if leaf {
			fillLeaf(node, rec)
		}
		return b.store.PutNode(node)
	}
	if err != nil {
		return err
	}

	node.LastSeen = now
	if leaf {
		node.NodeType = "file"
		fillLeaf(node, rec)
	}
	return b.store.UpdateNode(node)
}

func nodeType(leaf bool) string {
	if leaf {
		return "file"
	}
	return "folder"
}

func fillLeaf(node *storage.SiteMapNode, rec *storage.FlowRecord) {
	node.Methods = lo.Uniq(append(node.Methods, rec.Method))
	if rec.ResponseStatus != 0 {
		node.StatusCodes = lo.Uniq(append(node.StatusCodes, rec.ResponseStatus))
	}
	node.Parameters = lo.Uniq(append(node.Parameters, paramNames(rec.Query)...))
	node.RequestCount++
}

func paramNames(query string) []string {
	if query == "" {
		return nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	return names
}

// expandPaths returns every ancestor of path plus path itself, in order.
func expandPaths(path string) []string {
	path = strings.SplitN(path, "?", 2)[0]
	segments := lo.Filter(strings.Split(path, "/"), func(s string, _ int) bool {
		return s != ""
	})
	if len(segments) == 0 {
		return []string{"/"}
	}

	paths := make([]string, 0, len(segments))
	current := ""
	for _, seg := range segments {
		current += "/" + seg
		paths = append(paths, current)
	}
	return paths
}

// Rebuild recomputes the full site map from all recorded flows. It is
// idempotent and linear in the number of flows.
func (b *Builder) Rebuild(flows storage.FlowStore) error {
	targets, err := b.store.ListTargets()
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := b.store.ClearNodes(t.ID); err != nil {
			return err
		}
	}

	const page = 500
	offset := 0
	for {
		recs, _, err := flows.ListFlows(storage.FlowFilters{Limit: page, Offset: offset})
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		for _, rec := range recs {
			if err := b.Observe(rec); err != nil {
				log.WithError(err).WithField("flow", rec.ID).Warn("sitemap rebuild: observe failed")
			}
		}
		if len(recs) < page {
			return nil
		}
		offset += page
	}
}

// TreeNode is one node of the rendered hierarchy.
type TreeNode struct {
	Name         string      `json:"name"`
	Path         string      `json:"path"`
	NodeType     string      `json:"node_type"`
	Methods      []string    `json:"methods"`
	StatusCodes  []int       `json:"status_codes"`
	Parameters   []string    `json:"parameters"`
	RequestCount int         `json:"request_count"`
	Children     []*TreeNode `json:"children"`
}

// Tree renders a target's flat nodes as a folder/file hierarchy.
func (b *Builder) Tree(targetID string) ([]*TreeNode, error) {
	nodes, err := b.store.ListNodes(targetID)
	if err != nil {
		return nil, err
	}

	index := make(map[string]*TreeNode, len(nodes))
	var roots []*TreeNode
	for _, n := range nodes {
		tn := &TreeNode{
			Name:         lastSegment(n.Path),
			Path:         n.Path,
			NodeType:     n.NodeType,
			Methods:      n.Methods,
			StatusCodes:  n.StatusCodes,
			Parameters:   n.Parameters,
			RequestCount: n.RequestCount,
		}
		index[n.Path] = tn
	}

	for _, tn := range index {
		parent := parentPath(tn.Path)
		if p, ok := index[parent]; ok && parent != tn.Path {
			p.Children = append(p.Children, tn)
		} else {
			roots = append(roots, tn)
		}
	}
	return roots, nil
}

func lastSegment(path string) string {
	if path == "/" {
		return "/"
	}
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

func parentPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
