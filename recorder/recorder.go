// Package recorder persists finalized flows through the storage interface
// and keeps the site map current. Persist failures are counted and logged;
// the data plane keeps serving.
package recorder

import (
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/vsthakur101/webapi-moderator/flow"
	"github.com/vsthakur101/webapi-moderator/sitemap"
	"github.com/vsthakur101/webapi-moderator/storage"
)

// Recorder writes flows exactly once.
type Recorder struct {
	store   storage.FlowStore
	sitemap *sitemap.Builder

	failures atomic.Uint64
}

// New creates a Recorder. sitemap may be nil.
func New(store storage.FlowStore, sm *sitemap.Builder) *Recorder {
	return &Recorder{store: store, sitemap: sm}
}

// Record persists the flow and folds it into the site map.
func (r *Recorder) Record(f *flow.Flow) {
	rec := storage.NewFlowRecord(f)
	if err := r.store.PutFlow(rec); err != nil {
		r.failures.Inc()
		log.WithError(err).WithField("flow", rec.ID).Error("flow persist failed")
		return
	}
	if r.sitemap != nil {
		if err := r.sitemap.Observe(rec); err != nil {
			log.WithError(err).WithField("flow", rec.ID).Warn("sitemap update failed")
		}
	}
}

// Failures returns the number of flows that could not be persisted.
func (r *Recorder) Failures() uint64 {
	return r.failures.Load()
}
