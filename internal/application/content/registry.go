// Package content keeps the active content snapshot in memory and swaps it
// atomically when a new version is published.
package content

import (
	"context"
	"sync/atomic"

	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
	"github.com/alem-hub/civiclearn/pkg/logger"
)

// Registry serves the active catalog snapshot.
type Registry struct {
	repo    catalog.Repository
	current atomic.Pointer[catalog.Snapshot]
	log     *logger.Logger
}

// NewRegistry creates a registry serving an empty snapshot until Reload.
func NewRegistry(repo catalog.Repository, log *logger.Logger) *Registry {
	r := &Registry{repo: repo, log: log.With(logger.Component("content_registry"))}
	r.current.Store(catalog.Empty())
	return r
}

// Current returns the active snapshot. Never nil.
func (r *Registry) Current() *catalog.Snapshot {
	return r.current.Load()
}

// Loaded reports whether any published version is active.
func (r *Registry) Loaded() bool {
	return r.Current().Version() > 0
}

// Reload loads the latest version from the repository. A repository without
// any version keeps the current snapshot.
func (r *Registry) Reload(ctx context.Context) error {
	v, err := r.repo.Latest(ctx)
	if err != nil {
		if shared.IsNotFound(err) {
			r.log.Warn("no content version published yet")
			return nil
		}
		return err
	}
	r.Activate(v)
	return nil
}

// Activate installs v unless a newer version is already active.
func (r *Registry) Activate(v *catalog.Version) {
	v.Bundle.Normalize()
	next := catalog.NewSnapshot(v)
	for {
		cur := r.current.Load()
		if cur.Version() >= next.Version() && cur.Version() != 0 {
			return
		}
		if r.current.CompareAndSwap(cur, next) {
			r.log.Info("content version activated",
				logger.ContentVersion(v.Version),
				logger.String("checksum", v.Checksum),
			)
			return
		}
	}
}

// ActiveVersion returns the active content version, 0 before the first publish.
func (r *Registry) ActiveVersion() int64 {
	return r.Current().Version()
}
