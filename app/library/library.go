// Package library keeps the system workflows shipped as files in sync with the workflow store.
// Files are loaded from a directory, stored with the system category and updated only when changed.
package library

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/wflib/app/enums"
	"github.com/umputun/wflib/app/persistence"
	"github.com/umputun/wflib/app/workflow"
)

// Store is a subset of the workflow store used for sync
type Store interface {
	Get(ctx context.Context, id string) (persistence.WorkflowRecord, error)
	Create(ctx context.Context, wf workflow.Workflow) (persistence.WorkflowRecord, error)
	Update(ctx context.Context, wf workflow.Workflow) (persistence.WorkflowRecord, error)
}

// Syncer loads workflow files from Dir into Store
type Syncer struct {
	Store       Store
	Dir         string
	Concurrency int // parallel file parsing, 1 if not set

	// OnError is called when a scheduled sync fails, optional
	OnError func(ctx context.Context, err error)
}

// Stats reports what a single sync did
type Stats struct {
	Created   int
	Updated   int
	Unchanged int
}

func (s Stats) String() string {
	return fmt.Sprintf("created:%d, updated:%d, unchanged:%d", s.Created, s.Updated, s.Unchanged)
}

// Sync loads all workflow files and stores them as system workflows
func (s *Syncer) Sync(ctx context.Context) (Stats, error) {
	var stats Stats
	wfs, err := workflow.LoadDir(ctx, s.Dir, s.Concurrency)
	if err != nil {
		return stats, fmt.Errorf("failed to load library: %w", err)
	}

	for _, wf := range wfs {
		wf.Meta.Category = enums.WorkflowCategorySystem
		rec, err := s.Store.Get(ctx, wf.ID)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			if _, err := s.Store.Create(ctx, wf); err != nil {
				return stats, fmt.Errorf("failed to create library workflow %s: %w", wf.ID, err)
			}
			stats.Created++
		case err != nil:
			return stats, fmt.Errorf("failed to get library workflow %s: %w", wf.ID, err)
		case rec.Category == enums.WorkflowCategorySystem && reflect.DeepEqual(rec.Workflow, wf):
			stats.Unchanged++
		default:
			if _, err := s.Store.Update(ctx, wf); err != nil {
				return stats, fmt.Errorf("failed to update library workflow %s: %w", wf.ID, err)
			}
			stats.Updated++
		}
	}
	log.Printf("[INFO] library %s synced, %s", s.Dir, stats)
	return stats, nil
}

// Run syncs on the cron schedule (e.g. "@every 10m") until ctx is canceled
func (s *Syncer) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sync(ctx); err != nil {
			log.Printf("[WARN] library sync failed: %v", err)
			if s.OnError != nil {
				s.OnError(ctx, err)
			}
		}
	}); err != nil {
		return fmt.Errorf("invalid library refresh schedule %q: %w", schedule, err)
	}

	log.Printf("[INFO] library refresh scheduled %q", schedule)
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		log.Printf("[WARN] library sync still running on shutdown")
	}
	return ctx.Err()
}
