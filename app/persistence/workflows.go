package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/wflib/app/enums"
	"github.com/umputun/wflib/app/workflow"
)

// ErrNotFound is returned when the requested workflow doesn't exist
var ErrNotFound = errors.New("not found")

// ErrBadPaging is returned for a negative page or a non-positive page size
var ErrBadPaging = errors.New("invalid paging")

// WorkflowRecord is a stored workflow with the store-assigned fields
type WorkflowRecord struct {
	WorkflowID string                 `json:"workflow_id"`
	Workflow   workflow.Workflow      `json:"workflow"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Category   enums.WorkflowCategory `json:"category"`
}

// PaginatedResults is a single page of results. Pages is total/per_page+1.
type PaginatedResults[T any] struct {
	Items   []T `json:"items"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

// ListRequest defines a page to list, Category is optional
type ListRequest struct {
	Page     int
	PerPage  int
	Category *enums.WorkflowCategory
}

// workflowRow is a row of the workflows table
type workflowRow struct {
	Workflow   string                 `db:"workflow"`
	WorkflowID string                 `db:"workflow_id"`
	Category   enums.WorkflowCategory `db:"category"`
	CreatedAt  dbTime                 `db:"created_at"`
	UpdatedAt  dbTime                 `db:"updated_at"`
}

const selectWorkflows = `SELECT workflow, workflow_id, category, created_at, updated_at FROM workflows`

// WorkflowStore keeps workflow documents in the workflows table
type WorkflowStore struct {
	db *Database
}

// NewWorkflowStore makes a store on top of the shared database and migrates its schema
func NewWorkflowStore(ctx context.Context, db *Database) (*WorkflowStore, error) {
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate workflows schema: %w", err)
	}
	return &WorkflowStore{db: db}, nil
}

// Get returns the workflow record by id, ErrNotFound if missing
func (s *WorkflowStore) Get(ctx context.Context, id string) (res WorkflowRecord, err error) {
	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		res, err = s.get(ctx, tx, id)
		return err
	})
	return res, err
}

// Create stores a new workflow. If a workflow with the same id already exists the insert is ignored
// and the stored record is kept, the first write wins. Returns the record as stored.
func (s *WorkflowStore) Create(ctx context.Context, wf workflow.Workflow) (res WorkflowRecord, err error) {
	wf = wf.WithDefaults()
	if err = wf.Validate(); err != nil {
		return WorkflowRecord{}, err
	}
	data, err := wf.Encode()
	if err != nil {
		return WorkflowRecord{}, err
	}
	category, ok := wf.Category()
	if !ok {
		category = enums.DefaultWorkflowCategory
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		r, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO workflows (workflow, category) VALUES (?, ?)`,
			string(data), category.String())
		if err != nil {
			return fmt.Errorf("failed to insert workflow %s: %w", wf.ID, err)
		}
		n, err := rowsAffected(r, wf.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Printf("[DEBUG] workflow %s already exists, create ignored", wf.ID)
		}
		res, err = s.get(ctx, tx, wf.ID)
		return err
	})
	return res, err
}

// Update replaces the stored document of an existing workflow. The category is changed only if
// the document declares one. Returns ErrNotFound if there is no workflow with this id.
func (s *WorkflowStore) Update(ctx context.Context, wf workflow.Workflow) (res WorkflowRecord, err error) {
	if err = wf.Validate(); err != nil {
		return WorkflowRecord{}, err
	}
	wf = wf.WithDefaults()
	data, err := wf.Encode()
	if err != nil {
		return WorkflowRecord{}, err
	}
	var category any // nil keeps the stored category
	if c, ok := wf.Category(); ok {
		category = c.String()
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		r, err := tx.ExecContext(ctx, `UPDATE workflows SET workflow = ?, category = COALESCE(?, category) WHERE workflow_id = ?`,
			string(data), category, wf.ID)
		if err != nil {
			return fmt.Errorf("failed to update workflow %s: %w", wf.ID, err)
		}
		n, err := rowsAffected(r, wf.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("workflow %s: %w", wf.ID, ErrNotFound)
		}
		res, err = s.get(ctx, tx, wf.ID)
		return err
	})
	return res, err
}

// Delete removes the workflow by id. Deleting a missing workflow is not an error.
func (s *WorkflowStore) Delete(ctx context.Context, id string) error {
	return s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		r, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE workflow_id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete workflow %s: %w", id, err)
		}
		n, err := rowsAffected(r, id)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Printf("[DEBUG] workflow %s not found, nothing to delete", id)
		}
		return nil
	})
}

// GetMany returns a page of workflows, most recently created first, optionally limited to a category
func (s *WorkflowStore) GetMany(ctx context.Context, req ListRequest) (res PaginatedResults[WorkflowRecord], err error) {
	if req.Page < 0 || req.PerPage < 1 {
		return res, fmt.Errorf("%w: page %d, per_page %d", ErrBadPaging, req.Page, req.PerPage)
	}

	var where []string
	var args []any
	if req.Category != nil {
		if _, err := enums.ParseWorkflowCategory(req.Category.String()); err != nil {
			return res, fmt.Errorf("%w: %v", ErrBadPaging, err)
		}
		where = append(where, "category = ?")
		args = append(args, req.Category.String())
	}
	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var rows []workflowRow
		query := selectWorkflows + filter + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
		pageArgs := append(append([]any{}, args...), req.PerPage, req.PerPage*req.Page)
		if err := tx.SelectContext(ctx, &rows, query, pageArgs...); err != nil {
			return fmt.Errorf("failed to query workflows: %w", err)
		}

		var total int
		if err := tx.GetContext(ctx, &total, "SELECT COUNT(*) FROM workflows"+filter, args...); err != nil {
			return fmt.Errorf("failed to count workflows: %w", err)
		}

		items := make([]WorkflowRecord, 0, len(rows))
		for _, row := range rows {
			rec, err := row.record()
			if err != nil {
				return err
			}
			items = append(items, rec)
		}

		res = PaginatedResults[WorkflowRecord]{
			Items:   items,
			Page:    req.Page,
			PerPage: req.PerPage,
			Pages:   total/req.PerPage + 1,
			Total:   total,
		}
		return nil
	})
	return res, err
}

// get loads a single record within an already locked transaction
func (s *WorkflowStore) get(ctx context.Context, tx *sqlx.Tx, id string) (WorkflowRecord, error) {
	var row workflowRow
	if err := tx.GetContext(ctx, &row, selectWorkflows+" WHERE workflow_id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkflowRecord{}, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
		}
		return WorkflowRecord{}, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}
	return row.record()
}

// rowsAffected returns the number of rows changed by a statement on the workflow with id
func rowsAffected(r sql.Result, id string) (int64, error) {
	n, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows for workflow %s: %w", id, err)
	}
	return n, nil
}

func (r workflowRow) record() (WorkflowRecord, error) {
	wf, err := workflow.Parse([]byte(r.Workflow))
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("failed to decode stored workflow %s: %w", r.WorkflowID, err)
	}
	return WorkflowRecord{
		WorkflowID: r.WorkflowID,
		Workflow:   wf,
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
		Category:   r.Category,
	}, nil
}
