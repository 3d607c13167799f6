package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/wflib/app/enums"
	"github.com/umputun/wflib/app/workflow"
)

func newTestStore(t *testing.T) (*WorkflowStore, *Database) {
	t.Helper()
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st, err := NewWorkflowStore(context.Background(), db)
	require.NoError(t, err)
	return st, db
}

func testWorkflow(id string) workflow.Workflow {
	return workflow.Workflow{
		ID:          id,
		Name:        "workflow " + id,
		Author:      "tester",
		Description: "test workflow",
		Nodes: []map[string]any{
			{"id": "n1", "type": "main_model_loader", "data": map[string]any{"label": "model"}},
			{"id": "n2", "type": "denoise_latents", "data": map[string]any{"steps": float64(30), "cfg": 7.5}},
		},
		Edges:         []map[string]any{{"source": "n1", "target": "n2", "type": "default"}},
		ExposedFields: []workflow.ExposedField{{NodeID: "n2", FieldName: "steps"}},
		Meta:          workflow.Meta{Version: "1.0.0"},
	}
}

func countRows(t *testing.T, db *Database) int {
	t.Helper()
	var n int
	require.NoError(t, db.db.Get(&n, "SELECT COUNT(*) FROM workflows"))
	return n
}

func TestWorkflowStore_CreateAndGet(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	wf := testWorkflow("wf-1")
	rec, err := st.Create(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", rec.WorkflowID)
	assert.Equal(t, wf, rec.Workflow)
	assert.Equal(t, enums.WorkflowCategoryImage, rec.Category, "default category")
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, 5*time.Second)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	got, err := st.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestWorkflowStore_GetNotFound(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkflowStore_CreateIdempotent(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	first := testWorkflow("dup")
	rec1, err := st.Create(ctx, first)
	require.NoError(t, err)

	second := testWorkflow("dup")
	second.Name = "another name"
	second.Meta.Category = enums.WorkflowCategoryUser
	rec2, err := st.Create(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, rec1, rec2, "first write wins")
	assert.Equal(t, "workflow dup", rec2.Workflow.Name)
	assert.Equal(t, enums.WorkflowCategoryImage, rec2.Category)
	assert.Equal(t, 1, countRows(t, db))
}

func TestWorkflowStore_CreateWithCategoryAndDefaults(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	wf := workflow.Workflow{Name: "no id", Meta: workflow.Meta{Version: "1.0.0", Category: enums.WorkflowCategoryUser}}
	rec, err := st.Create(ctx, wf)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.WorkflowID, "id generated")
	assert.Equal(t, rec.WorkflowID, rec.Workflow.ID)
	assert.Equal(t, enums.WorkflowCategoryUser, rec.Category)
	assert.Equal(t, []map[string]any{}, rec.Workflow.Nodes)
	assert.Equal(t, []workflow.ExposedField{}, rec.Workflow.ExposedFields)
}

func TestWorkflowStore_CreateInvalid(t *testing.T) {
	st, db := newTestStore(t)

	wf := testWorkflow("bad")
	wf.Meta.Version = "not-a-semver"
	_, err := st.Create(context.Background(), wf)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrInvalid)
	assert.Equal(t, 0, countRows(t, db), "nothing written")
}

func TestWorkflowStore_Update(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	orig, err := st.Create(ctx, testWorkflow("wf-1"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // timestamps have millisecond resolution

	upd := testWorkflow("wf-1")
	upd.Name = "renamed"
	upd.Nodes = append(upd.Nodes, map[string]any{"id": "n3", "type": "l2i"})
	rec, err := st.Update(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, upd, rec.Workflow)
	assert.Equal(t, orig.CreatedAt, rec.CreatedAt, "created_at unchanged")
	assert.True(t, rec.UpdatedAt.After(orig.UpdatedAt), "updated_at refreshed, %v vs %v", rec.UpdatedAt, orig.UpdatedAt)
	assert.Equal(t, enums.WorkflowCategoryImage, rec.Category, "category kept")

	got, err := st.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Workflow.Name)
	assert.Len(t, got.Workflow.Nodes, 3)

	t.Run("declared category is applied", func(t *testing.T) {
		upd.Meta.Category = enums.WorkflowCategoryUser
		rec, err := st.Update(ctx, upd)
		require.NoError(t, err)
		assert.Equal(t, enums.WorkflowCategoryUser, rec.Category)
	})
}

func TestWorkflowStore_UpdateMissing(t *testing.T) {
	st, db := newTestStore(t)

	_, err := st.Update(context.Background(), testWorkflow("ghost"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, countRows(t, db), "update doesn't create")
}

func TestWorkflowStore_UpdateInvalid(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	_, err := st.Create(ctx, testWorkflow("wf-1"))
	require.NoError(t, err)

	upd := testWorkflow("wf-1")
	upd.Meta.Version = "1"
	_, err = st.Update(ctx, upd)
	assert.ErrorIs(t, err, workflow.ErrInvalid)

	upd = testWorkflow("")
	_, err = st.Update(ctx, upd)
	assert.ErrorIs(t, err, workflow.ErrInvalid, "update requires id")
}

func TestWorkflowStore_Delete(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	_, err := st.Create(ctx, testWorkflow("wf-1"))
	require.NoError(t, err)
	_, err = st.Create(ctx, testWorkflow("wf-2"))
	require.NoError(t, err)

	require.NoError(t, st.Delete(ctx, "wf-1"))
	_, err = st.Get(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, countRows(t, db), "other rows untouched")

	require.NoError(t, st.Delete(ctx, "wf-1"), "deleting again is fine")
	require.NoError(t, st.Delete(ctx, "never-existed"))
	assert.Equal(t, 1, countRows(t, db))
}

func TestWorkflowStore_GetMany(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	const n = 7
	for i := range n {
		_, err := st.Create(ctx, testWorkflow(fmt.Sprintf("wf-%d", i)))
		require.NoError(t, err)
	}

	first, err := st.GetMany(ctx, ListRequest{Page: 0, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, n, first.Total)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, 0, first.Page)
	assert.Equal(t, 3, first.PerPage)

	var ids []string
	seen := map[string]bool{}
	var prev time.Time
	for page := range first.Pages {
		res, err := st.GetMany(ctx, ListRequest{Page: page, PerPage: 3})
		require.NoError(t, err)
		for _, rec := range res.Items {
			if !prev.IsZero() {
				assert.False(t, rec.CreatedAt.After(prev), "descending by creation time")
			}
			prev = rec.CreatedAt
			assert.False(t, seen[rec.WorkflowID], "duplicate %s", rec.WorkflowID)
			seen[rec.WorkflowID] = true
			ids = append(ids, rec.WorkflowID)
		}
	}
	assert.Equal(t, []string{"wf-6", "wf-5", "wf-4", "wf-3", "wf-2", "wf-1", "wf-0"}, ids)

	t.Run("page past the end is empty", func(t *testing.T) {
		res, err := st.GetMany(ctx, ListRequest{Page: 10, PerPage: 3})
		require.NoError(t, err)
		assert.NotNil(t, res.Items)
		assert.Empty(t, res.Items)
		assert.Equal(t, n, res.Total)
	})

	t.Run("exact multiple still adds a page", func(t *testing.T) {
		res, err := st.GetMany(ctx, ListRequest{Page: 0, PerPage: 7})
		require.NoError(t, err)
		assert.Len(t, res.Items, 7)
		assert.Equal(t, 2, res.Pages)
	})
}

func TestWorkflowStore_GetManyCategory(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	a := testWorkflow("A")
	b := testWorkflow("B")
	b.Meta.Category = enums.WorkflowCategoryUser
	c := testWorkflow("C")
	for _, wf := range []workflow.Workflow{a, b, c} {
		_, err := st.Create(ctx, wf)
		require.NoError(t, err)
	}

	res, err := st.GetMany(ctx, ListRequest{Page: 0, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "C", res.Items[0].WorkflowID)
	assert.Equal(t, "B", res.Items[1].WorkflowID)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Pages)

	user := enums.WorkflowCategoryUser
	res, err = st.GetMany(ctx, ListRequest{Page: 0, PerPage: 10, Category: &user})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "B", res.Items[0].WorkflowID)
	assert.Equal(t, enums.WorkflowCategoryUser, res.Items[0].Category)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Pages)

	image := enums.WorkflowCategoryImage
	res, err = st.GetMany(ctx, ListRequest{Page: 0, PerPage: 10, Category: &image})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	system := enums.WorkflowCategorySystem
	res, err = st.GetMany(ctx, ListRequest{Page: 0, PerPage: 10, Category: &system})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, 1, res.Pages)
}

func TestWorkflowStore_GetManyBadPaging(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	tests := []ListRequest{
		{Page: 0, PerPage: 0},
		{Page: -1, PerPage: 10},
		{Page: 0, PerPage: -5},
		{Page: 0, PerPage: 10, Category: &enums.WorkflowCategory{}},
	}
	for i, req := range tests {
		t.Run(fmt.Sprintf("case %d", i), func(t *testing.T) {
			_, err := st.GetMany(ctx, req)
			assert.ErrorIs(t, err, ErrBadPaging)
		})
	}
}

func TestWorkflowStore_CorruptedRow(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.db.Exec(`INSERT INTO workflows (workflow) VALUES (?)`, `{"id":"broken","meta":{"version":"latest"}}`)
	require.NoError(t, err)

	_, err = st.Get(ctx, "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrInvalid)

	_, err = st.GetMany(ctx, ListRequest{Page: 0, PerPage: 10})
	assert.ErrorIs(t, err, workflow.ErrInvalid)

	// the store keeps working after a failed operation
	_, err = st.Create(ctx, testWorkflow("ok"))
	require.NoError(t, err)
}

func TestWorkflowStore_Concurrent(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("wf-%d", i%10) // every id created twice
			if _, err := st.Create(ctx, testWorkflow(id)); err != nil {
				errs <- err
				return
			}
			if _, err := st.GetMany(ctx, ListRequest{Page: 0, PerPage: 5}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 10, countRows(t, db))
}

func TestDatabase_InTxRollback(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO workflows (workflow) VALUES (?)`, `{"id":"tmp","meta":{"version":"1.0.0"}}`); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = st.Get(ctx, "tmp")
	assert.ErrorIs(t, err, ErrNotFound, "insert rolled back")
}

func TestWorkflowStore_UniqueDerivedID(t *testing.T) {
	_, db := newTestStore(t)

	_, err := db.db.Exec(`INSERT INTO workflows (workflow) VALUES (?)`, `{"id":"x","meta":{"version":"1.0.0"}}`)
	require.NoError(t, err)
	_, err = db.db.Exec(`INSERT INTO workflows (workflow) VALUES (?)`, `{"id":"x","name":"other","meta":{"version":"1.0.0"}}`)
	require.Error(t, err, "derived id is unique")
	_, err = db.db.Exec(`INSERT INTO workflows (workflow) VALUES (?)`, `{"name":"no id"}`)
	require.Error(t, err, "derived id is not null")
}

type errResult struct{ err error }

func (r errResult) LastInsertId() (int64, error) { return 0, r.err }
func (r errResult) RowsAffected() (int64, error) { return 0, r.err }

func TestRowsAffected(t *testing.T) {
	n, err := rowsAffected(errResult{err: errors.New("driver can't count")}, "wf-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wf-1")
	assert.Contains(t, err.Error(), "driver can't count")
	assert.NotErrorIs(t, err, ErrNotFound, "failure to count is not a missing row")
	assert.Zero(t, n)

	st, db := newTestStore(t)
	_, err = st.Create(context.Background(), testWorkflow("wf-1"))
	require.NoError(t, err)
	err = db.InTx(context.Background(), func(tx *sqlx.Tx) error {
		r, e := tx.Exec(`DELETE FROM workflows WHERE workflow_id = ?`, "wf-1")
		require.NoError(t, e)
		n, e = rowsAffected(r, "wf-1")
		return e
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
