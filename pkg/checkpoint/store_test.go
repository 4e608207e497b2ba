package checkpoint

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-research/fathom/pkg/state"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSQLStoreSave(t *testing.T) {
	ctx := context.Background()

	t.Run("upserts one row per session", func(t *testing.T) {
		store, mock := newMockStore(t)
		st := state.New("新能源汽车市场分析", "sess-1", 2)
		st.Phase = state.PhaseResearching
		st.Iteration = 1

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO research_checkpoints")).
			WithArgs(sqlmock.AnyArg(), "sess-1", nil, "新能源汽车市场分析",
				string(state.PhaseResearching), 1, sqlmock.AnyArg(), StatusRunning).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ck-1"))

		id, err := store.Save(ctx, st, nil)
		require.NoError(t, err)
		assert.Equal(t, "ck-1", id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing session id is rejected", func(t *testing.T) {
		store, _ := newMockStore(t)
		_, err := store.Save(ctx, state.New("q", "", 2), nil)
		assert.ErrorContains(t, err, "session_id")
	})
}

func TestSQLStoreLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("restores the saved snapshot", func(t *testing.T) {
		store, mock := newMockStore(t)
		st := state.New("q", "sess-1", 2)
		st.Phase = state.PhaseWriting
		st.AddFact(state.Fact{Content: "2024销量1286.6万辆", SourceURL: "https://a"})
		blob, err := st.MarshalSnapshot()
		require.NoError(t, err)

		mock.ExpectQuery(regexp.QuoteMeta(
			"SELECT state_json FROM research_checkpoints WHERE session_id = $1")).
			WithArgs("sess-1").
			WillReturnRows(sqlmock.NewRows([]string{"state_json"}).AddRow(blob))

		restored, err := store.Load(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, state.PhaseWriting, restored.Phase)
		assert.Len(t, restored.Facts, 1)
	})

	t.Run("missing session yields ErrNoCheckpoint", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT state_json")).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"state_json"}))

		_, err := store.Load(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNoCheckpoint)
	})
}

func TestSQLStoreGetInfo(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("returns metadata without the blob", func(t *testing.T) {
		store, mock := newMockStore(t)
		rows := sqlmock.NewRows([]string{
			"id", "session_id", "user_id", "query", "phase", "iteration",
			"status", "error_message", "created_at", "updated_at",
		}).AddRow("ck-1", "sess-1", nil, "q", "researching", 0, StatusRunning, nil, now, now)

		mock.ExpectQuery(regexp.QuoteMeta("FROM research_checkpoints WHERE session_id = $1")).
			WithArgs("sess-1").
			WillReturnRows(rows)

		info, err := store.GetInfo(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", info.SessionID)
		assert.Equal(t, "researching", info.Phase)
		assert.Nil(t, info.UserID)
	})

	t.Run("missing session yields ErrNoCheckpoint", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM research_checkpoints").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.GetInfo(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNoCheckpoint)
	})
}

func TestSQLStoreList(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	columns := []string{
		"id", "session_id", "user_id", "query", "phase", "iteration",
		"status", "error_message", "created_at", "updated_at",
	}

	t.Run("applies user and status filters positionally", func(t *testing.T) {
		store, mock := newMockStore(t)
		user := "u-1"
		mock.ExpectQuery(regexp.QuoteMeta(
			"AND user_id = $1 AND status = $2 ORDER BY updated_at DESC LIMIT $3")).
			WithArgs("u-1", StatusCompleted, 10).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("ck-1", "sess-1", &user, "q", "completed", 2, StatusCompleted, nil, now, now))

		infos, err := store.List(ctx, &user, StatusCompleted, 10)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "sess-1", infos[0].SessionID)
	})

	t.Run("defaults the limit when out of range", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY updated_at DESC LIMIT $1")).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := store.List(ctx, nil, "", 5000)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLStoreUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("updates status and error message", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE research_checkpoints")).
			WithArgs("sess-1", StatusFailed, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, store.UpdateStatus(ctx, "sess-1", StatusFailed, "llm unavailable"))
	})

	t.Run("zero rows means no checkpoint", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE research_checkpoints")).
			WithArgs("ghost", StatusPaused, nil).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.UpdateStatus(ctx, "ghost", StatusPaused, ""), ErrNoCheckpoint)
	})
}

func TestSQLStoreDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("reports whether a row was removed", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM research_checkpoints")).
			WithArgs("sess-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		deleted, err := store.Delete(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, deleted)
	})

	t.Run("missing row deletes nothing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM research_checkpoints")).
			WithArgs("ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		deleted, err := store.Delete(ctx, "ghost")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}
