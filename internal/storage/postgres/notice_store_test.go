package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

func newMockStore(t *testing.T) (*NoticeStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewNoticeStoreWithPool(mock, "notices")
	require.NoError(t, err)
	return store, mock
}

func TestInsertWritesRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	n := notice.Notice{ID: 103, Title: "장학금", Category: "장학", Writer: "학생지원팀", Date: "24.03.05", Link: "https://x?a=103"}

	mock.ExpectExec("INSERT INTO notices").
		WithArgs(n.ID, n.Title, n.Category, n.Writer, n.Date, n.Link).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO notices").
		WithArgs(int64(1), "t", "", "w", "24.01.01", "l").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.Insert(context.Background(), notice.Notice{ID: 1, Title: "t", Writer: "w", Date: "24.01.01", Link: "l"})
	require.ErrorIs(t, err, notice.ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO notices").
		WithArgs(int64(1), "", "", "", "", "").
		WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), notice.Notice{ID: 1})
	require.Error(t, err)
	require.NotErrorIs(t, err, notice.ErrDuplicateKey)
}

func TestExists(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByDate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"id", "title", "category", "writer", "date", "link"}).
		AddRow(int64(5), "b", "학사", "w", "24.03.05", "l5").
		AddRow(int64(4), "a", "", "w", "24.03.05", "l4")
	mock.ExpectQuery("SELECT id, title, category, writer, date, link").
		WithArgs("24.03.05").
		WillReturnRows(rows)

	got, err := store.ListByDate(context.Background(), "24.03.05")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(5), got[0].ID)
	require.Equal(t, "학사", got[0].Category)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByDate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM notices").
		WithArgs("24.01.01").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.DeleteByDate(context.Background(), "24.01.01")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTableAndIndex(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS notices").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS notices_date_idx").
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewNoticeStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewNoticeStoreWithPool(mock, "notices; DROP TABLE x")
	require.Error(t, err)

	_, err = NewNoticeStoreWithPool(nil, "")
	require.Error(t, err)
}
