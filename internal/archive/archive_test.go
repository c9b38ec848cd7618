package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajou-notice/noticepoller/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestSnapshotSkipsUnchangedPages(t *testing.T) {
	t.Parallel()
	seoul := time.FixedZone("KST", 9*3600)
	clock := &fixedClock{now: time.Date(2026, 10, 19, 9, 30, 0, 0, seoul)}
	store := memory.NewBlobStore()
	a := New(Config{Prefix: "snapshots"}, store, clock, nil)
	ctx := context.Background()
	const board = "https://www.ajou.ac.kr/kr/ajou/notice.do?mode=list"

	uri, err := a.Snapshot(ctx, board, []byte("<html>v1</html>"))
	require.NoError(t, err)
	require.Regexp(t, `^memory://snapshots/2026/10/19/093000-[0-9a-f]{12}\.html$`, uri)

	clock.now = clock.now.Add(30 * time.Minute)
	uri, err = a.Snapshot(ctx, board, []byte("<html>v1</html>"))
	require.NoError(t, err)
	require.Empty(t, uri)

	uri, err = a.Snapshot(ctx, board+"&srCategoryId=1", []byte("<html>v1</html>"))
	require.NoError(t, err)
	require.NotEmpty(t, uri, "a different query is tracked separately")

	uri, err = a.Snapshot(ctx, board, []byte("<html>v2</html>"))
	require.NoError(t, err)
	require.Contains(t, uri, "/100000-")

	require.Len(t, store.Paths(), 3)
}

func TestSnapshotRetriesAfterFailure(t *testing.T) {
	t.Parallel()
	clock := &fixedClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	a := New(Config{}, failingStore{}, clock, nil)

	_, err := a.Snapshot(context.Background(), "u", []byte("page"))
	require.ErrorContains(t, err, "bucket gone")

	a.store = memory.NewBlobStore()
	uri, err := a.Snapshot(context.Background(), "u", []byte("page"))
	require.NoError(t, err)
	require.NotEmpty(t, uri, "a failed write must not mark the page as archived")
}

func TestPath(t *testing.T) {
	t.Parallel()
	a := New(Config{Prefix: "boards/ajou"}, memory.NewBlobStore(), nil, nil)
	got := a.Path(time.Date(2026, 1, 5, 14, 3, 9, 0, time.UTC), "0123456789abcdef")
	require.Equal(t, "boards/ajou/2026/01/05/140309-0123456789ab.html", got)
}
