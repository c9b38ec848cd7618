package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/notice"
	"github.com/ajou-notice/noticepoller/internal/storage/memory"
)

var kst = time.FixedZone("KST", 9*60*60)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeExtractor struct {
	notices []notice.Notice
	err     error
	urls    []string
}

func (f *fakeExtractor) FetchAndParse(_ context.Context, rawURL string) ([]notice.Notice, error) {
	f.urls = append(f.urls, rawURL)
	if f.err != nil {
		return nil, notice.NewParseError(rawURL, f.err)
	}
	return f.notices, nil
}

type pingStore struct {
	*memory.NoticeStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

type panicExtractor struct{}

func (panicExtractor) FetchAndParse(context.Context, string) ([]notice.Notice, error) {
	panic("boom")
}

func newTestServer(store Reader, ex notice.Extractor, cfg Config) *Server {
	if store == nil {
		store = memory.NewNoticeStore()
	}
	if ex == nil {
		ex = &fakeExtractor{}
	}
	clock := fakeClock{now: time.Date(2024, 3, 5, 11, 0, 0, 0, kst)}
	return NewServer(store, ex, clock, cfg, zap.NewNop())
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) noticesResponse {
	t.Helper()
	var resp noticesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil, nil, Config{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyzReportsStorePing(t *testing.T) {
	t.Parallel()

	ok := pingStore{NoticeStore: memory.NewNoticeStore()}
	rec := serve(t, newTestServer(ok, nil, Config{}), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	down := pingStore{NoticeStore: memory.NewNoticeStore(), err: errors.New("dial tcp: refused")}
	rec = serve(t, newTestServer(down, nil, Config{}), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil, nil, Config{}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCategories(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil, nil, Config{}), "/v1/categories")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Categories map[string]int `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 168, body.Categories["학사일정"])
	require.Len(t, body.Categories, 12)
}

func TestListByDate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewNoticeStore()
	require.NoError(t, store.Insert(ctx, notice.Notice{ID: 1, Date: "24.03.05"}))
	require.NoError(t, store.Insert(ctx, notice.Notice{ID: 2, Date: "24.03.05"}))
	require.NoError(t, store.Insert(ctx, notice.Notice{ID: 3, Date: "24.03.04"}))
	s := newTestServer(store, nil, Config{})

	resp := decode(t, serve(t, s, "/v1/notices?date=24.03.04"))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "24.03.04", resp.Date)

	rec := serve(t, s, "/v1/notices")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode(t, rec)
	require.Equal(t, "24.03.05", resp.Date)
	require.Equal(t, int64(2), resp.Notices[0].ID)
	require.Equal(t, int64(1), resp.Notices[1].ID)

	rec = serve(t, s, "/v1/notices?date=2024-03-05")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveBuildsFilter(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{notices: []notice.Notice{{ID: 9, Title: "졸업"}}}
	s := newTestServer(nil, ex, Config{BoardURL: "https://board.example/notice.do"})

	target := "/v1/notices/live?count=5&category=" + url.QueryEscape("장학") + "&keyword=" + url.QueryEscape("졸업 사정")
	rec := serve(t, s, target)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.Equal(t, 1, resp.Count)
	require.Empty(t, resp.Warning)
	require.Equal(t,
		"https://board.example/notice.do?mode=list&srSearchKey=&srSearchVal=%EC%A1%B8%EC%97%85%20%EC%82%AC%EC%A0%95&article.offset=0&srCategoryId=3&articleLimit=5",
		ex.urls[0],
	)
}

func TestLiveUnknownCategoryWarns(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{notices: []notice.Notice{{ID: 1}}}
	rec := serve(t, newTestServer(nil, ex, Config{}), "/v1/notices/live?category="+url.QueryEscape("학사d"))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.Contains(t, resp.Warning, "invalid category")
	require.Contains(t, ex.urls[0], "srCategoryId=&")
}

func TestLiveRejectsBadCount(t *testing.T) {
	t.Parallel()

	for _, count := range []string{"abc", "0", "101"} {
		rec := serve(t, newTestServer(nil, nil, Config{}), "/v1/notices/live?count="+count)
		require.Equal(t, http.StatusBadRequest, rec.Code, count)
	}
}

func TestLiveErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		body   string
	}{
		{notice.ErrTimeout, http.StatusServiceUnavailable, SlowServiceMessage},
		{notice.ErrUnreachable, http.StatusServiceUnavailable, SlowServiceMessage},
		{notice.ErrMalformed, http.StatusBadGateway, "unexpected board response"},
		{notice.ErrNoNotices, http.StatusOK, `"count":0`},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			t.Parallel()
			rec := serve(t, newTestServer(nil, &fakeExtractor{err: tt.err}, Config{}), "/v1/notices/live")
			require.Equal(t, tt.status, rec.Code)
			require.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestTodayKeepsLeadingRunOfToday(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{notices: []notice.Notice{
		{ID: 5, Date: "24.03.05"},
		{ID: 4, Date: "24.03.05"},
		{ID: 3, Date: "24.03.04"},
		{ID: 2, Date: "24.03.05"},
	}}
	rec := serve(t, newTestServer(nil, ex, Config{}), "/v1/notices/today")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.Equal(t, 2, resp.Count)
	require.Contains(t, ex.urls[0], "articleLimit=30")
}

func TestLatest(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{notices: []notice.Notice{{ID: 77, Title: "최신"}}}
	rec := serve(t, newTestServer(nil, ex, Config{}), "/v1/notices/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":77`)
	require.Contains(t, ex.urls[0], "articleLimit=1")

	rec = serve(t, newTestServer(nil, &fakeExtractor{err: notice.ErrNoNotices}, Config{}), "/v1/notices/latest")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, nil, Config{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, serve(t, s, "/v1/categories").Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/v1/categories?api_key=secret").Code)
	require.Equal(t, http.StatusOK, serve(t, s, "/healthz").Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(nil, panicExtractor{}, Config{}), "/v1/notices/latest")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	newTestServer(nil, nil, Config{}).Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}
