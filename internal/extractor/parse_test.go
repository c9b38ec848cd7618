package extractor

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

const testBoard = "https://www.ajou.ac.kr/kr/ajou/notice.do"

type row struct {
	id, category, title, href, writer, date string
}

func boardPage(rows ...row) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="board-table"><tbody>`)
	for _, r := range rows {
		fmt.Fprintf(&b, `<tr>
<td class="b-num-box">%s</td>
<td class="b-td-left">
  <div class="b-title-box"><a href="%s" title="%s">%s</a></div>
  <div class="b-m-con">
    <span class="b-cate">%s</span>
    <span class="b-writer">%s</span>
    <span class="b-date">%s</span>
  </div>
</td>
</tr>`, r.id, r.href, r.title, r.title, r.category, r.writer, r.date)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func TestParseReturnsNumericRowsInOrder(t *testing.T) {
	t.Parallel()

	page := boardPage(
		row{"공지", "학사", "[교무팀] 수강신청 안내 자세히 보기", "?mode=view&articleNo=1", "교무팀", "24.03.01"},
		row{"103", "장학", "[학생지원팀] 2024 장학금 신청 자세히 보기", "?mode=view&articleNo=103", "학생지원팀", "24.03.05"},
		row{"102", "취업", "채용설명회 자세히 보기", "?mode=view&articleNo=102", "대학일자리센터", "24.03.04"},
	)

	notices, err := Parse([]byte(page), testBoard)
	require.NoError(t, err)
	require.Len(t, notices, 2)

	require.Equal(t, notice.Notice{
		ID:       103,
		Title:    "2024 장학금 신청",
		Category: "장학",
		Writer:   "학생지원팀",
		Date:     "24.03.05",
		Link:     testBoard + "?mode=view&articleNo=103",
	}, notices[0])
	require.Equal(t, int64(102), notices[1].ID)
	require.Equal(t, "채용설명회", notices[1].Title)
}

func TestParseSkipsPinnedRowsAnywhere(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ids  []string
		want []int64
	}{
		{name: "pinned last", ids: []string{"103", "102", "공지"}, want: []int64{103, 102}},
		{name: "pinned first", ids: []string{"공지", "103", "102"}, want: []int64{103, 102}},
		{name: "pinned between", ids: []string{"103", "공지", "102"}, want: []int64{103, 102}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rows := make([]row, 0, len(tc.ids))
			for _, id := range tc.ids {
				rows = append(rows, row{id, "학사", "title " + id, "?articleNo=" + id, "w", "24.03.05"})
			}
			notices, err := Parse([]byte(boardPage(rows...)), testBoard)
			require.NoError(t, err)
			got := make([]int64, 0, len(notices))
			for _, n := range notices {
				got = append(got, n.ID)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseRowCountMatchesNumericIDs(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 5, 15} {
		rows := make([]row, 0, n)
		for i := range n {
			id := 500 - i
			rows = append(rows, row{fmt.Sprint(id), "기타", fmt.Sprintf("title %d", id), fmt.Sprintf("?articleNo=%d", id), "w", "24.01.02"})
		}
		notices, err := Parse([]byte(boardPage(rows...)), testBoard)
		require.NoError(t, err)
		require.Len(t, notices, n)
		for i, got := range notices {
			require.Equal(t, int64(500-i), got.ID)
		}
	}
}

func TestParseNoPostMarker(t *testing.T) {
	t.Parallel()

	page := `<table><tbody><tr><td class="b-no-post">등록된 글이 없습니다.</td></tr></tbody></table>`
	_, err := Parse([]byte(page), testBoard)
	require.ErrorIs(t, err, notice.ErrNoNotices)
}

func TestParseOnlyPinnedRows(t *testing.T) {
	t.Parallel()

	page := boardPage(row{"공지", "학사", "pinned", "?a=1", "w", "24.01.01"})
	_, err := Parse([]byte(page), testBoard)
	require.ErrorIs(t, err, notice.ErrNoNotices)
}

func TestParseEmptyDocument(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`<html><body></body></html>`), testBoard)
	require.ErrorIs(t, err, notice.ErrNoNotices)
}

func TestParseColumnMismatch(t *testing.T) {
	t.Parallel()

	page := boardPage(row{"10", "학사", "t", "?a=10", "w", "24.01.01"}) +
		`<span class="b-date">24.01.02</span>`
	_, err := Parse([]byte(page), testBoard)
	require.ErrorIs(t, err, notice.ErrMalformed)
	require.Equal(t, notice.KindMalformed, notice.KindOf(err))
}

func TestParseWithoutCategoryColumn(t *testing.T) {
	t.Parallel()

	page := `<table><tbody><tr>
<td class="b-num-box">7</td>
<td><div class="b-title-box"><a href="?a=7">제목</a></div>
<span class="b-writer">w</span><span class="b-date">24.01.01</span></td>
</tr></tbody></table>`
	notices, err := Parse([]byte(page), testBoard)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	require.Empty(t, notices[0].Category)
	require.Equal(t, "제목", notices[0].Title)
}

func TestParseCategoryColumnMismatch(t *testing.T) {
	t.Parallel()

	page := boardPage(
		row{"2", "학사", "a", "?a=2", "w", "24.01.01"},
		row{"1", "학사", "b", "?a=1", "w", "24.01.01"},
	) + `<span class="b-cate">extra</span>`
	_, err := Parse([]byte(page), testBoard)
	require.True(t, errors.Is(err, notice.ErrMalformed))
}

func TestCleanTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, title, writer, want string
	}{
		{"writer prefix and suffix", "[교무팀] 휴강 안내 자세히 보기", "교무팀", "휴강 안내"},
		{"suffix only", "휴강 안내 자세히 보기", "교무팀", "휴강 안내"},
		{"nothing to strip", "휴강 안내", "교무팀", "휴강 안내"},
		{"other brackets kept", "[공지] 휴강 안내", "교무팀", "[공지] 휴강 안내"},
		{"empty writer", "[] 제목", "", "[] 제목"},
		{"nested writer tag", "[[교무팀]교무팀] 제목", "교무팀", "제목"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CleanTitle(tt.title, tt.writer)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, CleanTitle(got, tt.writer))
		})
	}
}
