package extractor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

const (
	selectorNoPost = "td.b-no-post"
	selectorID     = "td.b-num-box"
	selectorTitle  = "div.b-title-box > a"
	selectorCate   = "span.b-cate"
	selectorDate   = "span.b-date"
	selectorWriter = "span.b-writer"

	moreSuffix = " 자세히 보기"
)

// Parse extracts notices from a board listing page. Links are built by
// appending each row's href to boardURL.
func Parse(body []byte, boardURL string) ([]notice.Notice, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %w", notice.ErrMalformed, err)
	}

	if doc.Find(selectorNoPost).Length() > 0 {
		return nil, notice.ErrNoNotices
	}

	ids := texts(doc.Find(selectorID))
	titles := doc.Find(selectorTitle)
	cates := texts(doc.Find(selectorCate))
	dates := texts(doc.Find(selectorDate))
	writers := texts(doc.Find(selectorWriter))

	n := len(ids)
	if titles.Length() != n || len(dates) != n || len(writers) != n {
		return nil, fmt.Errorf("%w: ids=%d titles=%d dates=%d writers=%d",
			notice.ErrMalformed, n, titles.Length(), len(dates), len(writers))
	}
	if len(cates) != 0 && len(cates) != n {
		return nil, fmt.Errorf("%w: ids=%d categories=%d", notice.ErrMalformed, n, len(cates))
	}

	notices := make([]notice.Notice, 0, n)
	for i, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// pinned rows carry a label instead of a number
			continue
		}
		anchor := titles.Eq(i)
		href, _ := anchor.Attr("href")
		category := ""
		if len(cates) > 0 {
			category = cates[i]
		}
		notices = append(notices, notice.Notice{
			ID:       id,
			Title:    CleanTitle(strings.TrimSpace(anchor.Text()), writers[i]),
			Category: category,
			Writer:   writers[i],
			Date:     dates[i],
			Link:     boardURL + href,
		})
	}

	if len(notices) == 0 {
		return nil, notice.ErrNoNotices
	}
	return notices, nil
}

// CleanTitle strips the "[writer]" prefix and the trailing " 자세히 보기"
// label from a raw title. Applying it twice yields the same result.
func CleanTitle(title, writer string) string {
	for {
		cleaned := title
		if writer != "" {
			cleaned = strings.ReplaceAll(cleaned, "["+writer+"]", "")
		}
		cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, moreSuffix, ""))
		if cleaned == title {
			return cleaned
		}
		title = cleaned
	}
}

func texts(sel *goquery.Selection) []string {
	return sel.Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.Text())
	})
}
