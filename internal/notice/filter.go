package notice

import (
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"strings"
)

// BoardURL is the Ajou notice board list address. Relative post links are
// rooted here.
const BoardURL = "https://www.ajou.ac.kr/kr/ajou/notice.do"

// DefaultCount is the page size used when none is requested.
const DefaultCount = 15

var categories = map[string]int{
	"학사":    1,
	"비교과":   2,
	"장학":    3,
	"학술":    4,
	"입학":    5,
	"취업":    6,
	"사무":    7,
	"기타":    8,
	"행사":    166,
	"파란학기제": 167,
	"파란학기":  167,
	"학사일정":  168,
}

// Categories returns a copy of the board category table.
func Categories() map[string]int {
	return maps.Clone(categories)
}

// CategoryID looks up a category by its Korean name.
func CategoryID(name string) (int, bool) {
	id, ok := categories[name]
	return id, ok
}

// Filter describes one board list query. The zero category means unset.
type Filter struct {
	listURL  string
	count    int
	category int
	keyword  string
}

// NewFilter returns an unfiltered query against listURL (BoardURL when empty).
func NewFilter(listURL string) *Filter {
	if listURL == "" {
		listURL = BoardURL
	}
	return &Filter{listURL: listURL, count: DefaultCount}
}

// SetCount sets the page size; non-positive values fall back to DefaultCount.
func (f *Filter) SetCount(n int) {
	if n <= 0 {
		n = DefaultCount
	}
	f.count = n
}

// SetCategory selects a category by name. An unknown name clears the
// category and returns ErrInvalidCategory; the filter stays usable.
func (f *Filter) SetCategory(name string) error {
	id, ok := categories[name]
	if !ok {
		f.category = 0
		return fmt.Errorf("%w: %q", ErrInvalidCategory, name)
	}
	f.category = id
	return nil
}

// SetKeyword sets the free-text search string.
func (f *Filter) SetKeyword(keyword string) {
	f.keyword = keyword
}

// Count returns the page size.
func (f *Filter) Count() int { return f.count }

// Category returns the selected category id, zero when unset.
func (f *Filter) Category() int { return f.category }

// Keyword returns the raw keyword.
func (f *Filter) Keyword() string { return f.keyword }

// Build renders the list URL at offset 0.
func (f *Filter) Build() string {
	category := ""
	if f.category != 0 {
		category = strconv.Itoa(f.category)
	}
	var b strings.Builder
	b.WriteString(f.listURL)
	b.WriteString("?mode=list&srSearchKey=&srSearchVal=")
	b.WriteString(escapeKeyword(f.keyword))
	b.WriteString("&article.offset=0&srCategoryId=")
	b.WriteString(category)
	b.WriteString("&articleLimit=")
	b.WriteString(strconv.Itoa(f.count))
	return b.String()
}

func (f *Filter) String() string {
	return f.Build()
}

// keywordReserved re-escapes the sub-delimiters that path escaping keeps.
var keywordReserved = strings.NewReplacer(
	"$", "%24", "&", "%26", "+", "%2B", ",", "%2C",
	":", "%3A", ";", "%3B", "=", "%3D", "@", "%40",
)

// escapeKeyword percent-encodes like the board's own search form: spaces as
// %20 and "/" left literal.
func escapeKeyword(keyword string) string {
	escaped := (&url.URL{Path: strings.TrimSpace(keyword)}).EscapedPath()
	return keywordReserved.Replace(escaped)
}
