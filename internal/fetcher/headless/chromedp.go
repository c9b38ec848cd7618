// Package headless renders the board in headless Chrome for deployments where
// a plain GET is served an interstitial instead of the listing.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/ajou-notice/noticepoller/internal/notice"
)

// DefaultNavigationTimeout bounds one page render when Config leaves it zero.
const DefaultNavigationTimeout = 15 * time.Second

// settleDelay lets the board's inline scripts finish rewriting the list.
const settleDelay = 300 * time.Millisecond

// Config controls the browser fetcher.
type Config struct {
	// MaxTabs caps concurrent renders; zero means unlimited.
	MaxTabs           int
	UserAgent         string
	NavigationTimeout time.Duration
	// IgnoreCertErrors mirrors the colly fetcher's InsecureSkipVerify.
	IgnoreCertErrors bool
}

// Fetcher implements notice.Fetcher with chromedp.
type Fetcher struct {
	cfg         Config
	tabs        chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts a browser allocator. Close releases it.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	var tabs chan struct{}
	if cfg.MaxTabs > 0 {
		tabs = make(chan struct{}, cfg.MaxTabs)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreCertErrors),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		tabs:        tabs,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() error {
	f.allocCancel()
	return nil
}

// Fetch renders request.URL and returns the settled DOM.
// Failures are classified as notice.ErrTimeout or notice.ErrUnreachable.
func (f *Fetcher) Fetch(ctx context.Context, request notice.FetchRequest) (notice.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return notice.FetchResponse{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	// Caller cancellation must reach the tab even though it hangs off the allocator.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := newDocumentMeta()
	chromedp.ListenTarget(tabCtx, doc.listen)

	start := time.Now()
	var html, finalURL string
	err := chromedp.Run(tabCtx,
		f.setup(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return notice.FetchResponse{}, classify(request.URL, err, tabCtx.Err())
	}

	status, headers, url := doc.snapshot(request.URL, finalURL)
	if err := statusError(request.URL, status); err != nil {
		return notice.FetchResponse{}, err
	}
	return notice.FetchResponse{
		URL:        url,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (f *Fetcher) setup(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	select {
	case f.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("waiting for a browser tab: %w", notice.ErrTimeout)
		}
		return fmt.Errorf("waiting for a browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.tabs == nil {
		return
	}
	<-f.tabs
}

func classify(url string, err, tabErr error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(tabErr, context.DeadlineExceeded) {
		return fmt.Errorf("chromedp fetch %s: %w: %w", url, notice.ErrTimeout, err)
	}
	return fmt.Errorf("chromedp fetch %s: %w: %w", url, notice.ErrUnreachable, err)
}

// statusError reports a rendered error page as unreachable.
func statusError(url string, status int) error {
	if status < http.StatusBadRequest {
		return nil
	}
	return fmt.Errorf("chromedp fetch %s: status %d: %w", url, status, notice.ErrUnreachable)
}

// documentMeta records the main document response seen by the tab.
type documentMeta struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func newDocumentMeta() *documentMeta {
	return &documentMeta{headers: http.Header{}}
}

func (m *documentMeta) listen(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *documentMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

// snapshot falls back to the tab location, then the requested URL, and
// reports 200 when no document response was observed.
func (m *documentMeta) snapshot(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url := m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, m.headers.Clone(), url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
