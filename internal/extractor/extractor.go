// Package extractor turns the notice board listing into notice records.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/metrics"
	"github.com/ajou-notice/noticepoller/internal/notice"
)

// Limiter throttles requests to the upstream host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Snapshotter keeps a raw copy of each fetched page.
type Snapshotter interface {
	Snapshot(ctx context.Context, sourceURL string, body []byte) (string, error)
}

// Config controls how the Extractor builds links.
type Config struct {
	// BoardURL is prepended to every relative article href.
	BoardURL string
	// Snapshots, when set, receives every fetched page before parsing.
	Snapshots Snapshotter
}

// Extractor fetches a listing page and parses it.
type Extractor struct {
	fetcher  notice.Fetcher
	limiter  Limiter
	snaps    Snapshotter
	boardURL string
	logger   *zap.Logger
}

// New wires an Extractor. limiter may be nil.
func New(cfg Config, fetcher notice.Fetcher, limiter Limiter, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	boardURL := cfg.BoardURL
	if boardURL == "" {
		boardURL = notice.BoardURL
	}
	return &Extractor{
		fetcher:  fetcher,
		limiter:  limiter,
		snaps:    cfg.Snapshots,
		boardURL: boardURL,
		logger:   logger,
	}
}

// FetchAndParse retrieves url and extracts its notices. Every failure is
// returned as a *notice.ParseError.
func (e *Extractor) FetchAndParse(ctx context.Context, url string) ([]notice.Notice, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, url); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", notice.ErrTimeout, err)
			}
			return nil, notice.NewParseError(url, err)
		}
	}

	resp, err := e.fetcher.Fetch(ctx, notice.FetchRequest{URL: url})
	if err != nil {
		e.logger.Warn("board fetch failed", zap.String("url", url), zap.Error(err))
		return nil, notice.NewParseError(url, err)
	}
	metrics.ObserveFetchDuration(resp.Duration)

	if e.snaps != nil {
		if _, err := e.snaps.Snapshot(ctx, url, resp.Body); err != nil {
			e.logger.Warn("board snapshot failed", zap.String("url", url), zap.Error(err))
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("status %d: %w", resp.StatusCode, notice.ErrUnreachable)
		e.logger.Warn("board returned error status", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return nil, notice.NewParseError(url, err)
	}

	notices, err := Parse(resp.Body, e.boardURL)
	if err != nil {
		e.logger.Warn("board parse failed",
			zap.String("url", url),
			zap.Int("bytes", len(resp.Body)),
			zap.Error(err),
		)
		return nil, notice.NewParseError(url, err)
	}

	e.logger.Debug("board parsed", zap.String("url", url), zap.Int("notices", len(notices)))
	return notices, nil
}
