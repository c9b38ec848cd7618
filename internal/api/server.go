package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/metrics"
	"github.com/ajou-notice/noticepoller/internal/notice"
)

// SlowServiceMessage is returned when the board is slow or down.
const SlowServiceMessage = "아주대학교 홈페이지 서버 반응이 늦고 있네요. 잠시 후 다시 시도해보세요."

const (
	todayScanCount  = 30
	maxRequestCount = 100
)

// Reader is the read side of the notice store.
type Reader interface {
	ListByDate(ctx context.Context, date string) ([]notice.Notice, error)
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls the HTTP surface.
type Config struct {
	// BoardURL is the listing endpoint used for on-demand queries.
	BoardURL       string
	RequestTimeout time.Duration
	// APIKey, when set, is required on every request except probes.
	APIKey string
}

// Server wires HTTP handlers to the store and the extractor.
type Server struct {
	router    chi.Router
	store     Reader
	extractor notice.Extractor
	clock     notice.Clock
	cfg       Config
	logger    *zap.Logger
}

type noticesResponse struct {
	Notices []notice.Notice `json:"notices"`
	Count   int             `json:"count"`
	Date    string          `json:"date,omitempty"`
	Query   string          `json:"query,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store Reader,
	extractor notice.Extractor,
	clock notice.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		store:     store,
		extractor: extractor,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/categories", s.categories)
		r.Route("/notices", func(r chi.Router) {
			r.Get("/", s.listByDate)
			r.Get("/live", s.live)
			r.Get("/today", s.today)
			r.Get("/latest", s.latest)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("store not ready", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) categories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": notice.Categories()})
}

func (s *Server) listByDate(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = notice.FormatDate(s.clock.Now())
	} else if _, err := time.Parse(notice.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be formatted as yy.mm.dd")
		return
	}
	notices, err := s.store.ListByDate(r.Context(), date)
	if err != nil {
		s.logger.Error("list notices failed", zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list notices")
		return
	}
	writeJSON(w, http.StatusOK, noticesResponse{Notices: notices, Count: len(notices), Date: date})
}

func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := notice.NewFilter(s.cfg.BoardURL)
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRequestCount {
			writeError(w, http.StatusBadRequest, "count must be between 1 and 100")
			return
		}
		filter.SetCount(n)
	}
	var warning string
	if name := q.Get("category"); name != "" {
		if err := filter.SetCategory(name); err != nil {
			warning = err.Error()
		}
	}
	filter.SetKeyword(q.Get("keyword"))

	notices, ok := s.query(w, r, filter)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, noticesResponse{
		Notices: notices,
		Count:   len(notices),
		Query:   filter.Build(),
		Warning: warning,
	})
}

// today scans the newest notices and keeps the leading run posted today.
func (s *Server) today(w http.ResponseWriter, r *http.Request) {
	filter := notice.NewFilter(s.cfg.BoardURL)
	filter.SetCount(todayScanCount)
	notices, ok := s.query(w, r, filter)
	if !ok {
		return
	}
	date := notice.FormatDate(s.clock.Now())
	end := len(notices)
	for i, n := range notices {
		if n.Date != date {
			end = i
			break
		}
	}
	notices = notices[:end]
	writeJSON(w, http.StatusOK, noticesResponse{Notices: notices, Count: len(notices), Date: date})
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	filter := notice.NewFilter(s.cfg.BoardURL)
	filter.SetCount(1)
	notices, ok := s.query(w, r, filter)
	if !ok {
		return
	}
	if len(notices) == 0 {
		writeError(w, http.StatusNotFound, "no notices")
		return
	}
	writeJSON(w, http.StatusOK, notices[0])
}

// query runs filter through the extractor. It writes the error response
// itself and reports false when the handler should stop.
func (s *Server) query(w http.ResponseWriter, r *http.Request, filter *notice.Filter) ([]notice.Notice, bool) {
	notices, err := s.extractor.FetchAndParse(r.Context(), filter.Build())
	switch {
	case err == nil:
		return notices, true
	case errors.Is(err, notice.ErrNoNotices):
		return []notice.Notice{}, true
	case notice.IsServiceUnavailable(err):
		s.logger.Warn("board unavailable", zap.String("query", filter.String()), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, SlowServiceMessage)
	default:
		s.logger.Error("board query failed", zap.String("query", filter.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "unexpected board response")
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
