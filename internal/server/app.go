// Package server builds the application graph and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ajou-notice/noticepoller/internal/api"
	"github.com/ajou-notice/noticepoller/internal/archive"
	"github.com/ajou-notice/noticepoller/internal/clock/system"
	"github.com/ajou-notice/noticepoller/internal/config"
	"github.com/ajou-notice/noticepoller/internal/extractor"
	collyfetcher "github.com/ajou-notice/noticepoller/internal/fetcher/colly"
	"github.com/ajou-notice/noticepoller/internal/fetcher/headless"
	"github.com/ajou-notice/noticepoller/internal/id/uuid"
	"github.com/ajou-notice/noticepoller/internal/ingest"
	"github.com/ajou-notice/noticepoller/internal/logging"
	"github.com/ajou-notice/noticepoller/internal/metrics"
	"github.com/ajou-notice/noticepoller/internal/notice"
	"github.com/ajou-notice/noticepoller/internal/policy/ratelimit"
	memorypublisher "github.com/ajou-notice/noticepoller/internal/publisher/memory"
	pubsubpublisher "github.com/ajou-notice/noticepoller/internal/publisher/pubsub"
	redispublisher "github.com/ajou-notice/noticepoller/internal/publisher/redis"
	"github.com/ajou-notice/noticepoller/internal/retention"
	"github.com/ajou-notice/noticepoller/internal/scheduler"
	gcsstore "github.com/ajou-notice/noticepoller/internal/storage/gcs"
	localstore "github.com/ajou-notice/noticepoller/internal/storage/local"
	memorystore "github.com/ajou-notice/noticepoller/internal/storage/memory"
	pgstore "github.com/ajou-notice/noticepoller/internal/storage/postgres"
	sqlitestore "github.com/ajou-notice/noticepoller/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	clock     *system.Clock
	store     notice.Store
	publisher notice.Publisher
	closers   []namedCloser
	extractor *extractor.Extractor
	loop      *scheduler.Loop
	retention *retention.Job
	apiServer *api.Server
	closeOnce sync.Once
}

// namedCloser is a connection released on shutdown, newest first.
type namedCloser struct {
	name   string
	closer io.Closer
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	loc, err := system.Load(cfg.Board.TimeZone)
	if err != nil {
		return nil, err
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(loc),
	}
	logger.Info("building application dependencies",
		zap.String("board", cfg.Board.URL),
		zap.String("timezone", loc.String()),
		zap.String("database", cfg.Database.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
	)

	if err := setupStore(ctx, app); err != nil {
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.extractor, err = setupExtractor(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	ingester := ingest.New(
		ingest.Config{Channel: publishChannel(cfg)},
		app.store,
		app.publisher,
		app.clock,
		logger.Named("ingest"),
	)

	window := scheduler.Window{
		DayStartHour:    cfg.Scheduler.DayStartHour,
		NightStartHour:  cfg.Scheduler.NightStartHour,
		WakeHour:        cfg.Scheduler.WakeHour,
		WeekendWakeHour: cfg.Scheduler.WeekendWakeHour,
		Location:        loc,
	}
	app.loop = scheduler.New(
		scheduler.Config{
			URL:          DefaultQuery(cfg).Build(),
			Period:       cfg.Period(),
			RetryBackoff: cfg.RetryBackoff(),
			MaxRetries:   cfg.Scheduler.MaxRetries,
		},
		window,
		app.extractor,
		ingester,
		app.clock,
		scheduler.TimerSleeper{},
		uuid.New(),
		logger.Named("scheduler"),
	)
	app.loop.OnExit(func(state scheduler.State, err error) {
		if err != nil {
			logger.Error("poller exited abnormally", zap.String("state", state.String()), zap.Error(err))
		}
	})

	if cfg.Retention.Enabled {
		app.retention = retention.New(retention.Config{
			Schedule: cfg.Retention.Schedule,
			Days:     cfg.Retention.Days,
			Lookback: cfg.Retention.Lookback,
		}, app.store, app.clock, loc, logger.Named("retention"))
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(
		app.store,
		app.extractor,
		app.clock,
		api.Config{
			BoardURL:       cfg.Board.URL,
			RequestTimeout: cfg.RequestTimeout(),
			APIKey:         apiKey,
		},
		logger.Named("api"),
	)

	return app, nil
}

// DefaultQuery returns the filter polled every cycle.
func DefaultQuery(cfg *config.Config) *notice.Filter {
	filter := notice.NewFilter(cfg.Board.URL)
	filter.SetCount(cfg.Board.Count)
	if cfg.Board.Category != "" {
		// Validate already rejected unknown names
		_ = filter.SetCategory(cfg.Board.Category)
	}
	filter.SetKeyword(cfg.Board.Keyword)
	return filter
}

func publishChannel(cfg *config.Config) string {
	if cfg.Publisher.Backend == config.BackendNone {
		return ""
	}
	return cfg.Publisher.Channel
}

func setupStore(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	switch cfg.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewNoticeStore(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: app.cfg.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.store = store
		app.logger.Info("using postgres notice store", zap.String("table", cfg.Table))
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, cfg.Path)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.store = store
		app.logger.Info("using sqlite notice store", zap.String("path", cfg.Path))
	default:
		app.store = memorystore.NewNoticeStore()
		app.logger.Warn("using in-memory notice store, seen notices are lost on restart")
	}

	if cfg.AutoMigrate {
		if err := app.Migrate(ctx); err != nil {
			app.closeInfrastructure()
			return err
		}
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	switch app.cfg.Publisher.Backend {
	case config.BackendRedis:
		pub, err := redispublisher.New(ctx, app.cfg.Publisher.RedisURL)
		if err != nil {
			return fmt.Errorf("redis publisher init failed: %w", err)
		}
		app.closers = append(app.closers, namedCloser{"redis publisher", pub})
		app.publisher = pub
		app.logger.Info("publishing new notices to redis", zap.String("channel", app.cfg.Publisher.Channel))
	case config.BackendPubSub:
		pub, err := pubsubpublisher.New(ctx, app.cfg.Publisher.ProjectID, app.cfg.Publisher.Topic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.closers = append(app.closers, namedCloser{"pubsub publisher", pub})
		app.publisher = pub
		app.logger.Info("publishing new notices to pubsub",
			zap.String("project", app.cfg.Publisher.ProjectID),
			zap.String("topic", app.cfg.Publisher.Topic),
		)
	case config.BackendMemory:
		app.publisher = memorypublisher.New()
		app.logger.Info("recording new notices in memory", zap.String("channel", app.cfg.Publisher.Channel))
	default:
		app.logger.Info("new notice publishing disabled")
	}
	return nil
}

func setupExtractor(ctx context.Context, app *App) (*extractor.Extractor, error) {
	cfg := app.cfg.Fetcher
	if cfg.InsecureSkipVerify {
		app.logger.Warn("TLS certificate verification disabled for board requests")
	}

	var fetcher notice.Fetcher
	switch cfg.Backend {
	case config.BackendChromedp:
		hf, err := headless.New(headless.Config{
			MaxTabs:           cfg.MaxTabs,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: max(app.cfg.FetchTimeout(), headless.DefaultNavigationTimeout),
			IgnoreCertErrors:  cfg.InsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("chromedp fetcher init failed: %w", err)
		}
		app.closers = append(app.closers, namedCloser{"chromedp fetcher", hf})
		fetcher = hf
		app.logger.Info("using chromedp fetcher", zap.Int("max_tabs", cfg.MaxTabs))
	default:
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:          cfg.UserAgent,
			Timeout:            app.cfg.FetchTimeout(),
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
		app.logger.Info("using colly fetcher",
			zap.String("user_agent", cfg.UserAgent),
			zap.Duration("timeout", app.cfg.FetchTimeout()),
		)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.RateLimitRPS,
		Burst: cfg.RateLimitBurst,
	})
	app.logger.Info("board rate limit",
		zap.Float64("rps", cfg.RateLimitRPS),
		zap.Int("burst", cfg.RateLimitBurst),
	)

	snaps, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	exCfg := extractor.Config{BoardURL: app.cfg.Board.URL}
	if snaps != nil {
		exCfg.Snapshots = snaps
	}
	return extractor.New(exCfg, fetcher, limiter, app.logger.Named("extractor")), nil
}

func setupArchive(ctx context.Context, app *App) (*archive.Archive, error) {
	cfg := app.cfg.Archive
	var blobs archive.BlobStore
	switch cfg.Backend {
	case config.BackendLocal:
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		blobs = store
		app.logger.Info("archiving board pages to disk", zap.String("dir", cfg.Dir))
	case config.BackendGCS:
		store, err := gcsstore.Open(ctx, gcsstore.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.closers = append(app.closers, namedCloser{"gcs archive", store})
		blobs = store
		app.logger.Info("archiving board pages to gcs", zap.String("bucket", cfg.Bucket))
	case config.BackendMemory:
		blobs = memorystore.NewBlobStore()
		app.logger.Info("archiving board pages in memory")
	default:
		return nil, nil
	}
	return archive.New(archive.Config{Prefix: cfg.Prefix}, blobs, app.clock, app.logger.Named("archive")), nil
}

// Migrate applies the store schema when the backend has one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(notice.Migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	a.logger.Info("store schema ready", zap.String("backend", a.cfg.Database.Backend))
	return nil
}

// Query runs one on-demand board query.
func (a *App) Query(ctx context.Context, filter *notice.Filter) ([]notice.Notice, error) {
	notices, err := a.extractor.FetchAndParse(ctx, filter.Build())
	if err != nil {
		return nil, fmt.Errorf("query board: %w", err)
	}
	return notices, nil
}

// Prune runs the retention job once, whether or not it is scheduled.
func (a *App) Prune(ctx context.Context) (int64, error) {
	job := a.retention
	if job == nil {
		loc := a.clock.Location()
		job = retention.New(retention.Config{
			Schedule: a.cfg.Retention.Schedule,
			Days:     a.cfg.Retention.Days,
			Lookback: a.cfg.Retention.Lookback,
		}, a.store, a.clock, loc, a.logger.Named("retention"))
	}
	n, err := job.RunOnce(ctx)
	if err != nil {
		return n, fmt.Errorf("prune notices: %w", err)
	}
	return n, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the poller, the HTTP server and the retention job, and blocks
// until the context is canceled, a signal arrives, or the poller fails.
// A poller failure is returned so the process exits non-zero.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- a.loop.Run(ctx)
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	if a.retention != nil {
		if err := a.retention.Start(ctx); err != nil {
			stop()
			<-loopDone
			return errors.Join(err, a.Close(context.Background()))
		}
	}

	var loopErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
		loopErr = <-loopDone
	case loopErr = <-loopDone:
		a.logger.Info("shutdown initiated after poller exit")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if a.retention != nil {
		a.retention.Stop(shutdownCtx)
	}

	return errors.Join(loopErr, a.Close(shutdownCtx))
}

// Close releases the store and publisher connections. Later calls are no-ops.
func (a *App) Close(_ context.Context) error {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.closer.Close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("notice store close failed", zap.Error(err))
		}
		a.store = nil
	}
}
