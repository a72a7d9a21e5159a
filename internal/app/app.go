// Package app builds the annotator's dependency graph from configuration and
// owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/annotator"
	"github.com/JakeFAU/uniprot-annotator/internal/api"
	"github.com/JakeFAU/uniprot-annotator/internal/clock/system"
	"github.com/JakeFAU/uniprot-annotator/internal/config"
	"github.com/JakeFAU/uniprot-annotator/internal/extract"
	collyfetcher "github.com/JakeFAU/uniprot-annotator/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/uniprot-annotator/internal/fetcher/headless"
	"github.com/JakeFAU/uniprot-annotator/internal/fetcher/promote"
	"github.com/JakeFAU/uniprot-annotator/internal/hash/sha256"
	"github.com/JakeFAU/uniprot-annotator/internal/headless/detector"
	"github.com/JakeFAU/uniprot-annotator/internal/id/uuid"
	"github.com/JakeFAU/uniprot-annotator/internal/metrics"
	"github.com/JakeFAU/uniprot-annotator/internal/progress"
	progresssinks "github.com/JakeFAU/uniprot-annotator/internal/progress/sinks"
	gcsstorage "github.com/JakeFAU/uniprot-annotator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/uniprot-annotator/internal/storage/local"
	memorystorage "github.com/JakeFAU/uniprot-annotator/internal/storage/memory"
	pgstore "github.com/JakeFAU/uniprot-annotator/internal/storage/postgres"
	"github.com/JakeFAU/uniprot-annotator/internal/table"
	"github.com/JakeFAU/uniprot-annotator/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Options adjusts how Build wires optional collaborators.
type Options struct {
	// ProgressOut receives the terminal progress bar; nil disables the bar.
	ProgressOut io.Writer
	// Registerer receives the progress collectors. Defaults to the global registry.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	headless    *headlessfetcher.Fetcher
	gcs         *gcsstorage.BlobStore
	results     *pgstore.ResultStore
	runs        *pgstore.RunStore
	progressHub *progress.Hub
	worker      *worker.Worker
	annotator   *annotator.Annotator
	apiServer   *api.Server
}

// Build creates the application's dependencies. Resources opened before a
// failing step are released before the error is returned.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("source_mode", cfg.Source.Mode),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("ledger", cfg.DB.DSN != ""),
	)

	fetcher, err := setupFetcher(app)
	if err != nil {
		return nil, app.abort(ctx, err)
	}

	blobStore, err := setupArchive(ctx, app)
	if err != nil {
		return nil, app.abort(ctx, err)
	}

	results, err := setupLedger(ctx, app)
	if err != nil {
		return nil, app.abort(ctx, err)
	}

	emitter, err := setupProgress(ctx, app, opts)
	if err != nil {
		return nil, app.abort(ctx, err)
	}

	clock := system.New()
	app.worker = worker.New(
		fetcher,
		extract.New(extract.Config{
			Markers:    cfg.Extract.Markers,
			Subheading: cfg.Extract.Subheading,
			Terminator: cfg.Extract.Terminator,
		}),
		blobStore,
		results,
		sha256.New(),
		clock,
		emitter,
		worker.Config{
			FetchTimeout:  cfg.FetchTimeout(),
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger.Named("worker"),
	)
	app.annotator = annotator.New(app.worker, uuid.New(), clock, emitter, logger.Named("annotator"))
	apiCfg := api.Config{}
	if app.runs != nil {
		apiCfg.Runs = app.runs
	}
	app.apiServer = api.NewServer(app.worker, apiCfg, logger.Named("api"))
	return app, nil
}

func (a *App) abort(ctx context.Context, err error) error {
	if closeErr := a.Close(ctx); closeErr != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(closeErr))
	}
	return err
}

func setupFetcher(app *App) (annotation.Fetcher, error) {
	cfg := app.cfg
	probe := collyfetcher.New(collyfetcher.Config{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	if cfg.Source.Mode == config.ModeHTTP {
		app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.Source.UserAgent))
		return probe, nil
	}

	headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		BaseURL:           cfg.Source.BaseURL,
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Source.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	app.headless = headless
	if cfg.Source.Mode == config.ModeHeadless {
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		return headless, nil
	}
	app.logger.Info("using colly fetcher with headless promotion",
		zap.Int("max_parallel", cfg.Headless.MaxParallel),
		zap.Int("promotion_threshold", cfg.Headless.PromotionThreshold),
	)
	return promote.New(
		probe,
		headless,
		detector.NewHeuristic(cfg.Headless.PromotionThreshold),
		app.logger.Named("promote"),
	), nil
}

// setupArchive returns a nil interface when archiving is off so the worker
// skips the step entirely.
func setupArchive(ctx context.Context, app *App) (annotation.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcs = store
		app.logger.Info("archiving pages to GCS", zap.String("bucket", cfg.Bucket), zap.String("prefix", cfg.Prefix))
		return store, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages locally", zap.String("path", cfg.BaseDir))
		return store, nil
	case config.ArchiveMemory:
		app.logger.Info("archiving pages in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Debug("page archive disabled")
		return nil, nil
	}
}

func setupLedger(ctx context.Context, app *App) (annotation.ResultStore, error) {
	cfg := app.cfg.DB
	if cfg.DSN == "" {
		app.logger.Debug("no DSN configured, lookup ledger disabled")
		return nil, nil
	}
	store, err := pgstore.NewResultStore(ctx, pgstore.Config{
		DSN:      cfg.DSN,
		Table:    cfg.Table,
		MaxConns: int32(cfg.MaxConns), //nolint:gosec // validated small positive value
	})
	if err != nil {
		return nil, fmt.Errorf("result store init failed: %w", err)
	}
	app.results = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("result store schema: %w", err)
	}
	runs, err := store.RunStore(cfg.RunsTable)
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("run store schema: %w", err)
	}
	app.runs = runs
	app.logger.Info("lookup ledger initialized",
		zap.String("table", cfg.Table),
		zap.String("runs_table", cfg.RunsTable),
	)
	return store, nil
}

func setupProgress(ctx context.Context, app *App, opts Options) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	}
	if app.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")))
		app.logger.Debug("Added progress store sink")
	}
	if opts.ProgressOut != nil {
		sinkList = append(sinkList, progresssinks.NewTerminalSink(opts.ProgressOut, "Progress"))
		app.logger.Debug("Added terminal progress sink")
	}
	hubCfg := progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return app.progressHub, nil
}

// Worker exposes the single-lookup pipeline.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// Annotator exposes the run orchestrator.
func (a *App) Annotator() *annotator.Annotator {
	return a.annotator
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// AnnotateFile reads the table at path, annotates it, and writes the result
// next to the input. It returns the output path.
func (a *App) AnnotateFile(ctx context.Context, path string, opts annotator.Options) (string, annotator.Summary, error) {
	t, err := table.Read(path)
	if err != nil {
		return "", annotator.Summary{}, err
	}
	if opts.SummaryColumn == "" {
		opts.SummaryColumn = a.cfg.Run.SummaryColumn
	}
	summary, err := a.annotator.Annotate(ctx, t, opts)
	if err != nil {
		return "", annotator.Summary{}, err
	}
	out := table.OutputPath(path, a.cfg.Run.OutputSuffix)
	if err := table.Write(out, t); err != nil {
		return "", summary, err
	}
	a.logger.Info("annotated table written", zap.String("path", out))
	return out, summary, nil
}

// Serve runs the HTTP API until ctx is canceled or SIGINT/SIGTERM arrives,
// then shuts the listener down gracefully.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err, ok := <-errCh:
		if ok {
			a.logger.Error("http server error", zap.Error(err))
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return serveErr
}

// Close flushes progress, writes the metrics textfile when configured, and
// releases every client Build opened.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			errs = append(errs, err)
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.results != nil {
		a.results.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	a.logger.Debug("shutdown complete")
	return nil
}
