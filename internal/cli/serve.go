package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ashureev/shsh-lessons/internal/api"
	"github.com/ashureev/shsh-lessons/internal/config"
	"github.com/ashureev/shsh-lessons/internal/curriculum"
	"github.com/ashureev/shsh-lessons/internal/lesson"
	"github.com/ashureev/shsh-lessons/internal/logging"
	"github.com/ashureev/shsh-lessons/internal/middleware"
	"github.com/ashureev/shsh-lessons/internal/race"
	"github.com/ashureev/shsh-lessons/internal/session"
	"github.com/ashureev/shsh-lessons/internal/state"
	"github.com/ashureev/shsh-lessons/internal/store"
	"github.com/ashureev/shsh-lessons/internal/testrun"
	"github.com/ashureev/shsh-lessons/internal/watcher"
	"github.com/ashureev/shsh-lessons/internal/workspace"
	"github.com/ashureev/shsh-lessons/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/uber-go/tally"
	"go.uber.org/multierr"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lesson server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				slog.Info("No .env file found, using environment variables")
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("port", "8080", "HTTP listen port")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}

// server holds the wired components of a running lessond.
type server struct {
	cfg      *config.Config
	logger   *slog.Logger
	repo     store.Repository
	watch    *watcher.Watcher
	sessions *session.Manager
	router   http.Handler
}

// newServer wires every component from cfg. The caller owns Close.
func newServer(cfg *config.Config, logger *slog.Logger, scope tally.Scope) (*server, error) {
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize run store: %w", err)
	}

	races := race.New(cfg.RaceWait)
	states := state.NewStore(cfg.StateFile, cfg.ProjectsFile, cfg.DefaultLocale, logger)
	catalogue := state.NewCatalogue(cfg.CatalogueFile)
	loader := &curriculum.Loader{Dir: cfg.CurriculumDir, DefaultLocale: cfg.DefaultLocale}
	files := workspace.New(cfg.WorkspaceRoot, races, logger)

	lessons := lesson.NewRunner(states, loader, catalogue, files, logger, scope)

	runner, err := newCommandRunner(cfg)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	executor := testrun.NewExecutor(lessons, runner, repo, logger, scope)

	watch, err := watcher.New(cfg.WorkspaceRoot, cfg.WatchExclusions(), logger, scope)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("initialize watcher: %w", err)
	}

	sessions := session.NewManager()
	wsHandler := session.NewHandler(session.Config{
		State:        states,
		Catalogue:    catalogue,
		Visibility:   files,
		Lessons:      lessons,
		Tests:        executor,
		Watcher:      watch,
		Sessions:     sessions,
		ClearConsole: cfg.ClearConsoleOnWatch,
		Logger:       logger,
		Scope:        scope,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	api.NewHealthHandler(repo, sessions.Count).RegisterHealth(r)
	r.Route("/api", api.NewLessonsHandler(states, catalogue, repo).Register)
	r.Get("/ws", wsHandler.ServeHTTP)
	r.Handle("/*", web.Handler(cfg.ClientDir))

	return &server{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		watch:    watch,
		sessions: sessions,
		router:   r,
	}, nil
}

// Close releases the run store and any sessions still connected.
func (s *server) Close() error {
	s.sessions.CloseAll("server shutting down")
	return s.repo.Close()
}

func newCommandRunner(cfg *config.Config) (testrun.CommandRunner, error) {
	if cfg.DockerContainer == "" {
		return &testrun.ShellRunner{Root: cfg.WorkspaceRoot, Shell: cfg.TestShell}, nil
	}
	runner, err := testrun.NewDockerRunner(cfg.DockerContainer, cfg.DockerWorkdir)
	if err != nil {
		return nil, fmt.Errorf("initialize docker runner: %w", err)
	}
	runner.Shell = cfg.TestShell
	return testrun.NewBreakerRunner("docker:"+cfg.DockerContainer, runner, 0, nil), nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

func runServe(ctx context.Context, cfg *config.Config) (err error) {
	logOut, closeLog, err := openLog(cfg.LogFile)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	scope, scopeCloser := tally.NewRootScope(tally.ScopeOptions{
		Prefix: "lessond",
		Tags:   map[string]string{"service": "lessond"},
	}, cfg.MetricsInterval)

	srv, err := newServer(cfg, logger, scope)
	if err != nil {
		return multierr.Combine(err, scopeCloser.Close(), closeLog())
	}
	defer func() {
		err = multierr.Combine(err, srv.Close(), scopeCloser.Close(), closeLog())
	}()

	if err := srv.repo.Ping(ctx); err != nil {
		return fmt.Errorf("run store health check: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.watch.Run(ctx); err != nil {
			logger.Error("Watcher stopped", "error", err)
		}
	}()

	var retentionDone <-chan struct{}
	if cfg.RunRetention > 0 {
		retentionDone = store.StartRetentionWorker(ctx, srv.repo, cfg.RetentionInterval, cfg.RunRetention)
		logger.Info("Retention worker started", "retention", cfg.RunRetention)
	}

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.router,
		// Websocket sessions are long lived; no write timeout.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", httpSrv.Addr, "workspace", cfg.WorkspaceRoot, "dev", cfg.IsDevelopment())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	stop()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	srv.sessions.CloseAll("server shutting down")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if retentionDone != nil {
		<-retentionDone
	}

	logger.Info("Server stopped successfully")
	return nil
}

// openLog writes logs to stdout and, off the request path, to the temp
// log file the watcher excludes.
func openLog(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	sink := logging.NewAsyncWriter(f, 0, nil)
	closeLog := func() error {
		return multierr.Append(sink.Close(), f.Close())
	}
	return io.MultiWriter(os.Stdout, sink), closeLog, nil
}
