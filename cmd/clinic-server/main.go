package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/docassist/clinic/internal/config"
	"github.com/docassist/clinic/internal/domain/identity"
	"github.com/docassist/clinic/internal/domain/records"
	"github.com/docassist/clinic/internal/domain/visit"
	"github.com/docassist/clinic/internal/platform/auth"
	"github.com/docassist/clinic/internal/platform/blobstore"
	"github.com/docassist/clinic/internal/platform/db"
	"github.com/docassist/clinic/internal/platform/events"
	"github.com/docassist/clinic/internal/platform/middleware"
	"github.com/docassist/clinic/internal/platform/validation"
)

const (
	version         = "0.1.0"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				states, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), states)
				return nil
			})
		},
	})

	cmd.PersistentFlags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	return cmd
}

func withMigrator(dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, os.DirFS(dir)))
}

func printStatus(w io.Writer, states []db.MigrationState) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range states {
		status, appliedAt := "pending", ""
		if !s.Pending() {
			status = "applied"
			appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(dev bool, out io.Writer) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// backends holds the optional infrastructure chosen from config, with the
// in-process fallback used for anything left unset.
type backends struct {
	revocations auth.RevocationStore
	publisher   events.Publisher
	blobs       blobstore.BlobStore
	closers     []func() error
}

func (b *backends) Close(logger zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("backend close failed")
		}
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.RedisURL != "" {
		client, err := auth.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.revocations = auth.NewRedisRevocations(client)
		b.closers = append(b.closers, client.Close)
		logger.Info().Msg("token revocations stored in redis")
	} else {
		mem := auth.NewMemoryRevocations(time.Minute)
		b.revocations = mem
		b.closers = append(b.closers, func() error { mem.Close(); return nil })
	}

	if cfg.AMQPURL != "" {
		pub, err := events.DialAMQP(cfg.AMQPURL)
		if err != nil {
			b.Close(logger)
			return nil, err
		}
		b.publisher = pub
		b.closers = append(b.closers, pub.Close)
		logger.Info().Str("exchange", events.Exchange).Msg("publishing events to rabbitmq")
	} else {
		b.publisher = events.Nop
	}

	if cfg.UseMinio() {
		store, err := blobstore.NewMinioBlobStore(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, records.MaxDocumentSize)
		if err != nil {
			b.Close(logger)
			return nil, err
		}
		b.blobs = store
		logger.Info().Str("bucket", cfg.MinioBucket).Msg("documents stored in minio")
	} else {
		b.blobs = blobstore.NewInMemoryBlobStore(records.MaxDocumentSize)
		logger.Warn().Msg("MINIO_ENDPOINT unset, documents kept in memory")
	}

	return b, nil
}

// routes is everything newServer mounts.
type routes struct {
	identity *identity.Handler
	visit    *visit.Handler
	records  *records.Handler
	dbHealth echo.HandlerFunc
}

func newServer(cfg *config.Config, logger zerolog.Logger, tokens *auth.Tokens, revocations auth.RevocationStore, r routes) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Auth runs after routing so the skipper can match route patterns.
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Tokens:      tokens,
		Revocations: revocations,
		Skipper:     auth.AuthSkipper,
		Logger:      logger,
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", r.dbHealth)

	apiV1 := e.Group("/api/v1")
	r.identity.RegisterRoutes(e, apiV1)
	r.visit.RegisterRoutes(apiV1)
	r.records.RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.IsDev(), os.Stdout)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	be, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close(logger)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)

	identitySvc := identity.NewService(
		identity.NewDoctorRepoPG(pool), identity.NewPatientRepoPG(pool),
		tokens, be.revocations, logger.With().Str("component", "identity").Logger())

	visitStore := visit.NewPGStore(pool)
	visitSvc := visit.NewService(visitStore, visitStore, be.publisher,
		logger.With().Str("component", "visit").Logger())

	recordsSvc := records.NewService(records.NewRepoPG(pool), be.blobs, identitySvc,
		logger.With().Str("component", "records").Logger())

	e := newServer(cfg, logger, tokens, be.revocations, routes{
		identity: identity.NewHandler(identitySvc),
		visit:    visit.NewHandler(visitSvc),
		records:  records.NewHandler(recordsSvc),
		dbHealth: db.PoolHealth(pool),
	})

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
