package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	httpapi "github.com/immxrtalbeast/checkin/internal/api/http"
	"github.com/immxrtalbeast/checkin/internal/api/http/converter"
	"github.com/immxrtalbeast/checkin/internal/config"
	"github.com/immxrtalbeast/checkin/internal/metrics"
	"github.com/immxrtalbeast/checkin/internal/qr"
	"github.com/immxrtalbeast/checkin/internal/repository"
	"github.com/immxrtalbeast/checkin/internal/repository/model"
	"github.com/immxrtalbeast/checkin/internal/service"
	"github.com/immxrtalbeast/checkin/internal/storage"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
	"github.com/immxrtalbeast/checkin/lib/logger/slogpretty"
	"github.com/immxrtalbeast/checkin/lib/venuetime"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)
	if cfg.Env != envLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Error("failed to set up tracing", sl.Err(err))
		os.Exit(1)
	}
	defer shutdownTracing()

	zone, err := venuetime.Load(cfg.Venue.Timezone)
	if err != nil {
		log.Error("failed to load venue timezone", slog.String("timezone", cfg.Venue.Timezone), sl.Err(err))
		os.Exit(1)
	}

	guestRepo, operatorRepo, closeStore, err := openRepositories(cfg.Database, zone)
	if err != nil {
		log.Error("failed to open guest store", slog.String("driver", cfg.Database.Driver), sl.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := storage.NewFileStore(cfg.Storage.MediaDir, "/media")
	if err != nil {
		log.Error("failed to prepare media dir", sl.Err(err))
		os.Exit(1)
	}
	encoder := qr.NewEncoder(qr.Options{
		Size:      cfg.QR.Size,
		LogoPath:  cfg.Venue.LogoPath,
		LogoRatio: cfg.QR.LogoRatio,
	}, log)

	feed := service.NewFeed(m, log)
	attendanceService := service.NewAttendanceService(guestRepo, zone, feed, m, log)
	guestService := service.NewGuestService(guestRepo, encoder, store, zone, m, log)
	reportService := service.NewReportService(guestRepo, zone, log)
	operatorService := service.NewOperatorService(operatorRepo, log)

	if err := operatorService.SeedOperators(ctx, operatorSeeds(cfg.Operators)); err != nil {
		log.Error("failed to seed operators", sl.Err(err))
		os.Exit(1)
	}

	presenter := converter.Presenter{Zone: zone, MediaURL: store.URL}
	scanController := httpapi.NewScanController(attendanceService, presenter, log)
	guestController := httpapi.NewGuestController(guestService, presenter, log)
	reportController := httpapi.NewReportController(reportService, presenter, log)
	liveController := httpapi.NewLiveController(feed, reportService, presenter, cfg.HTTP.AllowedOrigins, log)

	router := httpapi.SetupRouter(httpapi.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MediaDir:       store.Root(),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Operators:      operatorService,
		ServiceName:    cfg.Tracing.ServiceName,
		Log:            log,
	}, scanController, guestController, reportController, liveController)

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info("starting application",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("venue", cfg.Venue.Name),
			slog.String("driver", cfg.Database.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

// setupTracing exports spans over OTLP/gRPC when an endpoint is configured.
// Without one the global no-op provider stays in place.
func setupTracing(ctx context.Context, cfg config.TracingConfig) (func(), error) {
	if cfg.OTLPEndpoint == "" {
		return func() {}, nil
	}

	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("otlp connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
		conn.Close()
	}, nil
}

func openRepositories(
	cfg config.DatabaseConfig,
	zone *venuetime.Zone,
) (repository.GuestRepository, repository.OperatorRepository, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := connectDatabase(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return repository.NewPostgresGuestRepository(db, cfg.LockTimeout),
			repository.NewPostgresOperatorRepository(db),
			closeDB, nil

	case config.DriverBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, nil, nil, err
		}
		db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.LockTimeout})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open %s: %w", cfg.Path, err)
		}
		guests, err := repository.NewBoltGuestRepository(db, zone, cfg.LockTimeout)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return guests, repository.NewInMemoryOperatorRepository(), func() { db.Close() }, nil

	default:
		return repository.NewInMemoryGuestRepository(cfg.LockTimeout),
			repository.NewInMemoryOperatorRepository(),
			func() {}, nil
	}
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.Guest{}, &model.Operator{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

func operatorSeeds(ops []config.OperatorConfig) []service.OperatorSeed {
	seeds := make([]service.OperatorSeed, 0, len(ops))
	for _, op := range ops {
		seeds = append(seeds, service.OperatorSeed{
			Username:     op.Username,
			Password:     op.Password,
			PasswordHash: op.PasswordHash,
			Capabilities: op.Capabilities,
		})
	}
	return seeds
}
