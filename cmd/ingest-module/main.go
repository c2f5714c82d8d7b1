// Точка входа Ingest Module — приём, проверка и хранение пользовательских файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/audit"
	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/database"
	"github.com/bigkaa/goartstore/ingest-module/internal/lifecycle"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/scanner"
	"github.com/bigkaa/goartstore/ingest-module/internal/server"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/quarantinelog"
	"github.com/bigkaa/goartstore/ingest-module/internal/thumbnail"
	"github.com/bigkaa/goartstore/ingest-module/internal/validator"
)

func main() {
	// .env нужен только для локального запуска, в кластере его нет
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Ingest Module запускается",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_root", cfg.StorageRoot),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ingest Module завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Ingest Module остановлен")
}

// run собирает компоненты, запускает HTTP-сервер и блокируется до его остановки.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// --- Хранилище ---

	l, err := layout.New(cfg.StorageRoot)
	if err != nil {
		return err
	}
	if err := l.Initialize(); err != nil {
		return fmt.Errorf("инициализация хранилища: %w", err)
	}

	icons := thumbnail.NewIcons(l, cfg.ThumbnailSize, logger)
	if err := icons.EnsureGenerated(); err != nil {
		return fmt.Errorf("генерация иконок: %w", err)
	}

	store := filestore.New(l)
	quarantine := quarantinelog.New(l.QuarantineLogPath(), logger)

	// --- База данных ---

	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	schemaVersion, err := database.LatestVersion()
	if err != nil {
		return err
	}
	repo := repository.NewFileRepository(pool)

	// --- Аудит ---

	var sink audit.Sink = audit.NewLogSink(logger)
	if cfg.AuditSink == config.AuditSinkKafka {
		kafkaSink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaWriteTimeout, logger)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("Ошибка закрытия Kafka writer", slog.String("error", err.Error()))
			}
		}()
		sink = audit.MultiSink{sink, kafkaSink}
		logger.Info("События аудита публикуются в Kafka",
			slog.String("topic", cfg.KafkaTopic),
			slog.Any("brokers", cfg.KafkaBrokers),
		)
	}

	// --- Антивирус ---

	var engine scanner.Engine
	if cfg.ClamdAddress != "" {
		clamd, err := scanner.NewClamdEngine(cfg.ClamdAddress)
		if err != nil {
			return fmt.Errorf("настройка clamd: %w", err)
		}
		engine = clamd
	}
	notifier := scanner.NewFanOutNotifier(sink, cfg.AdminRecipients, cfg.MaxAlertRecipients, logger)
	scan := scanner.NewAdapter(engine, scanner.Config{
		Timeout:        cfg.ScanTimeout,
		ArchiveCeiling: cfg.ArchiveScanCeiling,
		DevOverride:    cfg.ScanDevOverride,
	}, notifier, logger)
	// Недоступный движок не мешает запуску: адаптер уже записал предупреждение
	_ = scan.Initialize(ctx)

	// --- Превью ---

	worker := thumbnail.NewWorker(thumbnail.Config{
		Concurrency:  cfg.ThumbnailConcurrency,
		OrphanMinAge: cfg.ThumbnailOrphanMinAge,
	}, repo, store, l, thumbnail.NewRenderer(cfg.ThumbnailSize, cfg.ThumbnailQuality), icons, logger)
	worker.Start(ctx)
	defer worker.Stop()

	// --- Сервисы ---

	ingestSvc := service.NewIngestService(service.IngestConfig{
		DefaultExpiry: cfg.DefaultExpiry,
		UserQuota:     cfg.UserQuotaBytes,
	}, service.IngestDeps{
		Validator:  validator.New(cfg.MaxUploadSize, cfg.AllowedMIMETypes, logger),
		Layout:     l,
		Store:      store,
		Scanner:    scan,
		Repo:       repo,
		Quarantine: quarantine,
		Audit:      sink,
		Thumbnails: worker,
	}, logger)
	fileSvc := service.NewFileService(repo, store, logger)

	// --- Жизненный цикл ---

	manager := lifecycle.NewManager(lifecycle.Config{
		RecoveryWindow:        cfg.RecoveryWindow,
		TempMaxAge:            cfg.TempMaxAge,
		QuarantineRetention:   cfg.QuarantineRetention,
		OrphanMinAge:          cfg.OrphanMinAge,
		ThumbnailOrphanMinAge: cfg.ThumbnailOrphanMinAge,
		DiskThreshold:         cfg.DiskUsageThreshold,
		PurgeBatchSize:        cfg.PurgeBatchSize,
		StatsCacheTTL:         cfg.StatsCacheTTL,
	}, repo, store, l, quarantine, nil, sink, logger)

	scheduler := lifecycle.NewScheduler(logger)
	if err := lifecycle.RegisterJobs(scheduler, manager, lifecycle.Intervals{
		Expired:        cfg.ExpiredInterval,
		Orphans:        cfg.OrphanInterval,
		Disk:           cfg.DiskCheckInterval,
		Temp:           cfg.TempCleanupInterval,
		Quarantine:     cfg.TempCleanupInterval,
		ThumbnailSweep: cfg.ThumbnailSweepInterval,
	}, worker); err != nil {
		return fmt.Errorf("регистрация фоновых задач: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// --- topologymetrics ---

	dephealthSvc, err := service.NewDephealthService(service.DephealthParams{
		ServiceID:     dephealthName(cfg),
		Group:         cfg.DephealthGroup,
		DB:            stdlib.OpenDBFromPool(pool),
		PgConnURL:     cfg.DatabaseURL("postgres"),
		JWKSURL:       cfg.JWKSUrl,
		TLSSkipVerify: cfg.TLSSkipVerify,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
	}

	// --- HTTP ---

	auth, err := authMiddleware(cfg, logger)
	if err != nil {
		return err
	}

	api := handlers.NewAPIHandler(
		handlers.NewFilesHandler(handlers.FilesConfig{
			MaxUploadSize:  cfg.MaxUploadSize,
			PreviewBaseURL: cfg.PreviewBaseURL,
			AdminScope:     cfg.AdminScope,
		}, ingestSvc, fileSvc, manager, logger),
		handlers.NewAdminHandler(worker, manager, scheduler, quarantine, logger),
		handlers.NewHealthHandler(l.Abs(layout.TempDir), database.NewReadinessChecker(pool, schemaVersion), scan),
	)

	srv := server.New(cfg, logger, api, auth)
	if err := srv.Run(); err != nil {
		return fmt.Errorf("ошибка сервера: %w", err)
	}

	// Фоновые процессы останавливаются отложенными вызовами в обратном порядке
	logger.Info("Остановка фоновых процессов...")
	return nil
}

// authMiddleware выбирает проверку JWT или, при IM_DEV_AUTH=true, режим разработки.
func authMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if !cfg.AuthEnabled() {
		logger.Warn("IM_JWKS_URL не задан, аутентификация по заголовкам (режим разработки)",
			slog.String("user_header", middleware.DevUserHeader),
			slog.String("scopes_header", middleware.DevScopesHeader),
		)
		return middleware.DevAuth(), nil
	}

	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		TLSSkipVerify:   cfg.TLSSkipVerify,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("настройка JWT: %w", err)
	}
	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	return jwtAuth.Middleware(), nil
}
