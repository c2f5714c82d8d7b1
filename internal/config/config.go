// Пакет config — загрузка и валидация конфигурации Ingest Module
// из переменных окружения (префикс IM_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения IM_AUDIT_SINK.
const (
	AuditSinkLog   = "log"
	AuditSinkKafka = "kafka"
)

// Config содержит все параметры конфигурации Ingest Module.
type Config struct {
	// --- HTTP ---

	// Порт HTTP-сервера
	Port int `env:"IM_PORT" envDefault:"8080"`
	// Имя вершины графа в topologymetrics
	ServiceID string `env:"IM_SERVICE_ID" envDefault:"ingest-module"`
	// Путь к TLS сертификату (пусто — без TLS)
	TLSCert string `env:"IM_TLS_CERT"`
	// Путь к TLS приватному ключу
	TLSKey          string        `env:"IM_TLS_KEY"`
	ReadTimeout     time.Duration `env:"IM_HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"IM_HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout     time.Duration `env:"IM_HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"IM_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	// Базовый URL для previewUrl в ответах API
	PreviewBaseURL string `env:"IM_PREVIEW_BASE_URL" envDefault:"/api/v1/files"`

	// --- Хранилище и валидация ---

	// Корень хранилища: files/, thumbnails/, quarantine/, temp/, icons/
	StorageRoot string `env:"IM_STORAGE_ROOT,required"`
	// Максимальный размер загружаемого файла (по умолчанию 25 MiB)
	MaxUploadSize int64 `env:"IM_MAX_UPLOAD_SIZE" envDefault:"26214400"`
	// Дополнительный allow-list MIME-типов (пусто — встроенный список)
	AllowedMIMETypes []string `env:"IM_ALLOWED_MIME_TYPES" envSeparator:","`
	// Квота на пользователя в байтах (0 — без ограничения)
	UserQuotaBytes int64 `env:"IM_USER_QUOTA_BYTES" envDefault:"0"`
	// Срок жизни файла по умолчанию (0 — бессрочно)
	DefaultExpiry time.Duration `env:"IM_DEFAULT_EXPIRY" envDefault:"0s"`

	// --- Антивирусная проверка ---

	// Адрес clamd: host:port, tcp://host:port или unix:/path (пусто — сканер недоступен)
	ClamdAddress string `env:"IM_CLAMD_ADDRESS"`
	// Таймаут проверки одного файла
	ScanTimeout time.Duration `env:"IM_SCAN_TIMEOUT" envDefault:"30s"`
	// Порог размера архива, выше которого проверка не выполняется (100 MiB)
	ArchiveScanCeiling int64 `env:"IM_ARCHIVE_SCAN_CEILING" envDefault:"104857600"`
	// Не помещать в карантин при ошибке движка (только для локальной разработки)
	ScanDevOverride bool `env:"IM_SCAN_DEV_OVERRIDE" envDefault:"false"`
	// Получатели административных оповещений
	AdminRecipients []string `env:"IM_ADMIN_RECIPIENTS" envSeparator:","`
	// Максимальное количество получателей одного оповещения
	MaxAlertRecipients int `env:"IM_MAX_ALERT_RECIPIENTS" envDefault:"10"`

	// --- Аудит ---

	// Приёмник событий безопасности: log или kafka
	AuditSink         string        `env:"IM_AUDIT_SINK" envDefault:"log"`
	KafkaBrokers      []string      `env:"IM_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic        string        `env:"IM_KAFKA_TOPIC" envDefault:"ingest.security-audit"`
	KafkaWriteTimeout time.Duration `env:"IM_KAFKA_WRITE_TIMEOUT" envDefault:"5s"`

	// --- Превью ---

	ThumbnailSize        int `env:"IM_THUMBNAIL_SIZE" envDefault:"200"`
	ThumbnailConcurrency int `env:"IM_THUMBNAIL_CONCURRENCY" envDefault:"5"`
	ThumbnailQuality     int `env:"IM_THUMBNAIL_QUALITY" envDefault:"80"`

	// --- Жизненный цикл ---

	// Окно восстановления после мягкого удаления
	RecoveryWindow time.Duration `env:"IM_RECOVERY_WINDOW" envDefault:"24h"`
	// Интервалы фоновых задач
	ExpiredInterval        time.Duration `env:"IM_EXPIRED_INTERVAL" envDefault:"6h"`
	OrphanInterval         time.Duration `env:"IM_ORPHAN_INTERVAL" envDefault:"24h"`
	DiskCheckInterval      time.Duration `env:"IM_DISK_CHECK_INTERVAL" envDefault:"1h"`
	TempCleanupInterval    time.Duration `env:"IM_TEMP_CLEANUP_INTERVAL" envDefault:"12h"`
	ThumbnailSweepInterval time.Duration `env:"IM_THUMBNAIL_SWEEP_INTERVAL" envDefault:"24h"`
	// Порог заполнения диска для аварийной очистки (0..1)
	DiskUsageThreshold float64 `env:"IM_DISK_USAGE_THRESHOLD" envDefault:"0.85"`
	// Возраст файлов temp/, после которого они удаляются
	TempMaxAge time.Duration `env:"IM_TEMP_MAX_AGE" envDefault:"24h"`
	// Срок хранения файлов в карантине
	QuarantineRetention time.Duration `env:"IM_QUARANTINE_RETENTION" envDefault:"168h"`
	// Минимальный возраст превью-сироты перед удалением
	ThumbnailOrphanMinAge time.Duration `env:"IM_THUMBNAIL_ORPHAN_MIN_AGE" envDefault:"720h"`
	// Минимальный возраст файла-сироты перед удалением (защита файлов в процессе проверки)
	OrphanMinAge time.Duration `env:"IM_ORPHAN_MIN_AGE" envDefault:"1h"`
	// Размер пачки при очистке просроченных файлов
	PurgeBatchSize int `env:"IM_PURGE_BATCH_SIZE" envDefault:"500"`
	// TTL кэша размеров директорий для статистики
	StatsCacheTTL time.Duration `env:"IM_STATS_CACHE_TTL" envDefault:"1m"`

	// --- PostgreSQL ---

	DBHost     string `env:"IM_DB_HOST,required"`
	DBPort     int    `env:"IM_DB_PORT" envDefault:"5432"`
	DBName     string `env:"IM_DB_NAME,required"`
	DBUser     string `env:"IM_DB_USER,required"`
	DBPassword string `env:"IM_DB_PASSWORD,required"`
	DBSSLMode  string `env:"IM_DB_SSL_MODE" envDefault:"disable"`

	// --- Аутентификация ---

	// URL JWKS endpoint. Без него запуск возможен только с IM_DEV_AUTH=true
	JWKSUrl string `env:"IM_JWKS_URL"`
	// Аутентификация по заголовкам X-User-ID и X-Dev-Scopes (только локальный запуск)
	DevAuth bool `env:"IM_DEV_AUTH" envDefault:"false"`
	// Путь к CA-сертификату для JWKS endpoint
	JWKSCACert          string        `env:"IM_JWKS_CA_CERT"`
	TLSSkipVerify       bool          `env:"IM_TLS_SKIP_VERIFY" envDefault:"false"`
	JWKSClientTimeout   time.Duration `env:"IM_JWKS_CLIENT_TIMEOUT" envDefault:"5s"`
	JWKSRefreshInterval time.Duration `env:"IM_JWKS_REFRESH_INTERVAL" envDefault:"15s"`
	JWTLeeway           time.Duration `env:"IM_JWT_LEEWAY" envDefault:"5s"`
	// Scope администратора (карантин, статистика, ручной запуск задач)
	AdminScope string `env:"IM_ADMIN_SCOPE" envDefault:"files:admin"`

	// --- Логирование ---

	LogLevelName string     `env:"IM_LOG_LEVEL" envDefault:"info"`
	LogFormat    string     `env:"IM_LOG_FORMAT" envDefault:"json"`
	LogLevel     slog.Level `env:"-"`

	// --- topologymetrics ---

	DephealthCheckInterval time.Duration `env:"IM_DEPHEALTH_CHECK_INTERVAL" envDefault:"15s"`
	DephealthGroup         string        `env:"IM_DEPHEALTH_GROUP" envDefault:"ingest-module"`
	// Имя владельца пода для метки name (пусто — из hostname)
	DephealthName string `env:"DEPHEALTH_NAME"`
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет диапазоны и взаимные ограничения параметров.
func (c *Config) validate() error {
	var err error

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 1-65535", c.Port)
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("IM_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}
	if c.UserQuotaBytes < 0 {
		return fmt.Errorf("IM_USER_QUOTA_BYTES: значение не может быть отрицательным")
	}
	if c.UserQuotaBytes > 0 && c.UserQuotaBytes < c.MaxUploadSize {
		return fmt.Errorf("IM_USER_QUOTA_BYTES: значение %d должно быть >= IM_MAX_UPLOAD_SIZE (%d)",
			c.UserQuotaBytes, c.MaxUploadSize)
	}
	if c.DefaultExpiry < 0 {
		return fmt.Errorf("IM_DEFAULT_EXPIRY: значение не может быть отрицательным")
	}

	if c.ScanTimeout <= 0 {
		return fmt.Errorf("IM_SCAN_TIMEOUT: значение должно быть положительным")
	}
	if c.ArchiveScanCeiling <= 0 {
		return fmt.Errorf("IM_ARCHIVE_SCAN_CEILING: значение должно быть положительным")
	}
	if c.MaxAlertRecipients < 1 {
		return fmt.Errorf("IM_MAX_ALERT_RECIPIENTS: значение должно быть >= 1")
	}
	c.AdminRecipients = compact(c.AdminRecipients)

	switch c.AuditSink {
	case AuditSinkLog:
	case AuditSinkKafka:
		c.KafkaBrokers = compact(c.KafkaBrokers)
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("IM_KAFKA_BROKERS: обязателен при IM_AUDIT_SINK=kafka")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("IM_KAFKA_TOPIC: обязателен при IM_AUDIT_SINK=kafka")
		}
	default:
		return fmt.Errorf("IM_AUDIT_SINK: недопустимое значение %q, допустимые: log, kafka", c.AuditSink)
	}

	if c.ThumbnailSize < 16 || c.ThumbnailSize > 2048 {
		return fmt.Errorf("IM_THUMBNAIL_SIZE: значение %d вне диапазона 16-2048", c.ThumbnailSize)
	}
	if c.ThumbnailConcurrency < 1 {
		return fmt.Errorf("IM_THUMBNAIL_CONCURRENCY: значение должно быть >= 1")
	}
	if c.ThumbnailQuality < 1 || c.ThumbnailQuality > 100 {
		return fmt.Errorf("IM_THUMBNAIL_QUALITY: значение %d вне диапазона 1-100", c.ThumbnailQuality)
	}

	if c.DiskUsageThreshold <= 0 || c.DiskUsageThreshold >= 1 {
		return fmt.Errorf("IM_DISK_USAGE_THRESHOLD: значение %.2f должно быть в интервале (0, 1)", c.DiskUsageThreshold)
	}
	intervals := map[string]time.Duration{
		"IM_RECOVERY_WINDOW":          c.RecoveryWindow,
		"IM_EXPIRED_INTERVAL":         c.ExpiredInterval,
		"IM_ORPHAN_INTERVAL":          c.OrphanInterval,
		"IM_DISK_CHECK_INTERVAL":      c.DiskCheckInterval,
		"IM_TEMP_CLEANUP_INTERVAL":    c.TempCleanupInterval,
		"IM_THUMBNAIL_SWEEP_INTERVAL": c.ThumbnailSweepInterval,
		"IM_TEMP_MAX_AGE":             c.TempMaxAge,
		"IM_QUARANTINE_RETENTION":     c.QuarantineRetention,
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s: значение должно быть положительным", key)
		}
	}
	// Файл без записи в БД может находиться в процессе проверки —
	// сверка не должна трогать его раньше, чем истечёт таймаут проверки.
	if c.OrphanMinAge <= c.ScanTimeout {
		return fmt.Errorf("IM_ORPHAN_MIN_AGE: значение %s должно быть больше IM_SCAN_TIMEOUT (%s)",
			c.OrphanMinAge, c.ScanTimeout)
	}
	if c.PurgeBatchSize < 1 {
		return fmt.Errorf("IM_PURGE_BATCH_SIZE: значение должно быть >= 1")
	}

	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[c.DBSSLMode] {
		return fmt.Errorf("IM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", c.DBSSLMode)
	}

	if c.JWKSUrl == "" && !c.DevAuth {
		return fmt.Errorf("IM_JWKS_URL: не задан; для локального запуска без аутентификации установите IM_DEV_AUTH=true")
	}
	if c.JWKSUrl != "" {
		if _, parseErr := url.ParseRequestURI(c.JWKSUrl); parseErr != nil {
			return fmt.Errorf("IM_JWKS_URL: некорректный URL %q", c.JWKSUrl)
		}
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("IM_TLS_CERT и IM_TLS_KEY должны задаваться вместе")
	}

	c.LogLevel, err = parseLogLevel(c.LogLevelName)
	if err != nil {
		return fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("IM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", c.LogFormat)
	}

	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения (для golang-migrate и меток topologymetrics).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// AuthEnabled возвращает true, если настроен JWKS endpoint.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// compact убирает пробелы и пустые элементы списка.
func compact(items []string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
