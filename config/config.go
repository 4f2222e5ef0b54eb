package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"author-merge.db"`
	// Schema beim Start per gorm AutoMigrate anlegen
	AutoMigrate bool `envconfig:"AUTO_MIGRATE" default:"true"`

	HTTPPort           string   `envconfig:"HTTP_PORT" default:"5000"`
	APISecretKey       string   `envconfig:"API_SECRET_KEY"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LogMode            string   `envconfig:"LOG_MODE" default:"production"`

	// Grenzen der Pfadsuche im Co-Autoren-Graphen
	PathMaxDepth        int `envconfig:"PATH_MAX_DEPTH" default:"6"`
	PathMaxResults      int `envconfig:"PATH_MAX_RESULTS" default:"5"`
	PathMaxFrontier     int `envconfig:"PATH_MAX_FRONTIER" default:"50000"` // 0 = unbegrenzt
	SharedCoauthorLimit int `envconfig:"SHARED_COAUTHOR_LIMIT" default:"10"`

	// Optionaler Redis-Cache für Relatedness-Ergebnisse
	RedisAddr           string        `envconfig:"REDIS_ADDR"`
	RelatednessCacheTTL time.Duration `envconfig:"RELATEDNESS_CACHE_TTL" default:"10m"`

	// Ledger-Archiv (S3-kompatibel). Leerer Bucket deaktiviert das Archiv.
	LedgerS3URL        string `envconfig:"LEDGER_S3_URL"`
	LedgerS3Region     string `envconfig:"LEDGER_S3_REGION" default:"eu-central-1"`
	LedgerS3Key        string `envconfig:"LEDGER_S3_KEY"`
	LedgerS3Secret     string `envconfig:"LEDGER_S3_SECRET"`
	LedgerS3Bucket     string `envconfig:"LEDGER_S3_BUCKET"`
	LedgerS3Prefix     string `envconfig:"LEDGER_S3_PREFIX" default:"ledger"`
	CronSchedule       string `envconfig:"CRON_SCHEDULE" default:"0 0 * * *"`
	LedgerExportBatch  int    `envconfig:"LEDGER_EXPORT_BATCH" default:"5000"`
	LedgerSnapshotKeep int    `envconfig:"LEDGER_SNAPSHOT_KEEP" default:"4"`

	OTelEnabled     bool    `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`
	OTelSampleRatio float64 `envconfig:"OTEL_SAMPLER_RATIO" default:"0.1"`
	OTelServiceName string  `envconfig:"OTEL_SERVICE_NAME" default:"author-merge"`
	OTelEnvironment string  `envconfig:"OTEL_ENVIRONMENT" default:"development"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// LedgerArchiveEnabled meldet, ob ein Bucket für das Ledger-Archiv konfiguriert ist.
func (c *Config) LedgerArchiveEnabled() bool {
	return strings.TrimSpace(c.LedgerS3Bucket) != ""
}

// Validate prüft Kombinationen, die envconfig allein nicht ausdrücken kann.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DBHost == "" || c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("DB_HOST, DB_USER and DB_NAME are required for the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.PathMaxDepth <= 0 || c.PathMaxResults <= 0 {
		return fmt.Errorf("PATH_MAX_DEPTH and PATH_MAX_RESULTS must be positive")
	}
	if c.PathMaxFrontier < 0 {
		return fmt.Errorf("PATH_MAX_FRONTIER must not be negative, 0 disables the cap")
	}
	if c.SharedCoauthorLimit <= 0 {
		return fmt.Errorf("SHARED_COAUTHOR_LIMIT must be positive")
	}
	if c.LedgerArchiveEnabled() && (c.LedgerS3Key == "" || c.LedgerS3Secret == "") {
		return fmt.Errorf("LEDGER_S3_KEY and LEDGER_S3_SECRET are required when LEDGER_S3_BUCKET is set")
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
