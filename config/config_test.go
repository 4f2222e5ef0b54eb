package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSQLite(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "test.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, 6, cfg.PathMaxDepth)
	assert.Equal(t, 5, cfg.PathMaxResults)
	assert.Equal(t, 10, cfg.SharedCoauthorLimit)
	assert.Equal(t, 10*time.Minute, cfg.RelatednessCacheTTL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.LedgerArchiveEnabled())
}

func TestLoadRequiresPostgresConnection(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_NAME", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DBDriver:            "postgres",
			DBHost:              "db",
			DBUser:              "u",
			DBName:              "authors",
			PathMaxDepth:        6,
			PathMaxResults:      5,
			SharedCoauthorLimit: 10,
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.DBDriver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PathMaxDepth = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PathMaxFrontier = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PathMaxFrontier = 0
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.LedgerS3Bucket = "ledger"
	assert.Error(t, cfg.Validate(), "bucket without credentials")

	cfg.LedgerS3Key = "k"
	cfg.LedgerS3Secret = "s"
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.LedgerArchiveEnabled())
}

func TestDSN(t *testing.T) {
	cfg := Config{DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "authors", DBPort: 5433, DBSSLMode: "require"}
	assert.Equal(t, "host=db user=u password=p dbname=authors port=5433 sslmode=require", cfg.DSN())
}
