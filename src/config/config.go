package config

import (
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

var Config = TutorialsConfig{
	Env:      Dev,
	Addr:     "localhost:9494",
	LogLevel: zerolog.InfoLevel,
	Postgres: PostgresConfig{
		User:     "tutorials",
		Password: "password",
		Hostname: "localhost",
		Port:     5432,
		DbName:   "tutorials",
		LogLevel: tracelog.LogLevelWarn,
		MinConn:  2,
		MaxConn:  20,
	},
	Content: ContentConfig{
		RepoRoot:         "./data/repos",
		PublicRoot:       "./data/public",
		ObjectCacheMiB:   32,
		SizeCacheEntries: 4096,
		SizeCacheTTL:     6 * time.Hour,
		StagingGrace:     time.Hour,
	},
	Artifact: ArtifactConfig{
		PandocPath:    "",
		Timeout:       2 * time.Minute,
		RetryInterval: time.Minute,
		RetryMin:      30 * time.Second,
		RetryMax:      6 * time.Hour,
		RetryAttempts: 10,
	},
}

func init() {
	// A missing .env is normal outside of local development.
	_ = godotenv.Load(".env")

	envStr("TUTORIALS_ENV", (*string)(&Config.Env))
	envStr("TUTORIALS_ADDR", &Config.Addr)
	envStr("TUTORIALS_LOG_FILE", &Config.LogFile)
	if lvl, ok := os.LookupEnv("TUTORIALS_LOG_LEVEL"); ok {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			Config.LogLevel = parsed
		}
	}

	envStr("TUTORIALS_DB_USER", &Config.Postgres.User)
	envStr("TUTORIALS_DB_PASSWORD", &Config.Postgres.Password)
	envStr("TUTORIALS_DB_HOST", &Config.Postgres.Hostname)
	envInt("TUTORIALS_DB_PORT", &Config.Postgres.Port)
	envStr("TUTORIALS_DB_NAME", &Config.Postgres.DbName)

	envStr("TUTORIALS_REPO_ROOT", &Config.Content.RepoRoot)
	envStr("TUTORIALS_PUBLIC_ROOT", &Config.Content.PublicRoot)
	envDuration("TUTORIALS_STAGING_GRACE", &Config.Content.StagingGrace)

	envStr("TUTORIALS_PANDOC", &Config.Artifact.PandocPath)
	envDuration("TUTORIALS_ARTIFACT_TIMEOUT", &Config.Artifact.Timeout)

	envStr("TUTORIALS_MIRROR_ENDPOINT", &Config.Mirror.Endpoint)
	envStr("TUTORIALS_MIRROR_REGION", &Config.Mirror.Region)
	envStr("TUTORIALS_MIRROR_BUCKET", &Config.Mirror.Bucket)
	envStr("TUTORIALS_MIRROR_KEY", &Config.Mirror.Key)
	envStr("TUTORIALS_MIRROR_SECRET", &Config.Mirror.Secret)
}

func envStr(name string, dest *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dest = v
	}
}

func envInt(name string, dest *int) {
	if v, ok := os.LookupEnv(name); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dest = parsed
		}
	}
}

func envDuration(name string, dest *time.Duration) {
	if v, ok := os.LookupEnv(name); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dest = parsed
		}
	}
}
