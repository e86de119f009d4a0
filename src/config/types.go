package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Live Environment = "live"
	Beta Environment = "beta"
	Dev  Environment = "dev"
)

type TutorialsConfig struct {
	Env      Environment
	Addr     string // private listener for /metrics and pprof
	LogLevel zerolog.Level
	LogFile  string // rotated JSON log file, in addition to the console; empty disables it
	Postgres PostgresConfig
	Content  ContentConfig
	Artifact ArtifactConfig
	Mirror   MirrorConfig
}

type PostgresConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
	LogLevel tracelog.LogLevel
	MinConn  int32
	MaxConn  int32
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type ContentConfig struct {
	RepoRoot   string // one bare repository per content, named by slug
	PublicRoot string // one published directory per content, named by public slug

	// Size of the decoded git object cache per open repository.
	ObjectCacheMiB int

	SizeCacheEntries int
	SizeCacheTTL     time.Duration

	// Leftover staging directories younger than this are not cleaned up.
	StagingGrace time.Duration
}

type ArtifactConfig struct {
	PandocPath string // empty disables PDF and EPUB generation
	Timeout    time.Duration

	RetryInterval time.Duration
	RetryMin      time.Duration
	RetryMax      time.Duration
	RetryAttempts int
}

// S3-compatible bucket that published artifacts are copied to. Disabled when
// Bucket is empty.
type MirrorConfig struct {
	Endpoint string
	Region   string
	Bucket   string
	Key      string
	Secret   string
}

func (c MirrorConfig) Enabled() bool {
	return c.Bucket != ""
}
