package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// APIKeys maps an API key to the owner id whose records it may access,
	// e.g. AGENTDASH_API_KEYS="k1:alice,k2:bob".
	APIKeys map[string]string `envconfig:"API_KEYS" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".agentdash/data"`
	// Watch publishes events for records changed by other processes that
	// share BaseDir. Only meaningful when Type == "local".
	Watch bool `envconfig:"WATCH_STORAGE" default:"false"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"agentdash/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
	// S3Endpoint points at an S3-compatible store such as MinIO.
	S3Endpoint string `envconfig:"S3_ENDPOINT"`
	// SQLite settings (used when Type == "sqlite")
	SQLitePath string `envconfig:"SQLITE_PATH" default:".agentdash/agentdash.db"`
}

type ExecAPIEnv struct {
	URL          string        `envconfig:"EXEC_API_URL" default:"http://localhost:8000"`
	Timeout      time.Duration `envconfig:"EXEC_API_TIMEOUT" default:"30s"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

type Env struct {
	BaseEnv
	StorageEnv
	ExecAPIEnv
	VAPIDEnv
}

const namespace = "AGENTDASH"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if len(env.APIKeys) == 0 {
		return nil, fmt.Errorf("failed to load env: API_KEYS must map at least one key to an owner")
	}
	if env.PollInterval <= 0 {
		return nil, fmt.Errorf("failed to load env: POLL_INTERVAL must be positive, got %s", env.PollInterval)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func ExecAPIEnvFromEnv(env *Env) *ExecAPIEnv {
	return &env.ExecAPIEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}
