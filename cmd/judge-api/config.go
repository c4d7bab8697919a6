package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/common/storage"
	"judgeflow/internal/judge/backend"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/queue"
	"judgeflow/internal/judge/service"
	"judgeflow/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	// WriteTimeout defaults to none: stream responses are bounded by the stream timeout.
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// JudgeConfig holds intake and job construction settings.
type JudgeConfig struct {
	Submit           service.SubmitConfig                  `yaml:"submit"`
	Stream           service.StreamConfig                  `yaml:"stream"`
	MaxTimeLimitMs   int64                                 `yaml:"maxTimeLimitMs"`
	MaxMemoryLimitKB int64                                 `yaml:"maxMemoryLimitKB"`
	ResultTTL        time.Duration                         `yaml:"resultTTL"`
	CacheTimeout     time.Duration                         `yaml:"cacheTimeout"`
	SourceBucket     string                                `yaml:"sourceBucket"`
	Languages        map[model.Language]model.LanguageSpec `yaml:"languages"`
}

// AppConfig holds judge-api configuration.
type AppConfig struct {
	Server   ServerConfig          `yaml:"server"`
	Logger   logger.Config         `yaml:"logger"`
	Auth     middleware.AuthConfig `yaml:"auth"`
	Database db.Config             `yaml:"database"`
	Redis    cache.RedisConfig     `yaml:"redis"`
	MinIO    storage.MinIOConfig   `yaml:"minio"`
	Queue    queue.Config          `yaml:"queue"`
	Backend  backend.HTTPConfig    `yaml:"backend"`
	Judge    JudgeConfig           `yaml:"judge"`
}

// loadYAML reads path, expands ${VAR} references from the environment and decodes it.
// A .env file next to the working directory is loaded first when present.
func loadYAML(path string, out interface{}) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = middleware.AuthModeJWT
	}
	if cfg.Auth.Mode == middleware.AuthModeJWT && cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwtSecret is required in jwt mode")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend baseURL is required")
	}

	if cfg.Judge.ResultTTL == 0 {
		cfg.Judge.ResultTTL = time.Hour
	}
	if cfg.Judge.CacheTimeout == 0 {
		cfg.Judge.CacheTimeout = time.Second
	}
	if cfg.Judge.SourceBucket == "" {
		cfg.Judge.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Judge.SourceBucket == "" {
		cfg.Judge.SourceBucket = "judge-sources"
	}
	cfg.Judge.Languages = mergeLanguages(cfg.Judge.Languages)
	return &cfg, nil
}

// mergeLanguages lays configured entries over the built-in table.
func mergeLanguages(overrides map[model.Language]model.LanguageSpec) map[model.Language]model.LanguageSpec {
	langs := model.DefaultLanguageSpecs()
	for lang, spec := range overrides {
		spec.Language = lang
		langs[lang] = spec
	}
	return langs
}
