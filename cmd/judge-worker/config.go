package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/backend"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/queue"
	"judgeflow/internal/judge/service"
	"judgeflow/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultMetricsAddr     = "0.0.0.0:9091"
	defaultShutdownTimeout = 10 * time.Second
)

// BackendConfig holds execution backend settings.
type BackendConfig struct {
	backend.HTTPConfig `yaml:",inline"`

	Retry backend.RetryPolicy `yaml:"retry"`
	// MaxConcurrent caps in-flight backend calls from this process; 0 means no cap.
	MaxConcurrent   int           `yaml:"maxConcurrent"`
	Overhead        time.Duration `yaml:"overhead"`
	CompileDeadline time.Duration `yaml:"compileDeadline"`
}

// JudgeConfig holds per-job settings.
type JudgeConfig struct {
	CompareMode    service.CompareMode                   `yaml:"compareMode"`
	ResultTTL      time.Duration                         `yaml:"resultTTL"`
	StoreTimeout   time.Duration                         `yaml:"storeTimeout"`
	MaxOutputBytes int                                   `yaml:"maxOutputBytes"`
	VerdictTopic   string                                `yaml:"verdictTopic"`
	Languages      map[model.Language]model.LanguageSpec `yaml:"languages"`
}

// AppConfig holds judge-worker configuration.
type AppConfig struct {
	MetricsAddr string                   `yaml:"metricsAddr"`
	Logger      logger.Config            `yaml:"logger"`
	Database    db.Config                `yaml:"database"`
	Redis       cache.RedisConfig        `yaml:"redis"`
	Kafka       mq.KafkaConfig           `yaml:"kafka"`
	Queue       queue.Config             `yaml:"queue"`
	Dispatcher  service.DispatcherConfig `yaml:"dispatcher"`
	Backend     BackendConfig            `yaml:"backend"`
	Judge       JudgeConfig              `yaml:"judge"`
}

// loadYAML reads path, expands ${VAR} references from the environment and decodes it.
// A .env file in the working directory is loaded first when present.
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
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = defaultMetricsAddr
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend baseURL is required")
	}
	if cfg.Backend.Retry.MaxAttempts == 0 {
		cfg.Backend.Retry.MaxAttempts = 3
	}
	if cfg.Backend.Retry.BaseDelay == 0 {
		cfg.Backend.Retry.BaseDelay = 200 * time.Millisecond
	}
	if cfg.Backend.Retry.MaxDelay == 0 {
		cfg.Backend.Retry.MaxDelay = 2 * time.Second
	}
	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = 4
	}
	if cfg.Dispatcher.PollWait == 0 {
		cfg.Dispatcher.PollWait = 2 * time.Second
	}
	// Redis reads must outlive a blocking dequeue.
	if cfg.Redis.ReadTimeout != 0 && cfg.Redis.ReadTimeout <= cfg.Dispatcher.PollWait {
		cfg.Redis.ReadTimeout = cfg.Dispatcher.PollWait + time.Second
	}
	if cfg.Judge.ResultTTL == 0 {
		cfg.Judge.ResultTTL = time.Hour
	}
	if cfg.Judge.VerdictTopic == "" {
		cfg.Judge.VerdictTopic = "judge.verdicts"
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
