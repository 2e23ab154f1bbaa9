// Package config loads the service configuration: built-in defaults, an
// optional YAML file, optional .env files and GLASSTER_* environment
// variables, in that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/glasster/glasster/internal/core/observability/log"
	"github.com/glasster/glasster/internal/tryon/frameloop"
	"github.com/glasster/glasster/internal/tryon/pipeline"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GLASSTER_"

type Config struct {
	Server   ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Log      LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Assets   AssetsConfig     `yaml:"assets" envPrefix:"ASSETS_"`
	Pipeline pipeline.Config  `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Loop     frameloop.Config `yaml:"loop" envPrefix:"LOOP_"`
}

type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr" env:"LISTEN_ADDR" validate:"required"`
	MaxSessions    int           `yaml:"max_sessions" env:"MAX_SESSIONS" validate:"gt=0"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE" validate:"gt=0"`
	MaxUploadSize  int64         `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// SessionIdleTimeout closes sessions that sent nothing for this long.
	SessionIdleTimeout  time.Duration `yaml:"session_idle_timeout" env:"SESSION_IDLE_TIMEOUT" validate:"gt=0"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL" validate:"gt=0"`
	StaticDir           string        `yaml:"static_dir" env:"STATIC_DIR"`
	StaticMaxAge        time.Duration `yaml:"static_max_age" env:"STATIC_MAX_AGE"`
	AllowedOrigins      []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type LogConfig struct {
	Level          string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn warning error fatal"`
	Encoding       string `yaml:"encoding" env:"ENCODING" validate:"oneof=json console"`
	File           string `yaml:"file" env:"FILE"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" env:"FILE_MAX_SIZE_MB" validate:"gte=0"`
	FileMaxBackups int    `yaml:"file_max_backups" env:"FILE_MAX_BACKUPS" validate:"gte=0"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" env:"FILE_MAX_AGE_DAYS" validate:"gte=0"`
}

type AssetsConfig struct {
	Root        string `yaml:"root" env:"ROOT" validate:"required"`
	Catalog     string `yaml:"catalog" env:"CATALOG" validate:"required"`
	LoadWorkers int    `yaml:"load_workers" env:"LOAD_WORKERS" validate:"gte=0"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:          ":3000",
			MaxSessions:         1000,
			MaxMessageSize:      1 << 20,
			MaxUploadSize:       10 << 20,
			ReadTimeout:         15 * time.Second,
			WriteTimeout:        15 * time.Second,
			SessionIdleTimeout:  2 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
			StaticDir:           "web",
			StaticMaxAge:        24 * time.Hour,
		},
		Log: LogConfig{
			Level:          "info",
			Encoding:       "json",
			FileMaxSizeMB:  100,
			FileMaxBackups: 3,
			FileMaxAgeDays: 7,
		},
		Assets: AssetsConfig{
			Root:        "assets",
			Catalog:     "configs/catalog.yaml",
			LoadWorkers: 4,
		},
		Pipeline: pipeline.DefaultConfig(),
	}
}

// Load builds the configuration. path and dotenv files are optional; a
// missing .env file is skipped, a missing YAML file is an error.
func Load(path string, dotenv ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	for _, file := range dotenv {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}

	// PORT is honoured for platforms that only hand out a port.
	var platform struct {
		Port int `env:"PORT"`
	}
	if err := env.Parse(&platform); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}
	if platform.Port > 0 {
		cfg.Server.ListenAddr = ":" + strconv.Itoa(platform.Port)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Pipeline.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoggerOptions maps the log section onto logger options.
func (c Config) LoggerOptions() (log.Options, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.Options{}, err
	}
	return log.Options{
		Level:          level,
		Encoding:       c.Log.Encoding,
		FilePath:       c.Log.File,
		FileMaxSizeMB:  c.Log.FileMaxSizeMB,
		FileMaxBackups: c.Log.FileMaxBackups,
		FileMaxAgeDays: c.Log.FileMaxAgeDays,
	}, nil
}
