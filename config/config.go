// Package config 读取 skyreplace 的配置: YAML 文件 + SKYREPLACE_* 环境变量
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaos-io/skyreplace/sky"
)

const envPrefix = "SKYREPLACE_"

const (
	BackendPrior  = "prior"
	BackendRemote = "remote"
)

type Config struct {
	Model     Model       `yaml:"model"`
	Pipeline  sky.Options `yaml:"pipeline"`
	Server    Server      `yaml:"server"`
	Templates Templates   `yaml:"templates"`
	Log       Log         `yaml:"log"`
}

type Model struct {
	// Backend prior 为本地权重文件，remote 为 HTTP 推理服务
	Backend  string        `yaml:"backend"`
	Path     string        `yaml:"path"`
	Checksum string        `yaml:"checksum"`
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	// Serialize 为空时跟随后端是否可重入
	Serialize *bool `yaml:"serialize"`
}

type Server struct {
	Addr           string        `yaml:"addr"`
	OutputDir      string        `yaml:"output_dir"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MaxOutputW     int           `yaml:"max_output_width"`
	MaxOutputH     int           `yaml:"max_output_height"`
	MaxPixels      int           `yaml:"max_pixels"`
	ResultTTL      time.Duration `yaml:"result_ttl"`
	SweepSchedule  string        `yaml:"sweep_schedule"`
}

type Templates struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Model: Model{
			Backend: BackendPrior,
			Path:    "./checkpoints/sky_prior.skym",
			Timeout: 60 * time.Second,
		},
		Pipeline: sky.DefaultOptions(),
		Server: Server{
			Addr:           ":8000",
			OutputDir:      "./outputs",
			MaxUploadBytes: 4 << 20,
			MaxOutputW:     3840,
			MaxOutputH:     2160,
			MaxPixels:      sky.DefaultMaxPixels,
			ResultTTL:      24 * time.Hour,
			SweepSchedule:  "@every 10m",
		},
		Templates: Templates{
			Dir:   "./skybox",
			Watch: true,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 默认值 <- YAML 文件 (path 为空或不存在时跳过) <- 环境变量
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		default:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Model.Backend {
	case BackendPrior:
		if c.Model.Path == "" {
			return errors.New("config: model.path is required for the prior backend")
		}
	case BackendRemote:
		if c.Model.URL == "" {
			return errors.New("config: model.url is required for the remote backend")
		}
	default:
		return fmt.Errorf("config: unknown model.backend %q", c.Model.Backend)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("config: pipeline: %w", err)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("config: server.max_upload_bytes must be positive")
	}
	if c.Server.MaxOutputW <= 0 || c.Server.MaxOutputH <= 0 {
		return errors.New("config: server output cap must be positive")
	}
	if c.Server.MaxPixels <= 0 {
		return errors.New("config: server.max_pixels must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// applyEnv 覆盖常用字段，如 SKYREPLACE_MODEL_PATH
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"MODEL_BACKEND":  &c.Model.Backend,
		"MODEL_PATH":     &c.Model.Path,
		"MODEL_CHECKSUM": &c.Model.Checksum,
		"MODEL_URL":      &c.Model.URL,
		"SERVER_ADDR":    &c.Server.Addr,
		"OUTPUT_DIR":     &c.Server.OutputDir,
		"TEMPLATES_DIR":  &c.Templates.Dir,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
	}
	for k, p := range str {
		if v, ok := lookup(envPrefix + k); ok {
			*p = v
		}
	}

	floats := map[string]*float64{
		"HARMONIZATION_STRENGTH": &c.Pipeline.HarmonizationStrength,
		"BOUNDARY_SOFTNESS":      &c.Pipeline.BoundarySoftness,
	}
	for k, p := range floats {
		if v, ok := lookup(envPrefix + k); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("config: %s%s: %w", envPrefix, k, err)
			}
			*p = f
		}
	}

	if v, ok := lookup(envPrefix + "WORKING_RESOLUTION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sWORKING_RESOLUTION: %w", envPrefix, err)
		}
		c.Pipeline.WorkingResolution = n
	}
	if v, ok := lookup(envPrefix + "MODEL_SERIALIZE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sMODEL_SERIALIZE: %w", envPrefix, err)
		}
		c.Model.Serialize = &b
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return l, fmt.Errorf("config: log.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger 按配置创建 slog.Logger
func NewLogger(c Log) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
