package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/phishguard/config.yaml"

// Environment variables that override values from the config file.
const (
	EnvListenAddr = "PHISHGUARD_LISTEN_ADDR"
	EnvLogLevel   = "PHISHGUARD_LOG_LEVEL"
	EnvModelDir   = "PHISHGUARD_MODEL_DIR"
	EnvThreshold  = "PHISHGUARD_THRESHOLD"
	EnvRedisAddr  = "PHISHGUARD_REDIS_ADDR"
	EnvMongoURI   = "PHISHGUARD_MONGO_URI"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Model    ModelConfig    `yaml:"model"`
	Blocking BlockingConfig `yaml:"blocking"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Cache    CacheConfig    `yaml:"cache"`
	API      APIConfig      `yaml:"api"`
}

type AppConfig struct {
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json | console
	ListenAddr string `yaml:"listen_addr"`
}

type FetchConfig struct {
	Timeout              time.Duration `yaml:"timeout"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes"`
	UserAgent            string        `yaml:"user_agent"`
	BlockPrivateNetworks bool          `yaml:"block_private_networks"`
}

type ModelConfig struct {
	Dir         string  `yaml:"dir"`
	Backend     string  `yaml:"backend"` // native | onnx
	MaxLen      int     `yaml:"max_len"`
	Threshold   float64 `yaml:"threshold"`
	ONNXLibrary string  `yaml:"onnx_library"`
	URLInput    string  `yaml:"url_input"`
	NumInput    string  `yaml:"num_input"`
	Output      string  `yaml:"output"`
}

type BlockingConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Backend        string         `yaml:"backend"` // sqlite | mongo
	DBPath         string         `yaml:"db_path"`
	UpdateInterval time.Duration  `yaml:"update_interval"`
	Sources        []SourceConfig `yaml:"sources"`
	Blacklist      []string       `yaml:"blacklist"`
	Whitelist      []string       `yaml:"whitelist"`
}

type SourceConfig struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Format       string `yaml:"format"` // hosts | text | csv | json
	TargetColumn string `yaml:"target_column"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

type APIConfig struct {
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the configuration used when no file is found. Every
// field a file leaves out keeps these values.
func Default() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:   "info",
			LogFormat:  "json",
			ListenAddr: ":8000",
		},
		Fetch: FetchConfig{
			Timeout:              7 * time.Second,
			MaxBodyBytes:         10 * 1024 * 1024,
			UserAgent:            "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			BlockPrivateNetworks: true,
		},
		Model: ModelConfig{
			Dir:         "./data/models",
			Backend:     "native",
			MaxLen:      150,
			Threshold:   0.3,
			ONNXLibrary: "/usr/lib/libonnxruntime.so",
			URLInput:    "url_input",
			NumInput:    "num_input",
			Output:      "output",
		},
		Blocking: BlockingConfig{
			Enabled:        true,
			Backend:        "sqlite",
			DBPath:         "./data/blacklist.db",
			UpdateInterval: 24 * time.Hour,
		},
		Mongo: MongoConfig{
			Database:   "phishguard",
			Collection: "url_black_list",
		},
		Cache: CacheConfig{
			TTL: 30 * time.Minute,
		},
		API: APIConfig{
			RatePerSecond:  20,
			Burst:          40,
			RequestTimeout: 15 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	searchPaths := []string{
		"configs/config.yaml",
		"./config.yaml",
		DefaultConfigPath,
	}

	var loadedPath string

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			loadedPath = p
			break
		}
	}

	cfg := Default()
	if loadedPath == "" {
		log.Info().Msg("config file not found, using built-in defaults")
	} else {
		log.Info().Str("path", loadedPath).Msg("loading config")
		if err := parseConfigFile(loadedPath, cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}

	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvListenAddr); v != "" {
		c.App.ListenAddr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.App.LogLevel = v
	}
	if v := getenv(EnvModelDir); v != "" {
		c.Model.Dir = v
	}
	if v := getenv(EnvThreshold); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvThreshold, v, err)
		}
		c.Model.Threshold = t
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := getenv(EnvMongoURI); v != "" {
		c.Mongo.URI = v
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	t := c.Model.Threshold
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("model.threshold must be within [0,1], got %v", t)
	}
	if c.Model.MaxLen <= 0 {
		return fmt.Errorf("model.max_len must be positive, got %d", c.Model.MaxLen)
	}
	switch c.Model.Backend {
	case "native", "onnx":
	default:
		return fmt.Errorf("unknown model.backend %q", c.Model.Backend)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be positive, got %d", c.Fetch.MaxBodyBytes)
	}
	switch c.Blocking.Backend {
	case "sqlite":
	case "mongo":
		if c.Blocking.Enabled && c.Mongo.URI == "" {
			return errors.New("blocking.backend is mongo but mongo.uri is empty")
		}
	default:
		return fmt.Errorf("unknown blocking.backend %q", c.Blocking.Backend)
	}
	return nil
}
