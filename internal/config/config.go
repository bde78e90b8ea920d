package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"dorian/internal/logger"
	"dorian/internal/prompt"
	"dorian/internal/reset"
	"dorian/internal/timewindow"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "DORIAN"

type Config struct {
	Timezone          string          `mapstructure:"timezone" validate:"required"`
	TrackingStartDate string          `mapstructure:"tracking_start_date" validate:"omitempty,datetime=2006-01-02"`
	Reset             ResetConfig     `mapstructure:"reset"`
	Threshold         ThresholdConfig `mapstructure:"threshold"`
	Prompt            PromptConfig    `mapstructure:"prompt"`
	Generator         GeneratorConfig `mapstructure:"generator"`
	Activity          ActivityConfig  `mapstructure:"activity"`
	People            []PersonConfig  `mapstructure:"people" validate:"required,min=1,unique=Key,dive"`
	Storage           StorageConfig   `mapstructure:"storage"`
	Schedule          ScheduleConfig  `mapstructure:"schedule"`
	Server            ServerConfig    `mapstructure:"server"`
	Cache             CacheConfig     `mapstructure:"cache"`

	zone          *time.Location
	policy        reset.Policy
	trackingStart time.Time
}

type ResetConfig struct {
	Mode    string `mapstructure:"mode" validate:"oneof=never daily weekly always"`
	Weekday int    `mapstructure:"weekday" validate:"min=0,max=7"` // 0=Sunday; 7 also means Sunday
}

type ThresholdConfig struct {
	IncrementMinutes int `mapstructure:"increment_minutes" validate:"gt=0"`
}

type PromptConfig struct {
	PoolPath        string   `mapstructure:"pool_path"`
	Pool            []string `mapstructure:"pool"`
	AvoidLastN      int      `mapstructure:"avoid_last_n" validate:"min=0"`
	FirstRun        string   `mapstructure:"first_run"`
	StabilizeSuffix string   `mapstructure:"stabilize_suffix"`
}

type GeneratorConfig struct {
	Provider string        `mapstructure:"provider" validate:"oneof=gemini openai"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ActivityConfig struct {
	BaseURL  string        `mapstructure:"base_url" validate:"required,url"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Lookback time.Duration `mapstructure:"lookback" validate:"min=0"`
}

type PersonConfig struct {
	Key       string `mapstructure:"key" validate:"required,excludesall=/\\"`
	APIKey    string `mapstructure:"api_key"`
	BaseImage string `mapstructure:"base_image" validate:"required"`
}

type StorageConfig struct {
	DBPath     string    `mapstructure:"db_path" validate:"required"`
	ImagesPath string    `mapstructure:"images_path" validate:"required"`
	LogPath    string    `mapstructure:"log_path"`
	Log        LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level        string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	RotationTime string `mapstructure:"rotation_time"` // e.g. "1h", "24h"
	MaxSize      int    `mapstructure:"max_size"`      // megabytes
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAge       int    `mapstructure:"max_age"` // days
	Compress     bool   `mapstructure:"compress"`
}

type ScheduleConfig struct {
	Interval string `mapstructure:"interval"`
	Cron     string `mapstructure:"cron"`
	Workers  int    `mapstructure:"workers" validate:"min=1"`
}

type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	CronSecret     string        `mapstructure:"cron_secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      string        `mapstructure:"rate_limit"` // ulule/limiter format, e.g. "60-M"
	TrustProxy     bool          `mapstructure:"trust_proxy"`
	PublicBaseURL  string        `mapstructure:"public_base_url" validate:"omitempty,url"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl" validate:"min=0"`
}

var globalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("timezone", "America/New_York")
	v.SetDefault("tracking_start_date", "")
	v.SetDefault("reset.mode", "never")
	v.SetDefault("reset.weekday", 0)
	v.SetDefault("threshold.increment_minutes", 30)
	v.SetDefault("prompt.pool_path", "prompts.yaml")
	v.SetDefault("prompt.avoid_last_n", 3)
	v.SetDefault("prompt.first_run", "")
	v.SetDefault("prompt.stabilize_suffix", "Do not make the painting smaller in the output.")
	v.SetDefault("generator.provider", "gemini")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.base_url", "")
	v.SetDefault("generator.model", "")
	v.SetDefault("generator.timeout", "120s")
	v.SetDefault("activity.base_url", "https://www.rescuetime.com/anapi/data")
	v.SetDefault("activity.timeout", "30s")
	v.SetDefault("activity.lookback", "24h")
	v.SetDefault("storage.db_path", "./data/db/dorian.db")
	v.SetDefault("storage.images_path", "./data/images")
	v.SetDefault("storage.log_path", "")
	v.SetDefault("storage.log.level", "info")
	v.SetDefault("storage.log.rotation_time", "24h")
	v.SetDefault("storage.log.max_size", 100)
	v.SetDefault("storage.log.max_backups", 3)
	v.SetDefault("storage.log.max_age", 28)
	v.SetDefault("storage.log.compress", true)
	v.SetDefault("schedule.interval", "1m")
	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.workers", 4)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.cron_secret", "")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limit", "60-M")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "60s")
}

// Load reads the YAML config (explicit path, or config.yaml from the usual
// search paths), applies DORIAN_* environment overrides, resolves relative
// paths and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")

		if execPath, err := os.Executable(); err == nil {
			execDir := filepath.Dir(execPath)
			v.AddConfigPath(filepath.Join(execDir, "config"))
			v.AddConfigPath(execDir)
		}

		v.AddConfigPath("./config")
		v.AddConfigPath(".")

		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".dorian"))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvCredentials(&cfg)

	configFileDir := "."
	if used := v.ConfigFileUsed(); used != "" {
		configFileDir = filepath.Dir(used)
	}
	if err := normalizePaths(&cfg, configFileDir); err != nil {
		return nil, fmt.Errorf("failed to normalize paths: %w", err)
	}

	if cfg.Prompt.PoolPath != "" && len(cfg.Prompt.Pool) == 0 {
		pool, err := prompt.LoadPool(cfg.Prompt.PoolPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt pool: %w", err)
		}
		cfg.Prompt.Pool = pool
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

func Get() *Config {
	if globalConfig == nil {
		panic("config not loaded")
	}
	return globalConfig
}

// applyEnvCredentials fills secrets that are commonly kept out of the file.
// DORIAN_PEOPLE_<KEY>_API_KEY overrides a person's RescueTime key.
func applyEnvCredentials(cfg *Config) {
	for i := range cfg.People {
		name := fmt.Sprintf("%s_PEOPLE_%s_API_KEY", envPrefix, strings.ToUpper(cfg.People[i].Key))
		if v := os.Getenv(name); v != "" {
			cfg.People[i].APIKey = v
		}
	}

	if cfg.Generator.APIKey == "" {
		switch cfg.Generator.Provider {
		case "openai":
			cfg.Generator.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.Generator.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// Validate checks struct constraints plus the values that need parsing
// (timezone, reset policy, tracking start) and caches the parsed forms.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	zone, err := timewindow.LoadZone(c.Timezone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	mode, err := reset.ParseMode(c.Reset.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	weekday, err := reset.ParseWeekday(c.Reset.Weekday)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var trackingStart time.Time
	if c.TrackingStartDate != "" {
		trackingStart, err = time.ParseInLocation("2006-01-02", c.TrackingStartDate, zone)
		if err != nil {
			return fmt.Errorf("%w: tracking_start_date: %v", ErrInvalid, err)
		}
	}

	if len(c.Prompt.Pool) == 0 {
		return fmt.Errorf("%w: prompt pool is empty", ErrInvalid)
	}
	if c.Schedule.Interval != "" {
		if d, err := time.ParseDuration(c.Schedule.Interval); err != nil || d <= 0 {
			return fmt.Errorf("%w: schedule.interval %q", ErrInvalid, c.Schedule.Interval)
		}
	}
	if c.Server.Enabled && c.Server.CronSecret == "" {
		logger.GetLogger().Warn("server.cron_secret is empty, /api/cron and manual runs are disabled")
	}

	c.zone = zone
	c.policy = reset.Policy{Mode: mode, ResetWeekday: weekday}
	c.trackingStart = trackingStart
	return nil
}

// Location is the accounting timezone. Valid after Load or Validate.
func (c *Config) Location() *time.Location { return c.zone }

func (c *Config) ResetPolicy() reset.Policy { return c.policy }

// TrackingStart is midnight of tracking_start_date in the accounting zone, zero
// when unset.
func (c *Config) TrackingStart() time.Time { return c.trackingStart }

// Person looks up a configured person by key.
func (c *Config) Person(key string) (PersonConfig, bool) {
	for _, p := range c.People {
		if p.Key == key {
			return p, true
		}
	}
	return PersonConfig{}, false
}

func (c *StorageConfig) EnsureDBPath() error {
	dir := filepath.Dir(c.DBPath)
	if dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

// normalizePaths resolves storage paths against the base directory and
// config-relative files (prompt pool, base images) against the config file's
// directory.
func normalizePaths(cfg *Config, configFileDir string) error {
	baseDir, err := getBaseDirectory()
	if err != nil {
		baseDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get base directory: %w", err)
		}
	}

	if cfg.Storage.LogPath == "" {
		cfg.Storage.LogPath = filepath.Join(baseDir, "dorian.log")
	} else if !filepath.IsAbs(cfg.Storage.LogPath) {
		cfg.Storage.LogPath = filepath.Join(baseDir, cfg.Storage.LogPath)
	}
	if info, err := os.Stat(cfg.Storage.LogPath); err == nil && info.IsDir() {
		cfg.Storage.LogPath = filepath.Join(cfg.Storage.LogPath, "dorian.log")
	} else if os.IsNotExist(err) && filepath.Ext(cfg.Storage.LogPath) == "" {
		cfg.Storage.LogPath = filepath.Join(cfg.Storage.LogPath, "dorian.log")
	}

	if cfg.Storage.DBPath != "" && !filepath.IsAbs(cfg.Storage.DBPath) {
		cfg.Storage.DBPath = filepath.Join(baseDir, cfg.Storage.DBPath)
	}
	if cfg.Storage.ImagesPath != "" && !filepath.IsAbs(cfg.Storage.ImagesPath) {
		cfg.Storage.ImagesPath = filepath.Join(baseDir, cfg.Storage.ImagesPath)
	}

	cfg.Prompt.PoolPath = resolveRelative(cfg.Prompt.PoolPath, configFileDir)
	for i := range cfg.People {
		cfg.People[i].BaseImage = resolveRelative(cfg.People[i].BaseImage, configFileDir)
	}

	if cfg.Storage.Log.Level == "" {
		cfg.Storage.Log.Level = "info"
	}
	return nil
}

func resolveRelative(p, dir string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// getBaseDirectory is the executable's directory, or the project root when the
// binary lives in a bin/ directory next to config/.
func getBaseDirectory() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}

	realPath, err := filepath.EvalSymlinks(execPath)
	if err != nil {
		realPath = execPath
	}

	execDir := filepath.Dir(realPath)
	if filepath.Base(execDir) == "bin" {
		currentDir := execDir
		for {
			parentDir := filepath.Dir(currentDir)
			if parentDir == currentDir {
				break
			}
			if info, err := os.Stat(filepath.Join(currentDir, "config")); err == nil && info.IsDir() {
				return currentDir, nil
			}
			currentDir = parentDir
		}
	}

	return execDir, nil
}

// InitLogger configures the global logger from the storage section.
func (c *Config) InitLogger() error {
	return logger.Init(logger.LogConfig{
		Level:        c.Storage.Log.Level,
		FilePath:     c.Storage.LogPath,
		RotationTime: c.Storage.Log.RotationTime,
		MaxSize:      c.Storage.Log.MaxSize,
		MaxBackups:   c.Storage.Log.MaxBackups,
		MaxAge:       c.Storage.Log.MaxAge,
		Compress:     c.Storage.Log.Compress,
	})
}
