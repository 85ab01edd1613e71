package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Pentaract  PentaractConfig  `yaml:"pentaract"`
	Resource   ResourceConfig   `yaml:"resource"`
	Statistics StatisticsConfig `yaml:"statistics"`
	LogLevel   string           `yaml:"log_level"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	Charset      string `yaml:"charset"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StorageConfig struct {
	BasePath         string   `yaml:"base_path"`
	TempPatterns     []string `yaml:"temp_patterns"`
	TempMaxAge       int      `yaml:"temp_max_age"`        // minutes
	TempMaxTotalSize int64    `yaml:"temp_max_total_size"` // bytes
	CleanupInterval  int      `yaml:"cleanup_interval"`    // minutes
}

type PentaractConfig struct {
	APIURL          string `yaml:"api_url"`
	Email           string `yaml:"email"`
	Password        string `yaml:"password"`
	Timeout         int    `yaml:"timeout"` // seconds
	RetryAttempts   int    `yaml:"retry_attempts"`
	StreamThreshold int64  `yaml:"stream_threshold"`  // bytes
	StreamChunkSize int    `yaml:"stream_chunk_size"` // bytes
	StorageName     string `yaml:"storage_name"`
	UploadFolder    string `yaml:"upload_folder"`
}

type ResourceConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MonitorInterval      int     `yaml:"monitor_interval"` // minutes
	CPUThreshold         float64 `yaml:"cpu_threshold"`
	MemoryThreshold      float64 `yaml:"memory_threshold"`
	MaxThrottleWait      int     `yaml:"max_throttle_wait"`      // seconds
	ThrottlePollInterval int     `yaml:"throttle_poll_interval"` // seconds
	GCAfterUpload        bool    `yaml:"gc_after_upload"`
}

type StatisticsConfig struct {
	FlushInterval int `yaml:"flush_interval"` // seconds
	RetentionDays int `yaml:"retention_days"`
}

var AppConfig *Config

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = &cfg
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Charset == "" {
		cfg.Database.Charset = "utf8mb4"
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "./data"
	}
	if len(cfg.Storage.TempPatterns) == 0 {
		cfg.Storage.TempPatterns = []string{"scoutbot-*", "ytdl-*", "spdl-*", "direct-*"}
	}
	if cfg.Storage.TempMaxAge <= 0 {
		cfg.Storage.TempMaxAge = 60
	}
	if cfg.Storage.TempMaxTotalSize <= 0 {
		cfg.Storage.TempMaxTotalSize = 2 * 1024 * 1024 * 1024
	}
	if cfg.Storage.CleanupInterval <= 0 {
		cfg.Storage.CleanupInterval = 30
	}
	if cfg.Pentaract.Timeout <= 0 {
		cfg.Pentaract.Timeout = 300
	}
	if cfg.Pentaract.RetryAttempts <= 0 {
		cfg.Pentaract.RetryAttempts = 3
	}
	if cfg.Pentaract.StreamThreshold <= 0 {
		cfg.Pentaract.StreamThreshold = 10 * 1024 * 1024
	}
	if cfg.Pentaract.StreamChunkSize <= 0 {
		cfg.Pentaract.StreamChunkSize = 1024 * 1024
	}
	if cfg.Pentaract.StorageName == "" {
		cfg.Pentaract.StorageName = "ScoutBot-Storage"
	}
	if cfg.Pentaract.UploadFolder == "" {
		cfg.Pentaract.UploadFolder = "storage"
	}
	if cfg.Resource.MonitorInterval <= 0 {
		cfg.Resource.MonitorInterval = 5
	}
	if cfg.Resource.CPUThreshold <= 0 {
		cfg.Resource.CPUThreshold = 80
	}
	if cfg.Resource.MemoryThreshold <= 0 {
		cfg.Resource.MemoryThreshold = 80
	}
	if cfg.Resource.MaxThrottleWait <= 0 {
		cfg.Resource.MaxThrottleWait = 300
	}
	if cfg.Resource.ThrottlePollInterval <= 0 {
		cfg.Resource.ThrottlePollInterval = 5
	}
	if cfg.Statistics.FlushInterval <= 0 {
		cfg.Statistics.FlushInterval = 60
	}
	if cfg.Statistics.RetentionDays <= 0 {
		cfg.Statistics.RetentionDays = 30
	}
}

// Validate rejects configurations the services cannot start with.
func (cfg *Config) Validate() error {
	if cfg.Pentaract.APIURL == "" {
		return fmt.Errorf("pentaract.api_url is required")
	}
	if cfg.Pentaract.Email == "" || cfg.Pentaract.Password == "" {
		return fmt.Errorf("pentaract credentials are required")
	}
	if cfg.Database.Host == "" || cfg.Database.Database == "" {
		return fmt.Errorf("database host and database name are required")
	}
	if cfg.Resource.CPUThreshold > 100 || cfg.Resource.MemoryThreshold > 100 {
		return fmt.Errorf("resource thresholds must be percentages (0-100]")
	}
	return nil
}
