package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Queue     QueueConfig     `toml:"queue"`
	Paths     PathsConfig     `toml:"paths"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	WebSocket WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port          int    `toml:"port" validate:"gt=0,lte=65535"`
	Host          string `toml:"host"`
	AllowedOrigin string `toml:"allowed_origin"`  // Non-empty enables CORS headers for this origin
	MaxUploadSize int64  `toml:"max_upload_size"` // Max request body for uploads in bytes
}

type QueueConfig struct {
	// MaxPending is the queue-depth ceiling for the synchronous submission
	// API. Submissions arriving while more than this many entries are queued
	// are rejected with 429 instead of being enqueued.
	MaxPending int `toml:"max_pending" validate:"gt=0"`
	Workers    int `toml:"workers" validate:"gt=0"` // Executor worker goroutines
}

// PathsConfig holds the managed filesystem roots served by the file gateway.
type PathsConfig struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`
	Temp   string `toml:"temp"`
	Cache  string `toml:"cache"` // Artifact cache directory; empty = user cache dir
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// WebSocketConfig contains configuration for the real-time channel.
type WebSocketConfig struct {
	ReadBufferSize  int `toml:"read_buffer_size"`
	WriteBufferSize int `toml:"write_buffer_size"`
	// PreviewThrottle limits how often binary preview frames are fanned out.
	// Empty disables throttling. Status/executing events are never throttled.
	PreviewThrottle string `toml:"preview_throttle"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8188,
			Host:          "localhost",
			AllowedOrigin: "",
			MaxUploadSize: 20 * 1024 * 1024,
		},
		Queue: QueueConfig{
			MaxPending: 100,
			Workers:    1,
		},
		Paths: PathsConfig{
			Input:  "./input",
			Output: "./output",
			Temp:   "./temp",
			Cache:  "", // Resolved to os.UserCacheDir()/comfyd at startup
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PreviewThrottle: "",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.WebSocket.PreviewThrottle != "" {
		if _, err := time.ParseDuration(c.WebSocket.PreviewThrottle); err != nil {
			return fmt.Errorf("invalid websocket.preview_throttle: %w", err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("COMFY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COMFY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if origin := os.Getenv("COMFY_SERVER_ALLOWED_ORIGIN"); origin != "" {
		config.Server.AllowedOrigin = origin
	}

	if maxPending := os.Getenv("COMFY_QUEUE_MAX_PENDING"); maxPending != "" {
		if mp, err := strconv.Atoi(maxPending); err == nil {
			config.Queue.MaxPending = mp
		}
	}
	if workers := os.Getenv("COMFY_QUEUE_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.Workers = w
		}
	}

	if input := os.Getenv("COMFY_PATHS_INPUT"); input != "" {
		config.Paths.Input = input
	}
	if output := os.Getenv("COMFY_PATHS_OUTPUT"); output != "" {
		config.Paths.Output = output
	}
	if temp := os.Getenv("COMFY_PATHS_TEMP"); temp != "" {
		config.Paths.Temp = temp
	}
	if cache := os.Getenv("COMFY_PATHS_CACHE"); cache != "" {
		config.Paths.Cache = cache
	}

	if badgerPath := os.Getenv("COMFY_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("COMFY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("COMFY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if throttle := os.Getenv("COMFY_WEBSOCKET_PREVIEW_THROTTLE"); throttle != "" {
		if _, err := time.ParseDuration(throttle); err == nil {
			config.WebSocket.PreviewThrottle = throttle
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ResolveCacheDir returns the configured artifact cache directory, falling
// back to a per-user cache directory when unset.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.Paths.Cache != "" {
		return c.Paths.Cache, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "comfyd"), nil
}

// EnsureDirectories creates the managed filesystem roots if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.Input, c.Paths.Output, c.Paths.Temp} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
