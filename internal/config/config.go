package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/photosync/mediaindex/internal/workers"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string    `json:"serverAddress"`
	DatabasePath  string    `json:"databasePath"`
	DatabaseURL   string    `json:"databaseUrl"`
	DefaultStory  string    `json:"defaultStory"`
	Storage       Storage   `json:"storage"`
	Database      Database  `json:"database"`
	Thumbnail     Thumbnail `json:"thumbnail"`
	Video         Video     `json:"video"`
	Workers       Workers   `json:"workers"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Storage configuration
type Storage struct {
	Root          string `json:"root"`
	MaxFileSizeMB int64  `json:"maxFileSizeMB"`
}

// Database pool configuration
type Database struct {
	MaxOpenConns     int `json:"maxOpenConns"`
	MinIdleConns     int `json:"minIdleConns"`
	AcquireTimeoutMS int `json:"acquireTimeoutMs"`
}

// AcquireTimeout is how long a caller waits for a pooled connection
func (d Database) AcquireTimeout() time.Duration {
	return time.Duration(d.AcquireTimeoutMS) * time.Millisecond
}

// Thumbnail configuration shared by the image and video decoders
type Thumbnail struct {
	Size         int `json:"size"`
	MaxWidth     int `json:"maxWidth"`
	ImageQuality int `json:"imageQuality"`
	VideoQuality int `json:"videoQuality"`
}

// Video configuration for the ffmpeg backend
type Video struct {
	FFmpegPath  string `json:"ffmpegPath"`
	FFprobePath string `json:"ffprobePath"`
}

// Workers configuration for CPU-bound decode work
type Workers struct {
	Decode int `json:"decode"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "mediaindex.db",
		DefaultStory:  "default",
		Storage: Storage{
			Root:          "./media",
			MaxFileSizeMB: 512,
		},
		Database: Database{
			MaxOpenConns:     8,
			MinIdleConns:     2,
			AcquireTimeoutMS: 500,
		},
		Thumbnail: Thumbnail{
			Size:         256,
			MaxWidth:     2048,
			ImageQuality: 80,
			VideoQuality: 70,
		},
		Video: Video{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Workers: Workers{
			Decode: workers.ForCPU(0),
		},
	}
}

// Load loads configuration from .env, file and environment, in that order
func Load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	cfg.Storage.Root = absPath

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if root := os.Getenv("MEDIA_ROOT"); root != "" {
		cfg.Storage.Root = root
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if story := os.Getenv("DEFAULT_STORY"); story != "" {
		cfg.DefaultStory = story
	}
	if p := os.Getenv("FFMPEG_PATH"); p != "" {
		cfg.Video.FFmpegPath = p
	}
	if p := os.Getenv("FFPROBE_PATH"); p != "" {
		cfg.Video.FFprobePath = p
	}

	envInt("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	envInt("DB_MIN_IDLE_CONNS", &cfg.Database.MinIdleConns)
	envInt("DB_ACQUIRE_TIMEOUT_MS", &cfg.Database.AcquireTimeoutMS)
	envInt("THUMBNAIL_SIZE", &cfg.Thumbnail.Size)
	envInt("THUMBNAIL_MAX_WIDTH", &cfg.Thumbnail.MaxWidth)
}

// envInt overwrites dst with a positive integer from the environment
func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}
