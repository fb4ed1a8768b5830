package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ListenAddr string

	FFmpegPath string
	YtdlpPath  string

	SongDir   string // library of playable media files
	StreamDir string // scratch dir for active transcode output
	TmpDir    string // scratch dir for in-flight downloads

	AudioBitrate string // e.g., "192k"

	// AdminSecret gates privileged routes. The core itself does not
	// authenticate; an empty secret means every caller is privileged.
	AdminSecret string

	// Redis (queue persistence; optional)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MySQL (play history; optional, enabled when DBHost is set)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MinIO (download archive; optional, enabled when endpoint is set)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	Policy Policy
}

// Policy carries the runtime knobs consumed by the core components.
type Policy struct {
	QueueLimit          int           // max entries per user, 0 = unlimited
	NormalizeAudio      bool          // apply loudnorm during transcode
	FullTranscode       bool          // transcode fully before serving
	BufferSeconds       int           // segment length for buffered streaming
	StartTimeout        time.Duration // wait for splash start acknowledgment
	DownloadConcurrency int           // simultaneous download jobs
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	dataDir := getEnv("DATA_DIR", "data")

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		YtdlpPath:  getEnv("YTDLP_PATH", "yt-dlp"),

		SongDir:   getEnv("SONG_DIR", filepath.Join(dataDir, "songs")),
		StreamDir: getEnv("STREAM_DIR", filepath.Join(dataDir, "streams")),
		TmpDir:    getEnv("TMP_DIR", filepath.Join(dataDir, "tmp")),

		AudioBitrate: getEnv("AUDIO_BITRATE", "192k"),

		AdminSecret: os.Getenv("ADMIN_SECRET"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "karafm"),

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "karafm"),
		MinioRegion:    getEnv("MINIO_REGION", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		Policy: Policy{
			QueueLimit:          getEnvInt("QUEUE_LIMIT", 0),
			NormalizeAudio:      getEnvBool("NORMALIZE_AUDIO", false),
			FullTranscode:       getEnvBool("FULL_TRANSCODE", false),
			BufferSeconds:       getEnvInt("BUFFER_SECONDS", 10),
			StartTimeout:        time.Duration(getEnvInt("START_TIMEOUT_SECONDS", 10)) * time.Second,
			DownloadConcurrency: getEnvInt("DOWNLOAD_CONCURRENCY", 2),
		},
	}
}
