package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	StorageDriverS3    = "s3"
	StorageDriverMinIO = "minio"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Recording RecordingConfig
	WebRTC    WebRTCConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/getrec?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. An empty Secret accepts the bearer
// token itself as the player id.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// StorageConfig selects and configures the object store packaged recordings go to.
type StorageConfig struct {
	Driver               string
	Endpoint             string // empty = AWS S3
	Bucket               string
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	PresignExpireMinutes int
	UseSSL               bool // minio only
}

// RecordingConfig holds capture and packaging settings.
type RecordingConfig struct {
	TmpPath            string
	CleanRawFiles      bool
	CleanPackagedFiles bool
	AudioPayloadType   int
	FrameRate          int
	EventBuffer        int
	FFmpegPath         string
	FFprobePath        string
}

// WebRTCConfig holds session addressing settings.
type WebRTCConfig struct {
	STUNServer   string // empty disables the server-reflexive candidate
	HostIP       string // overrides interface discovery
	ExcludedIPs  []string
	VideoReorder int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
// Malformed numbers and booleans are reported together.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	var p parser
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("GETREC_PORT", getEnv("PORT", "8080")),
			ReadTimeout:        p.integer("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       p.integer("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "getrec"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: p.integer("DATABASE_MAX_CONNS", 24),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       p.integer("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			ExpireHours: p.integer("JWT_EXPIRE_HOURS", 24),
		},
		Storage: StorageConfig{
			Driver:               strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverS3)),
			Endpoint:             getEnv("S3_URL", ""),
			Bucket:               getEnv("S3_BUCKET", "recordings"),
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			PresignExpireMinutes: p.integer("AWS_PRESIGN_EXPIRE_MINUTES", 15),
			UseSSL:               p.boolean("S3_USE_SSL", true),
		},
		Recording: RecordingConfig{
			TmpPath:            getEnv("GETREC_TMP_PATH", filepath.Join(os.TempDir(), "getrec")),
			CleanRawFiles:      p.boolean("GETREC_CLEAN_RAW_FILES", true),
			CleanPackagedFiles: p.boolean("GETREC_CLEAN_PACKAGED_FILES", true),
			AudioPayloadType:   p.integer("GETREC_AUDIO_PAYLOAD_TYPE", 111),
			FrameRate:          p.integer("GETREC_FRAME_RATE", 30),
			EventBuffer:        p.integer("GETREC_EVENT_BUFFER", 100),
			FFmpegPath:         getEnv("GETREC_FFMPEG_PATH", "ffmpeg"),
			FFprobePath:        getEnv("GETREC_FFPROBE_PATH", "ffprobe"),
		},
		WebRTC: WebRTCConfig{
			STUNServer:   lookupEnv("GETREC_STUN_SERVER", "stun.l.google.com:19302"),
			HostIP:       getEnv("GETREC_HOST_IP", ""),
			ExcludedIPs:  splitTrim(lookupEnv("GETREC_EXCLUDED_IPS", "192.168.64.1"), ","),
			VideoReorder: p.integer("GETREC_VIDEO_REORDER", 240),
		},
	}
	if err := errors.Join(append(p.errs, cfg.validate()...)...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.Storage.Driver != StorageDriverS3 && c.Storage.Driver != StorageDriverMinIO {
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER: unknown driver %q", c.Storage.Driver))
	}
	if pt := c.Recording.AudioPayloadType; pt < 0 || pt > 127 {
		errs = append(errs, fmt.Errorf("GETREC_AUDIO_PAYLOAD_TYPE: %d is not an RTP payload type", pt))
	}
	if c.Recording.FrameRate <= 0 {
		errs = append(errs, errors.New("GETREC_FRAME_RATE: must be positive"))
	}
	if n := c.WebRTC.VideoReorder; n <= 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("GETREC_VIDEO_REORDER: %d out of range", n))
	}
	return errs
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// lookupEnv is getEnv for settings where an explicitly empty value means "off".
func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}
