package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// App holds the station configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string

	APIBaseURL  string
	APIToken    string
	APIEmail    string
	APIPassword string
	APITimeout  time.Duration

	CameraURL        string
	SampleInterval   time.Duration
	ResultDelay      time.Duration
	NoCodeResetDelay time.Duration
	MaxUploadBytes   int64
	MaxUploadPixels  int64
	ScanLocation     string
	DeviceInfo       string

	RedisAddr       string
	QueueBackend    string
	QueueKey        string
	FeedbackWindow  time.Duration
	FeedbackBackend string

	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AutoOpenLinks bool

	RateLimitPerMin  int
	RateLimitBackend string
}

// Production reports whether the station runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// LoadDotEnv reads .env files into the environment when present. Variables
// already set win.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: could not load .env: %v", err)
	}
}

// Load returns station config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8081"),

		APIBaseURL:  strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:5000/api"), "/"),
		APIToken:    getEnv("API_TOKEN", ""),
		APIEmail:    getEnv("API_EMAIL", ""),
		APIPassword: getEnv("API_PASSWORD", ""),
		APITimeout:  durationEnv("API_TIMEOUT", 10*time.Second),

		CameraURL:        getEnv("CAMERA_URL", ""),
		SampleInterval:   durationEnv("SAMPLE_INTERVAL", 500*time.Millisecond),
		ResultDelay:      durationEnv("RESULT_DELAY", 2*time.Second),
		NoCodeResetDelay: durationEnv("NO_CODE_RESET_DELAY", 3*time.Second),
		MaxUploadBytes:   int64Env("MAX_UPLOAD_BYTES", 5<<20),
		MaxUploadPixels:  int64Env("MAX_UPLOAD_PIXELS", 4096*4096),
		ScanLocation:     getEnv("SCAN_LOCATION", "main_entrance"),
		DeviceInfo:       getEnv("DEVICE_INFO", "qrattend-station"),

		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		QueueKey:        getEnv("QUEUE_KEY", "qrattend:events"),
		FeedbackWindow:  durationEnv("FEEDBACK_WINDOW", 3*time.Second),
		FeedbackBackend: getEnv("FEEDBACK_BACKEND", "memory"),

		JWTIssuer:     getEnv("JWT_ISSUER", "qrattend-station"),
		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:     durationEnv("ACCESS_TTL", 12*time.Hour),
		RefreshTTL:    durationEnv("REFRESH_TTL", 7*24*time.Hour),
		AutoOpenLinks: boolEnv("AUTO_OPEN_LINKS", true),

		RateLimitPerMin:  intEnv("RATE_LIMIT_PER_MIN", 120),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil || d <= 0 {
			log.Printf("invalid duration for %s: %q, using fallback %s", key, val, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			log.Printf("invalid bool for %s, using fallback %v", key, fallback)
			return fallback
		}
		return parsed
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Printf("invalid int for %s, using fallback %d", key, fallback)
			return fallback
		}
		return parsed
	}
	return fallback
}

func int64Env(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil || parsed <= 0 {
			log.Printf("invalid int for %s, using fallback %d", key, fallback)
			return fallback
		}
		return parsed
	}
	return fallback
}
