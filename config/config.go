package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	App         AppConfig
	RateLimit   RateLimitConfig
	Cache       CacheConfig
	AI          AIConfig
	Jobs        JobsConfig
	Backup      BackupConfig
	ObjectStore ObjectStoreConfig
	Firebase    FirebaseConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int
	MinConns int
	Migrate  bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
	ServiceName string
}

// IsProduction reports whether APP_ENV is "production".
func (a AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// IsDevelopment reports whether APP_ENV is "development".
func (a AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

type RateLimitConfig struct {
	Backend       string // memory | redis
	RoutesFile    string
	SweepInterval time.Duration
}

type CacheConfig struct {
	PurgeInterval time.Duration
	BusEnabled    bool
}

type AIConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxPerUser     int
	Window         time.Duration
	ProviderQPS    float64
	ProviderBurst  int
	HistoryContext int
}

type JobsConfig struct {
	Secret      string
	CronEnabled bool
}

type BackupConfig struct {
	Dir       string
	Retention int
	Prefix    string
}

type ObjectStoreConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Enabled reports whether backups should be uploaded.
func (o ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(o.Bucket) != ""
}

type FirebaseConfig struct {
	CredentialsPath string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			DSN:      getEnv("DB_DSN", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "taskboard"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
			Migrate:  getEnvAsBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
			ServiceName: getEnv("SERVICE_NAME", "taskboard-backend"),
		},
		RateLimit: RateLimitConfig{
			Backend:       getEnv("RATE_LIMIT_BACKEND", "memory"),
			RoutesFile:    getEnv("RATE_LIMIT_ROUTES_FILE", ""),
			SweepInterval: getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},
		Cache: CacheConfig{
			PurgeInterval: getEnvAsDuration("CACHE_PURGE_INTERVAL", time.Minute),
			BusEnabled:    getEnvAsBool("CACHE_BUS_ENABLED", false),
		},
		AI: AIConfig{
			BaseURL:        getEnv("AI_BASE_URL", "http://localhost:8088"),
			APIKey:         getEnv("AI_API_KEY", ""),
			Timeout:        getEnvAsDuration("AI_TIMEOUT", 60*time.Second),
			MaxPerUser:     getEnvAsInt("AI_RATE_LIMIT_MAX", 5),
			Window:         getEnvAsDuration("AI_RATE_LIMIT_WINDOW", time.Minute),
			ProviderQPS:    getEnvAsFloat("AI_PROVIDER_QPS", 2),
			ProviderBurst:  getEnvAsInt("AI_PROVIDER_BURST", 4),
			HistoryContext: getEnvAsInt("AI_HISTORY_CONTEXT", 20),
		},
		Jobs: JobsConfig{
			Secret:      getEnv("CRON_SECRET", ""),
			CronEnabled: getEnvAsBool("CRON_ENABLED", false),
		},
		Backup: BackupConfig{
			Dir:       getEnv("BACKUP_DIR", "backups"),
			Retention: getEnvAsInt("BACKUP_RETENTION", 30),
			Prefix:    getEnv("BACKUP_PREFIX", "backups/"),
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Firebase: FirebaseConfig{
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
		},
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = DSN(&cfg.Database)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND: %s", c.RateLimit.Backend)
	}

	if c.Cache.BusEnabled && !c.Redis.Enabled() {
		return fmt.Errorf("CACHE_BUS_ENABLED requires REDIS_ADDR")
	}

	if c.App.IsProduction() && c.Jobs.Secret == "" {
		return fmt.Errorf("CRON_SECRET is required in production")
	}

	if c.AI.MaxPerUser <= 0 {
		return fmt.Errorf("AI_RATE_LIMIT_MAX must be positive")
	}

	if c.Backup.Retention <= 0 {
		return fmt.Errorf("BACKUP_RETENTION must be positive")
	}

	return nil
}

// DSN builds a key/value connection string from the individual DB_* settings.
func DSN(cfg *DatabaseConfig) string {
	if cfg.Host == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid number for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
