package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings sourced from environment variables.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Clamd      ClamdConfig      `mapstructure:"clamd"`
	Generation GenerationConfig `mapstructure:"generation"`
	Log        LogConfig        `mapstructure:"log"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
	// InternalSecret 保护仅供 worker/运维调用的接口，为空时这些接口关闭。
	InternalSecret    string `mapstructure:"internal_secret"`
	AllowedWSOrigins  string `mapstructure:"allowed_ws_origins"`
	UploadMaxBytes    int64  `mapstructure:"upload_max_bytes"`
	PreviewTimeoutSec int    `mapstructure:"preview_timeout_sec"`
}

// WSOrigins 返回逗号分隔的允许来源列表。
func (a APIConfig) WSOrigins() []string {
	var out []string
	for _, o := range strings.Split(a.AllowedWSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// ClamdConfig 配置上传扫描；Addr 为空时跳过扫描。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// GenerationConfig 控制证书生成。
type GenerationConfig struct {
	// PublicBaseURL 用于拼接二维码中的 /cek/{certificate_no} 校验链接。
	PublicBaseURL  string `mapstructure:"public_base_url"`
	DateFormat     string `mapstructure:"date_format"`
	Locale         string `mapstructure:"locale"`
	NumberPrefix   string `mapstructure:"number_prefix"`
	SnowflakeNode  int64  `mapstructure:"snowflake_node"`
	FontDir        string `mapstructure:"font_dir"`
	ThumbnailWidth int    `mapstructure:"thumbnail_width"`
	Concurrency    int    `mapstructure:"concurrency"`
	JobTimeoutSec  int    `mapstructure:"job_timeout_sec"`
	WorkerSlots    int    `mapstructure:"worker_slots"`
	ChromiumBin    string `mapstructure:"chromium_bin"`
	// MetricsPort 为 worker 暴露 /metrics 的端口，0 表示不暴露。
	MetricsPort    int    `mapstructure:"metrics_port"`
}

// JobTimeout returns the per-job deadline.
func (g GenerationConfig) JobTimeout() time.Duration {
	return time.Duration(g.JobTimeoutSec) * time.Second
}

// LogConfig 选择日志输出格式：text 或 json。
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if strings.TrimSpace(cfg.MinIO.PublicEndpoint) == "" {
		scheme := "http"
		if cfg.MinIO.UseSSL {
			scheme = "https"
		}
		cfg.MinIO.PublicEndpoint = scheme + "://" + cfg.MinIO.Endpoint
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.upload_max_bytes", 5<<20)
	v.SetDefault("api.preview_timeout_sec", 20)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "certgen")
	v.SetDefault("database.user", "certgen")
	v.SetDefault("database.password", "certgen")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "certificates")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("generation.public_base_url", "http://localhost:8080")
	v.SetDefault("generation.date_format", "dd MMMM yyyy")
	v.SetDefault("generation.locale", "en")
	v.SetDefault("generation.number_prefix", "CERT")
	v.SetDefault("generation.snowflake_node", 1)
	v.SetDefault("generation.thumbnail_width", 480)
	v.SetDefault("generation.concurrency", 1)
	v.SetDefault("generation.job_timeout_sec", 1800)
	v.SetDefault("generation.worker_slots", 4)
	v.SetDefault("generation.metrics_port", 9091)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                   "API_PORT",
		"api.internal_secret":        "API_INTERNAL_SECRET",
		"api.allowed_ws_origins":     "API_ALLOWED_WS_ORIGINS",
		"api.upload_max_bytes":       "API_UPLOAD_MAX_BYTES",
		"api.preview_timeout_sec":    "API_PREVIEW_TIMEOUT_SEC",
		"database.host":              "DATABASE_HOST",
		"database.port":              "DATABASE_PORT",
		"database.name":              "POSTGRES_DB",
		"database.user":              "POSTGRES_USER",
		"database.password":          "POSTGRES_PASSWORD",
		"database.sslmode":           "DATABASE_SSLMODE",
		"redis.host":                 "REDIS_HOST",
		"redis.port":                 "REDIS_PORT",
		"minio.endpoint":             "MINIO_ENDPOINT",
		"minio.public_endpoint":      "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":        "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":    "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":              "MINIO_USE_SSL",
		"minio.bucket":               "MINIO_BUCKET",
		"minio.region":               "MINIO_REGION",
		"minio.bucket_lookup":        "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":   "MINIO_AUTO_CREATE_BUCKET",
		"clamd.addr":                 "CLAMD_ADDR",
		"generation.public_base_url": "CERT_PUBLIC_BASE_URL",
		"generation.date_format":     "CERT_DATE_FORMAT",
		"generation.locale":          "CERT_LOCALE",
		"generation.number_prefix":   "CERT_NUMBER_PREFIX",
		"generation.snowflake_node":  "CERT_SNOWFLAKE_NODE",
		"generation.font_dir":        "CERT_FONT_DIR",
		"generation.thumbnail_width": "CERT_THUMBNAIL_WIDTH",
		"generation.concurrency":     "CERT_CONCURRENCY",
		"generation.job_timeout_sec": "CERT_JOB_TIMEOUT_SEC",
		"generation.worker_slots":    "CERT_WORKER_SLOTS",
		"generation.chromium_bin":    "CHROMIUM_BIN",
		"generation.metrics_port":    "WORKER_METRICS_PORT",
		"log.format":                 "LOG_FORMAT",
		"log.level":                  "LOG_LEVEL",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.API.UploadMaxBytes <= 0 {
		return errors.New("api upload max bytes must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if u, err := url.Parse(cfg.Generation.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("generation public base url %q must be an absolute url", cfg.Generation.PublicBaseURL)
	}
	if cfg.Generation.Concurrency <= 0 {
		return errors.New("generation concurrency must be positive")
	}
	if cfg.Generation.SnowflakeNode < 0 || cfg.Generation.SnowflakeNode > 1023 {
		return errors.New("generation snowflake node must be within 0..1023")
	}
	if cfg.Generation.JobTimeoutSec <= 0 {
		return errors.New("generation job timeout must be positive")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Log.Format)
	}
	return nil
}
