package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Redis        RedisConfig        `yaml:"redis"`
	Vision       VisionConfig       `yaml:"vision"`
	Verification VerificationConfig `yaml:"verification"`
	Capture      CaptureConfig      `yaml:"capture"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Device       DeviceConfig       `yaml:"device"`
	Anomaly      AnomalyConfig      `yaml:"anomaly"`
	Retention    RetentionConfig    `yaml:"retention"`
	Worker       WorkerConfig       `yaml:"worker"`
	GeoIP        GeoIPConfig        `yaml:"geoip"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port            int      `yaml:"port"`
	APIKeys         []APIKey `yaml:"api_keys"`
	IPRatePerMinute float64  `yaml:"ip_rate_per_minute"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// APIKey grants access to one organization, or to all of them when Admin
// is set.
type APIKey struct {
	Key   string `yaml:"key"`
	OrgID string `yaml:"org_id"`
	Admin bool   `yaml:"admin"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// VisionConfig enables server-side face detection for capture checks when
// ModelsDir is set.
type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

type VerificationConfig struct {
	Threshold     float64 `yaml:"threshold"`
	DescriptorDim int     `yaml:"descriptor_dim"`
}

type CaptureConfig struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	MinFaceRatio    float64 `yaml:"min_face_ratio"`
	BlurThreshold   float64 `yaml:"blur_threshold"`
	MinBrightness   float64 `yaml:"min_brightness"`
	MaxBrightness   float64 `yaml:"max_brightness"`
}

type PolicyConfig struct {
	Window         time.Duration `yaml:"window"`
	Max            int           `yaml:"max"`
	Block          time.Duration `yaml:"block"`
	SkipSuccessful bool          `yaml:"skip_successful"`
}

type RateLimitConfig struct {
	Backend       string                  `yaml:"backend"`
	SweepInterval time.Duration           `yaml:"sweep_interval"`
	Policies      map[string]PolicyConfig `yaml:"policies"`
}

type DeviceConfig struct {
	TravelKm     float64       `yaml:"travel_km"`
	TravelWindow time.Duration `yaml:"travel_window"`
}

type AnomalyConfig struct {
	Lookback     time.Duration `yaml:"lookback"`
	BaselineDays int           `yaml:"baseline_days"`
	ScanInterval string        `yaml:"scan_interval"`
	Timezone     string        `yaml:"timezone"`
}

type RetentionConfig struct {
	Days int    `yaml:"days"`
	Cron string `yaml:"cron"`
}

type WorkerConfig struct {
	MetricsPort     int    `yaml:"metrics_port"`
	Concurrency     int    `yaml:"concurrency"`
	LockoutInterval string `yaml:"lockout_interval"`
	AuditMaxDeliver int    `yaml:"audit_max_deliver"`
}

type GeoIPConfig struct {
	DBPath string `yaml:"db_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if c.Verification.Threshold <= 0 || c.Verification.Threshold > 2 {
		return fmt.Errorf("verification.threshold out of range: %v", c.Verification.Threshold)
	}
	if c.Capture.MinBrightness >= c.Capture.MaxBrightness {
		return fmt.Errorf("capture.min_brightness must be below max_brightness")
	}
	if c.Anomaly.Timezone != "" {
		if _, err := time.LoadLocation(c.Anomaly.Timezone); err != nil {
			return fmt.Errorf("anomaly.timezone: %w", err)
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.IPRatePerMinute == 0 {
		cfg.Server.IPRatePerMinute = 120
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faceguard"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Verification.Threshold == 0 {
		cfg.Verification.Threshold = 0.6
	}
	if cfg.Verification.DescriptorDim == 0 {
		cfg.Verification.DescriptorDim = 128
	}
	setCaptureDefaults(&cfg.Capture)
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = time.Minute
	}
	if cfg.Device.TravelKm == 0 {
		cfg.Device.TravelKm = 100
	}
	if cfg.Device.TravelWindow == 0 {
		cfg.Device.TravelWindow = time.Hour
	}
	if cfg.Anomaly.Lookback == 0 {
		cfg.Anomaly.Lookback = 24 * time.Hour
	}
	if cfg.Anomaly.BaselineDays == 0 {
		cfg.Anomaly.BaselineDays = 30
	}
	if cfg.Anomaly.ScanInterval == "" {
		cfg.Anomaly.ScanInterval = "@every 1h"
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "@daily"
	}
	if cfg.Worker.MetricsPort == 0 {
		cfg.Worker.MetricsPort = 8082
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.LockoutInterval == "" {
		cfg.Worker.LockoutInterval = "@every 1m"
	}
	if cfg.Worker.AuditMaxDeliver == 0 {
		cfg.Worker.AuditMaxDeliver = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func setCaptureDefaults(c *CaptureConfig) {
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.65
	}
	if c.ConfidenceFloor == 0 {
		c.ConfidenceFloor = 0.4
	}
	if c.MinFaceRatio == 0 {
		c.MinFaceRatio = 0.2
	}
	if c.BlurThreshold == 0 {
		c.BlurThreshold = 100
	}
	if c.MinBrightness == 0 {
		c.MinBrightness = 40
	}
	if c.MaxBrightness == 0 {
		c.MaxBrightness = 220
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FG_API_KEY"); v != "" {
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, APIKey{
			Key:   v,
			OrgID: os.Getenv("FG_API_KEY_ORG"),
			Admin: os.Getenv("FG_API_KEY_ORG") == "",
		})
	}
	if v := os.Getenv("FG_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FG_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FG_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FG_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FG_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FG_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FG_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FG_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FG_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FG_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FG_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FG_VERIFY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Verification.Threshold = f
		}
	}
	if v := os.Getenv("FG_RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimit.Backend = v
	}
	if v := os.Getenv("FG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.Days = n
		}
	}
	if v := os.Getenv("FG_GEOIP_DB"); v != "" {
		cfg.GeoIP.DBPath = v
	}
	if v := os.Getenv("FG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FG_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
