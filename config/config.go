package config

import (
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Minio   MinioConfig   `yaml:"minio"`
	Payment PaymentConfig `yaml:"payment"`
	Auth    AuthConfig    `yaml:"auth"`
	Users   []User        `yaml:"users"`
}

type ServerConfig struct {
	Port          int `yaml:"port"`
	RateLimit     int `yaml:"rate_limit"`     // requests per minute per client IP
	MaxUploadMB   int `yaml:"max_upload_mb"`  // largest accepted document
	ShutdownGrace int `yaml:"shutdown_grace"` // seconds
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"` // memory, postgres
	DSN           string `yaml:"dsn"`
	MaxAgreements int    `yaml:"max_agreements"` // memory driver only, 0 = unlimited
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty keeps flags in memory
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	FlagTTL  int    `yaml:"flag_ttl_hours"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type PaymentConfig struct {
	APIURL        string `yaml:"api_url"`
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	Currency      string `yaml:"currency"`
	PollInterval  int    `yaml:"poll_interval_seconds"`
	PollAttempts  int    `yaml:"poll_attempts"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // plain text or a bcrypt hash
	Role     string `yaml:"role"`
	Name     string `yaml:"name"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnvOverrides lets deployments keep secrets out of the config file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CASEDESK_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("CASEDESK_DB_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("CASEDESK_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CASEDESK_MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
	if v := os.Getenv("CASEDESK_PAYMENT_API_KEY"); v != "" {
		c.Payment.APIKey = v
	}
	if v := os.Getenv("CASEDESK_PAYMENT_WEBHOOK_SECRET"); v != "" {
		c.Payment.WebhookSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 25
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Redis.FlagTTL <= 0 {
		c.Redis.FlagTTL = 72
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "USD"
	}
	if c.Payment.PollInterval == 0 {
		c.Payment.PollInterval = 5
	}
	if c.Payment.PollAttempts == 0 {
		c.Payment.PollAttempts = 24
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	for i := range c.Users {
		if c.Users[i].ID == "" {
			c.Users[i].ID = c.Users[i].Username
		}
	}
}

// PollEvery returns the payment poll interval as a duration
func (c *PaymentConfig) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// FlagTTLDuration returns how long advisory flags are kept
func (c *RedisConfig) FlagTTLDuration() time.Duration {
	return time.Duration(c.FlagTTL) * time.Hour
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

// FindUserByID finds a user by id
func (c *Config) FindUserByID(id string) *User {
	for i := range c.Users {
		if c.Users[i].ID == id {
			return &c.Users[i]
		}
	}
	return nil
}

// CheckPassword compares password with the configured one. Values starting
// with "$2" are treated as bcrypt hashes.
func (u *User) CheckPassword(password string) bool {
	if strings.HasPrefix(u.Password, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
	}
	return u.Password == password
}
