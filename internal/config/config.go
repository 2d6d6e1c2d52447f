package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Storage  StorageConfig  `yaml:"storage"`
	Slicer   SlicerConfig   `yaml:"slicer"`
	Upload   UploadConfig   `yaml:"upload"`
	Auth     AuthConfig     `yaml:"auth"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type StorageConfig struct {
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentials_file"`
	ModelFolder     string        `yaml:"model_folder"`
	GcodeFolder     string        `yaml:"gcode_folder"`
	SignTTL         time.Duration `yaml:"sign_ttl"`
	// PublicBaseURL is the origin object URLs are built from.
	PublicBaseURL string `yaml:"public_base_url"`
}

type SlicerConfig struct {
	// Path is the engine executable. Empty disables automatic slicing.
	Path              string        `yaml:"path"`
	Profile           string        `yaml:"profile"`
	Timeout           time.Duration `yaml:"timeout"`
	TempDir           string        `yaml:"temp_dir"`
	WindowBytes       int           `yaml:"window_bytes"`
	PoolSize          int           `yaml:"pool_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type UploadConfig struct {
	MaxModelBytes int64 `yaml:"max_model_bytes"`
	MaxGcodeBytes int64 `yaml:"max_gcode_bytes"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Load reads the yaml file at path, then applies .env and environment
// overrides and fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"PRINTFORGE_DB_HOST":           &c.Database.Host,
		"PRINTFORGE_DB_USER":           &c.Database.User,
		"PRINTFORGE_DB_PASSWORD":       &c.Database.Password,
		"PRINTFORGE_DB_NAME":           &c.Database.Database,
		"PRINTFORGE_RABBITMQ_HOST":     &c.RabbitMQ.Host,
		"PRINTFORGE_RABBITMQ_USER":     &c.RabbitMQ.User,
		"PRINTFORGE_RABBITMQ_PASSWORD": &c.RabbitMQ.Password,
		"PRINTFORGE_STORAGE_BUCKET":    &c.Storage.Bucket,
		"PRINTFORGE_GCS_CREDENTIALS":   &c.Storage.CredentialsFile,
		"PRINTFORGE_SLICER_PATH":       &c.Slicer.Path,
		"PRINTFORGE_SLICER_PROFILE":    &c.Slicer.Profile,
		"PRINTFORGE_JWT_SECRET":        &c.Auth.JWTSecret,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PRINTFORGE_DB_PORT":          &c.Database.Port,
		"PRINTFORGE_RABBITMQ_PORT":    &c.RabbitMQ.Port,
		"PRINTFORGE_HTTP_PORT":        &c.HTTP.Port,
		"PRINTFORGE_SLICER_POOL_SIZE": &c.Slicer.PoolSize,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("PRINTFORGE_SLICER_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PRINTFORGE_SLICER_TIMEOUT: %w", err)
		}
		c.Slicer.Timeout = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Database == "" {
		c.Database.Database = "printforge"
	}
	if c.RabbitMQ.Host == "" {
		c.RabbitMQ.Host = "localhost"
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}

	if c.Storage.ModelFolder == "" {
		c.Storage.ModelFolder = "3d-files"
	}
	if c.Storage.GcodeFolder == "" {
		c.Storage.GcodeFolder = "gcode-files"
	}
	if c.Storage.SignTTL == 0 {
		c.Storage.SignTTL = 15 * time.Minute
	}
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = "https://storage.googleapis.com"
	}

	if c.Slicer.Timeout == 0 {
		c.Slicer.Timeout = 2 * time.Minute
	}
	if c.Slicer.WindowBytes == 0 {
		c.Slicer.WindowBytes = 64 * 1024
	}
	if c.Slicer.PoolSize == 0 {
		c.Slicer.PoolSize = 2
	}
	if c.Slicer.HeartbeatInterval == 0 {
		c.Slicer.HeartbeatInterval = 30 * time.Second
	}

	if c.Upload.MaxModelBytes == 0 {
		c.Upload.MaxModelBytes = 10 << 20
	}
	if c.Upload.MaxGcodeBytes == 0 {
		c.Upload.MaxGcodeBytes = 50 << 20
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = 3000
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 60 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 60 * time.Second
	}
}

// Validate rejects values no deployment can run with.
func (c *Config) Validate() error {
	switch {
	case c.Database.Port < 1 || c.Database.Port > 65535:
		return fmt.Errorf("invalid database port %d", c.Database.Port)
	case c.RabbitMQ.Port < 1 || c.RabbitMQ.Port > 65535:
		return fmt.Errorf("invalid rabbitmq port %d", c.RabbitMQ.Port)
	case c.HTTP.Port < 1 || c.HTTP.Port > 65535:
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	case c.Slicer.PoolSize < 1:
		return fmt.Errorf("slicer pool size must be at least 1, got %d", c.Slicer.PoolSize)
	case c.Slicer.Timeout < 0:
		return fmt.Errorf("slicer timeout must not be negative")
	case c.Upload.MaxModelBytes < 0 || c.Upload.MaxGcodeBytes < 0:
		return fmt.Errorf("upload limits must not be negative")
	case c.Storage.SignTTL < 0:
		return fmt.Errorf("storage sign ttl must not be negative")
	}
	return nil
}
