package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

type Config struct {
	Env       string           `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig       `yaml:"http"`
	Database  DatabaseConfig   `yaml:"database"`
	Venue     VenueConfig      `yaml:"venue"`
	QR        QRConfig         `yaml:"qr"`
	Storage   StorageConfig    `yaml:"storage"`
	Tracing   TracingConfig    `yaml:"tracing"`
	Operators []OperatorConfig `yaml:"operators"`
}

type HTTPConfig struct {
	Address        string        `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:","`
	ReadTimeout    time.Duration `yaml:"read_timeout" env-default:"10s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env-default:"30s"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER" env-default:"memory"`
	DSN             string        `yaml:"dsn" env:"DATABASE_DSN"`
	Path            string        `yaml:"path" env:"DATABASE_PATH" env-default:"data/checkin.db"`
	LockTimeout     time.Duration `yaml:"lock_timeout" env:"DATABASE_LOCK_TIMEOUT" env-default:"5s"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env-default:"10"`
	MaxOpenConns    int           `yaml:"max_open_conns" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env-default:"30m"`
}

type VenueConfig struct {
	Name     string `yaml:"name" env:"VENUE_NAME"`
	Timezone string `yaml:"timezone" env:"VENUE_TIMEZONE" env-default:"America/Mexico_City"`
	LogoPath string `yaml:"logo_path" env:"VENUE_LOGO_PATH"`
}

type QRConfig struct {
	Size      int     `yaml:"size" env:"QR_SIZE"`
	LogoRatio float64 `yaml:"logo_ratio" env:"QR_LOGO_RATIO"`
}

type StorageConfig struct {
	MediaDir string `yaml:"media_dir" env:"STORAGE_MEDIA_DIR" env-default:"media"`
}

type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"checkin"`
}

type OperatorConfig struct {
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	PasswordHash string   `yaml:"password_hash"`
	Capabilities []string `yaml:"capabilities"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		panic("invalid config: " + err.Error())
	}

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	if c.Venue.Name == "" {
		c.Venue.Name = "Event"
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverBolt:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == DriverBolt && c.Database.Path == "" {
		return errors.New("database path is required for the bolt driver")
	}
	return nil
}
