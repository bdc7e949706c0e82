package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Church    ChurchConfig    `yaml:"church"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Env       string          `yaml:"env"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	NudgeQueue  string `yaml:"nudge_queue"`
	EventsQueue string `yaml:"events_queue"`
}

// RedisConfig holds Redis configuration for the sweep lock
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds delivery worker pool settings
type WorkerConfig struct {
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxRetries   int           `yaml:"max_retries"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
	SuccessRate  float64       `yaml:"success_rate"`
}

// SchedulerConfig holds periodic sweep settings
type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Location      string        `yaml:"location"`
}

// ChurchConfig holds the values used for church-wide template variables
type ChurchConfig struct {
	Name    string `yaml:"name"`
	Pastor  string `yaml:"pastor"`
	Contact string `yaml:"contact"`
}

// TracingConfig toggles OpenTelemetry span export
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the built-in configuration before any file or env overlay
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", MetricsPort: "9090"},
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   "5432",
			User:   "prayerflow",
			DBName: "prayerflow_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:        "localhost",
			Port:        "5672",
			User:        "guest",
			Password:    "guest",
			NudgeQueue:  "prayer_messages_ready",
			EventsQueue: "prayer_request_events",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Worker: WorkerConfig{
			Count:        4,
			PollInterval: 5 * time.Second,
			MaxRetries:   3,
			BackoffBase:  time.Minute,
			LeaseTimeout: 10 * time.Minute,
			SuccessRate:  0.95,
		},
		Scheduler: SchedulerConfig{SweepInterval: 5 * time.Minute, Location: "Local"},
		Church: ChurchConfig{
			Name:    "Nuestra Iglesia",
			Pastor:  "Pastor",
			Contact: "",
		},
		Tracing: TracingConfig{ServiceName: "prayerflow"},
		Env:     "development",
	}
}

// Load reads configuration from an optional YAML file named by CONFIG_FILE
// and then from environment variables, which take precedence
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.mergeFile(path); err != nil {
			return nil, err
		}
	}

	config.applyEnv()

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if config.Worker.Count <= 0 {
		return nil, fmt.Errorf("WORKER_COUNT must be positive")
	}
	if config.Worker.MaxRetries <= 0 {
		return nil, fmt.Errorf("MAX_RETRIES must be positive")
	}
	if _, err := config.Location(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.MetricsPort = getEnv("METRICS_PORT", c.Server.MetricsPort)

	c.Database.Host = getEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = getEnv("POSTGRES_PORT", c.Database.Port)
	c.Database.User = getEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = getEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("POSTGRES_DB", c.Database.DBName)

	c.RabbitMQ.Host = getEnv("RABBITMQ_HOST", c.RabbitMQ.Host)
	c.RabbitMQ.Port = getEnv("RABBITMQ_PORT", c.RabbitMQ.Port)
	c.RabbitMQ.User = getEnv("RABBITMQ_DEFAULT_USER", c.RabbitMQ.User)
	c.RabbitMQ.Password = getEnv("RABBITMQ_DEFAULT_PASS", c.RabbitMQ.Password)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.Worker.Count = getEnvAsInt("WORKER_COUNT", c.Worker.Count)
	c.Worker.PollInterval = getEnvAsDuration("POLL_INTERVAL", c.Worker.PollInterval)
	c.Worker.MaxRetries = getEnvAsInt("MAX_RETRIES", c.Worker.MaxRetries)
	c.Worker.BackoffBase = getEnvAsDuration("BACKOFF_BASE", c.Worker.BackoffBase)
	c.Worker.LeaseTimeout = getEnvAsDuration("LEASE_TIMEOUT", c.Worker.LeaseTimeout)
	c.Worker.SuccessRate = getEnvAsFloat("SEND_SUCCESS_RATE", c.Worker.SuccessRate)

	c.Scheduler.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", c.Scheduler.SweepInterval)
	c.Scheduler.Location = getEnv("SCHEDULE_LOCATION", c.Scheduler.Location)

	c.Church.Name = getEnv("CHURCH_NAME", c.Church.Name)
	c.Church.Pastor = getEnv("PASTOR_NAME", c.Church.Pastor)
	c.Church.Contact = getEnv("CHURCH_CONTACT", c.Church.Contact)

	c.Tracing.Enabled = getEnvAsBool("TRACING_ENABLED", c.Tracing.Enabled)

	c.Env = getEnv("ENV", c.Env)
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// Location resolves the time zone used for scheduled triggers and templates
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_LOCATION %q: %w", c.Scheduler.Location, err)
	}
	return loc, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
