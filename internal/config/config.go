package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"social-service/internal/util"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	MessageStorePostgres = "postgres"
	MessageStoreScylla   = "scylla"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Bucketing     BucketingConfig
	Messaging     MessagingConfig
	Admin         AdminConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MigrateOnStart  bool
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Enabled  bool
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicPrefix string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
	// LocalMasterKey wraps data keys when KMS is disabled (base64, 32 bytes)
	LocalMasterKey string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	Pepper            string
	PepperVersion     int
	// PreviousPeppers holds retired peppers as "version:value" pairs
	PreviousPeppers []string
}

type SessionConfig struct {
	TTL time.Duration
}

type RateLimitConfig struct {
	MaxLoginFailures int
	LoginWindow      time.Duration
	IdempotencyTTL   time.Duration
}

type BucketingConfig struct {
	ConversationBuckets int
	EventBuckets        int
}

type MessagingConfig struct {
	Store string
}

type AdminConfig struct {
	BootstrapEmails []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		util.Debug("No .env file found, relying on process environment")
	}

	cfg := &Config{
		Environment: util.GetEnv("APP_ENV", EnvDevelopment),
		Server: ServerConfig{
			Port:           util.GetEnvInt("SERVER_PORT", 8080),
			TLSPort:        util.GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      util.GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       util.GetEnvBool("SERVER_AUTO_CERT", false),
			Domain:         util.GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       util.GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:        util.GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    util.GetEnv("SERVER_AUTO_CERT_DIR", "/var/lib/social-service/certs"),
			Email:          util.GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:    util.GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   util.GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    util.GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: util.GetEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:          util.GetEnv("DATABASE_DRIVER", DriverPostgres),
			DSN:             util.GetEnv("DATABASE_URL", ""),
			MaxConns:        util.GetEnvInt("DATABASE_MAX_CONNS", 20),
			MinConns:        util.GetEnvInt("DATABASE_MIN_CONNS", 2),
			MaxConnLifetime: util.GetEnvDuration("DATABASE_MAX_CONN_LIFETIME", 30*time.Minute),
			MigrateOnStart:  util.GetEnvBool("DATABASE_MIGRATE_ON_START", true),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Enabled:  util.GetEnvBool("SCYLLA_ENABLED", false),
			Nodes:    util.GetEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: util.GetEnv("SCYLLA_KEYSPACE", "social"),
			Username: util.GetEnv("SCYLLA_USERNAME", ""),
			Password: util.GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled:     util.GetEnvBool("KAFKA_ENABLED", false),
			Brokers:     util.GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicPrefix: util.GetEnv("KAFKA_TOPIC_PREFIX", "social"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  util.GetEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    util.GetEnv("ELASTICSEARCH_IDENTITY_INDEX", "identities"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  util.GetEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      util.GetEnv("CLICKHOUSE_URL", "http://localhost:9000"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "social_audit"),
		},
		KMS: KMSConfig{
			Enabled:        util.GetEnvBool("KMS_ENABLED", false),
			KeyID:          util.GetEnv("KMS_KEY_ID", ""),
			Region:         util.GetEnv("AWS_REGION", "us-east-1"),
			LocalMasterKey: util.GetEnv("ENCRYPTION_LOCAL_KEY", ""),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  util.GetEnvInt("ARGON2_MEMORY_KB", 64*1024),
			Argon2TimeCost:    util.GetEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: util.GetEnvInt("ARGON2_PARALLELISM", 2),
			Pepper:            util.GetEnv("PASSWORD_PEPPER", ""),
			PepperVersion:     util.GetEnvInt("PASSWORD_PEPPER_VERSION", 1),
			PreviousPeppers:   util.GetEnvList("PASSWORD_PREVIOUS_PEPPERS", nil),
		},
		Session: SessionConfig{
			TTL: util.GetEnvDuration("SESSION_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			MaxLoginFailures: util.GetEnvInt("LOGIN_MAX_FAILURES", 5),
			LoginWindow:      util.GetEnvDuration("LOGIN_FAILURE_WINDOW", 15*time.Minute),
			IdempotencyTTL:   util.GetEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Bucketing: BucketingConfig{
			ConversationBuckets: util.GetEnvInt("CONVERSATION_BUCKETS", 64),
			EventBuckets:        util.GetEnvInt("EVENT_BUCKETS", 16),
		},
		Messaging: MessagingConfig{
			Store: util.GetEnv("MESSAGE_STORE", MessageStorePostgres),
		},
		Admin: AdminConfig{
			BootstrapEmails: util.GetEnvList("ADMIN_BOOTSTRAP_EMAILS", nil),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "console"),
		},
	}

	Set(cfg)
	return cfg
}

// Validate checks the configuration once at startup
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("memory database driver is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver))
	}

	switch c.Messaging.Store {
	case MessageStorePostgres:
	case MessageStoreScylla:
		if !c.Scylla.Enabled {
			errs = append(errs, errors.New("MESSAGE_STORE=scylla requires SCYLLA_ENABLED=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MESSAGE_STORE %q", c.Messaging.Store))
	}

	if c.IsProduction() && c.Hashing.Pepper == "" {
		errs = append(errs, errors.New("PASSWORD_PEPPER is required in production"))
	}
	if c.Hashing.Argon2TimeCost < 1 || c.Hashing.Argon2MemoryCost < 8*1024 || c.Hashing.Argon2Parallelism < 1 {
		errs = append(errs, errors.New("argon2 parameters are below the supported minimum"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if c.IsProduction() && !c.KMS.Enabled && c.KMS.LocalMasterKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_LOCAL_KEY is required in production without KMS"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.Bucketing.ConversationBuckets < 1 || c.Bucketing.EventBuckets < 1 {
		errs = append(errs, errors.New("bucket counts must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// IsBootstrapReviewer reports whether email is configured as a reviewer account
func (c *Config) IsBootstrapReviewer(email string) bool {
	email = util.NormalizeEmail(email)
	for _, e := range c.Admin.BootstrapEmails {
		if strings.EqualFold(strings.TrimSpace(e), email) {
			return true
		}
	}
	return false
}

// Set installs cfg as the process configuration
func Set(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// Get returns the loaded configuration, loading it on first use
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}
