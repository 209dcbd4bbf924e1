package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL                 string             `mapstructure:"url"`
		Events              ConsumerNatsConfig `mapstructure:"events"`
		DLQStream           string             `mapstructure:"dlqStream"`           // Name of the Dead Letter Queue stream
		DLQSubject          string             `mapstructure:"dlqSubject"`          // Base subject for DLQ messages (e.g., v1.dlq)
		DLQWorkers          int                `mapstructure:"dlqWorkers"`          // Number of concurrent DLQ processing workers
		DLQBaseDelayMinutes int                `mapstructure:"dlqBaseDelayMinutes"` // Base delay in minutes for exponential backoff
		DLQMaxDelayMinutes  int                `mapstructure:"dlqMaxDelayMinutes"`  // Max delay in minutes for exponential backoff
		DLQMaxAgeDays       int                `mapstructure:"dlqMaxAgeDays"`       // Retention period for DLQ messages (days)
		DLQMaxDeliver       int                `mapstructure:"dlqMaxDeliver"`       // Max redelivery attempts for DLQ consumer
		DLQAckWait          time.Duration      `mapstructure:"dlqAckWait"`          // Ack wait timeout for DLQ consumer
		DLQMaxAckPending    int                `mapstructure:"dlqMaxAckPending"`    // Max pending ACKs for DLQ consumer
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Channel     ChannelConfig     `mapstructure:"channel"`
	Partner     PartnerConfig     `mapstructure:"partner"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectStore"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Automation AutomationWorkerPoolConfig `mapstructure:"automation"`
	} `mapstructure:"workerPools"`
}

// RedisConfig holds connection settings for the query cache
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // query cache entry lifetime
}

// ChannelConfig holds the chat-channel bot credential
type ChannelConfig struct {
	BotToken string `mapstructure:"botToken"`
}

// PartnerConfig holds partner platform endpoints and credentials
type PartnerConfig struct {
	BaseURL        string        `mapstructure:"baseURL"`
	WebhookURL     string        `mapstructure:"webhookURL"`
	APIKey         string        `mapstructure:"apiKey"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
}

// ObjectStoreConfig holds attachment bucket settings
type ObjectStoreConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"publicURL"` // base URL attachments are served from
}

// AutomationWorkerPoolConfig holds configuration for the automation action worker pool
type AutomationWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before DLQ
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("redis.ttl", 30*time.Second)
	v.SetDefault("partner.requestTimeout", 10*time.Second)

	// Events consumer defaults
	v.SetDefault("nats.events.stream", "crm_events_stream")
	v.SetDefault("nats.events.consumer", "crm_events_consumer")
	v.SetDefault("nats.events.group", "crm_events_group")
	v.SetDefault("nats.events.subjectList", []string{"v1.messages.*", "v1.status.*", "v1.outbound.*"})
	v.SetDefault("nats.events.maxAge", 30)
	v.SetDefault("nats.events.maxDeliver", 5)
	v.SetDefault("nats.events.nakBaseDelay", 2*time.Second)
	v.SetDefault("nats.events.nakMaxDelay", 30*time.Second)

	// DLQ Worker Defaults
	v.SetDefault("nats.dlqStream", "crm_dlq_stream")
	v.SetDefault("nats.dlqSubject", "v1.dlq")
	v.SetDefault("nats.dlqWorkers", 8)
	v.SetDefault("nats.dlqBaseDelayMinutes", 1)
	v.SetDefault("nats.dlqMaxDelayMinutes", 15)
	v.SetDefault("nats.dlqMaxAgeDays", 7)
	v.SetDefault("nats.dlqMaxDeliver", 5)
	v.SetDefault("nats.dlqAckWait", 30*time.Second)
	v.SetDefault("nats.dlqMaxAckPending", 1000)

	// WorkerPools Defaults
	v.SetDefault("workerPools.automation.poolSize", 10)
	v.SetDefault("workerPools.automation.queueSize", 10000)
	v.SetDefault("workerPools.automation.maxBlock", time.Second)
	v.SetDefault("workerPools.automation.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.crm-conversation-service")
	v.AddConfigPath("/etc/crm-conversation-service")

	// Try to read from config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config fields
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		v.Set("redis.addr", addr)
	}
	if token := os.Getenv("CHANNEL_BOT_TOKEN"); token != "" {
		v.Set("channel.botToken", token)
	}
	if key := os.Getenv("PARTNER_API_KEY"); key != "" {
		v.Set("partner.apiKey", key)
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
