package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración del servicio (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Lock        LockConfig
	Idempotency IdempotencyConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Valuation   ValuationConfig
	JWT         JWTConfig
	HTTP        HTTPConfig
	Telemetry   TelemetryConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
	Storage  string // postgres | memory
	// EmbeddedRelay corre el relay del outbox dentro del proceso api.
	EmbeddedRelay bool
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	MinConns    int
	// AutoMigrate aplica las migraciones embebidas al arrancar.
	AutoMigrate bool
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// RedisConfig conexión a Redis (locks distribuidos y cache de idempotencia).
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr host:port de Redis.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LockConfig lease por clave de stock.
type LockConfig struct {
	Backend        string // redis | local
	AcquireTimeout time.Duration
	LeaseTTL       time.Duration
	RetryInterval  time.Duration
}

// IdempotencyConfig retención de resultados por idempotency key.
type IdempotencyConfig struct {
	TTL           time.Duration
	PurgeInterval time.Duration
	// CacheEnabled usa Redis como ruta rápida delante de la tabla durable.
	CacheEnabled bool
}

// KafkaConfig bus de mensajes del relay.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Enabled true si hay brokers configurados.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// OutboxConfig relay de la bandeja de salida.
type OutboxConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	BaseBackoff     time.Duration
	ClaimLease      time.Duration
	Retention       time.Duration
	ArchiveInterval time.Duration
}

// ValuationConfig método asignado a claves nuevas.
type ValuationConfig struct {
	DefaultMethod string
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TelemetryConfig exportación de trazas OTLP/HTTP.
type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, LOCK_BACKEND, OUTBOX_BATCH_SIZE, etc.
func Load() (*Config, error) {
	v := viper.New()

	// Opcional: archivo de configuración (.env o config.env)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		App: AppConfig{
			Env:           getString(v, "APP_ENV", "development"),
			Name:          getString(v, "APP_NAME", "stock-ledger"),
			LogLevel:      getString(v, "APP_LOG_LEVEL", "info"),
			Storage:       getString(v, "APP_STORAGE", "postgres"),
			EmbeddedRelay: getBool(v, "APP_EMBEDDED_RELAY", true),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "stock_ledger"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
			MaxConns:    getInt(v, "DB_MAX_CONNS", 20),
			MinConns:    getInt(v, "DB_MIN_CONNS", 2),
			AutoMigrate: getBool(v, "DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getString(v, "REDIS_HOST", "localhost"),
			Port:     getInt(v, "REDIS_PORT", 6379),
			Password: getString(v, "REDIS_PASSWORD", ""),
			DB:       getInt(v, "REDIS_DB", 0),
		},
		Lock: LockConfig{
			Backend:        getString(v, "LOCK_BACKEND", "redis"),
			AcquireTimeout: getDuration(v, "LOCK_ACQUIRE_TIMEOUT", 5*time.Second),
			LeaseTTL:       getDuration(v, "LOCK_LEASE_TTL", 15*time.Second),
			RetryInterval:  getDuration(v, "LOCK_RETRY_INTERVAL", 25*time.Millisecond),
		},
		Idempotency: IdempotencyConfig{
			TTL:           getDuration(v, "IDEMPOTENCY_TTL", 24*time.Hour),
			PurgeInterval: getDuration(v, "IDEMPOTENCY_PURGE_INTERVAL", time.Hour),
			CacheEnabled:  getBool(v, "IDEMPOTENCY_CACHE_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers:  getStringSlice(v, "KAFKA_BROKERS", nil),
			Topic:    getString(v, "KAFKA_TOPIC", "stock.events"),
			ClientID: getString(v, "KAFKA_CLIENT_ID", "stock-ledger"),
		},
		Outbox: OutboxConfig{
			PollInterval:    getDuration(v, "OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:       getInt(v, "OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:     getInt(v, "OUTBOX_MAX_ATTEMPTS", 3),
			BaseBackoff:     getDuration(v, "OUTBOX_BASE_BACKOFF", time.Second),
			ClaimLease:      getDuration(v, "OUTBOX_CLAIM_LEASE", 30*time.Second),
			Retention:       getDuration(v, "OUTBOX_RETENTION", 7*24*time.Hour),
			ArchiveInterval: getDuration(v, "OUTBOX_ARCHIVE_INTERVAL", time.Hour),
		},
		Valuation: ValuationConfig{
			DefaultMethod: getString(v, "VALUATION_DEFAULT_METHOD", "fifo"),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "stock-ledger"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getBool(v, "OTEL_ENABLED", false),
			Endpoint:    getString(v, "OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getString(v, "OTEL_SERVICE_NAME", "stock-ledger"),
			Insecure:    getBool(v, "OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rechaza combinaciones que impedirían arrancar.
func (c *Config) Validate() error {
	switch c.App.Storage {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: APP_STORAGE must be postgres or memory, got %q", c.App.Storage)
	}
	switch c.Lock.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("config: LOCK_BACKEND must be redis or local, got %q", c.Lock.Backend)
	}
	switch c.Valuation.DefaultMethod {
	case "fifo", "avco", "standard":
	default:
		return fmt.Errorf("config: VALUATION_DEFAULT_METHOD must be fifo, avco or standard, got %q", c.Valuation.DefaultMethod)
	}
	if c.Outbox.MaxAttempts < 1 || c.Outbox.BatchSize < 1 {
		return fmt.Errorf("config: OUTBOX_MAX_ATTEMPTS and OUTBOX_BATCH_SIZE must be positive")
	}
	return nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(v.GetString(key))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}

// getDuration acepta "5s", "1h" o segundos enteros.
func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	raw := v.GetString(key)
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// getStringSlice lista separada por comas.
func getStringSlice(v *viper.Viper, key string, def []string) []string {
	if !v.IsSet(key) {
		return def
	}
	var out []string
	for _, p := range strings.Split(v.GetString(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
