package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	FeatureFlags FeatureFlagsConfig
	Webpay       WebpayConfig
	Catalog      CatalogConfig
	Alerts       AlertsConfig
	Rates        RatesConfig
	Reconcile    ReconcileConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FERRAMAS_APP_ENV" required:"true"`
	Port         string `envconfig:"FERRAMAS_APP_PORT" default:"3000"`
	LogLevel     string `envconfig:"FERRAMAS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FERRAMAS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FERRAMAS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FERRAMAS_DB_DSN"`
	Driver string `envconfig:"FERRAMAS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DB_HOST"`
	LegacyPort     int    `envconfig:"DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DB_USER"`
	LegacyPassword string `envconfig:"DB_PASSWORD"`
	LegacyName     string `envconfig:"DB_NAME"`
	LegacySSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FERRAMAS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FERRAMAS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FERRAMAS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FERRAMAS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// LockTimeout bounds how long a settlement transaction waits on a row lock.
	LockTimeout time.Duration `envconfig:"FERRAMAS_DB_LOCK_TIMEOUT" default:"5s"`
}

// RedisConfig is optional; an empty URL and address disable every redis-backed feature.
type RedisConfig struct {
	URL          string        `envconfig:"FERRAMAS_REDIS_URL"`
	Address      string        `envconfig:"FERRAMAS_REDIS_ADDR"`
	Password     string        `envconfig:"FERRAMAS_REDIS_PASSWORD"`
	DB           int           `envconfig:"FERRAMAS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FERRAMAS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FERRAMAS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FERRAMAS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FERRAMAS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FERRAMAS_REDIS_WRITE_TIMEOUT" default:"5s"`
	GuardTTL     time.Duration `envconfig:"FERRAMAS_REDIS_GUARD_TTL" default:"2m"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// JWTConfig guards the admin surface. An empty secret leaves the admin routes unmounted.
type JWTConfig struct {
	Secret            string `envconfig:"FERRAMAS_JWT_SECRET"`
	Issuer            string `envconfig:"FERRAMAS_JWT_ISSUER" default:"ferramas"`
	ExpirationMinutes int    `envconfig:"FERRAMAS_JWT_EXPIRATION_MINUTES" default:"60"`
}

func (j JWTConfig) Enabled() bool {
	return strings.TrimSpace(j.Secret) != ""
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"FERRAMAS_CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FERRAMAS_AUTO_MIGRATE" default:"false"`
	QuoteUSD    bool `envconfig:"FERRAMAS_FEATURE_QUOTE_USD" default:"true"`
}

type WebpayConfig struct {
	CommerceCode string        `envconfig:"FERRAMAS_WEBPAY_COMMERCE_CODE" default:"597055555532"`
	APIKey       string        `envconfig:"FERRAMAS_WEBPAY_API_KEY" default:"579B532A7440BB0C9079DED94D31EA1615BACEB56610332264630D42D0A36B1C"`
	BaseURL      string        `envconfig:"FERRAMAS_WEBPAY_BASE_URL" default:"https://webpay3gint.transbank.cl"`
	ReturnURL    string        `envconfig:"FERRAMAS_WEBPAY_RETURN_URL" default:"http://localhost:5173/pago-finalizado"`
	Timeout      time.Duration `envconfig:"FERRAMAS_WEBPAY_TIMEOUT" default:"15s"`
}

// CatalogConfig points at the product catalog gRPC service. Empty address skips the readiness probe.
type CatalogConfig struct {
	Address      string        `envconfig:"FERRAMAS_CATALOG_GRPC_ADDR"`
	ProbeTimeout time.Duration `envconfig:"FERRAMAS_CATALOG_PROBE_TIMEOUT" default:"2s"`
}

type AlertsConfig struct {
	HeartbeatInterval time.Duration `envconfig:"FERRAMAS_ALERTS_HEARTBEAT" default:"20s"`
	SubscriberBuffer  int           `envconfig:"FERRAMAS_ALERTS_SUBSCRIBER_BUFFER" default:"16"`
}

type RatesConfig struct {
	BaseURL  string        `envconfig:"FERRAMAS_RATES_BASE_URL" default:"https://api.exchangerate-api.com/v4"`
	Timeout  time.Duration `envconfig:"FERRAMAS_RATES_TIMEOUT" default:"5s"`
	CacheTTL time.Duration `envconfig:"FERRAMAS_RATES_CACHE_TTL" default:"10m"`
}

type ReconcileConfig struct {
	Interval     time.Duration `envconfig:"FERRAMAS_RECONCILE_INTERVAL" default:"1m"`
	PendingAfter time.Duration `envconfig:"FERRAMAS_RECONCILE_PENDING_AFTER" default:"10m"`
	BatchSize    int           `envconfig:"FERRAMAS_RECONCILE_BATCH_SIZE" default:"50"`
}

// RateLimitConfig throttles the public payment endpoints. A zero window disables it.
type RateLimitConfig struct {
	Window     time.Duration `envconfig:"FERRAMAS_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit    int           `envconfig:"FERRAMAS_RATE_LIMIT_IP" default:"60"`
	TokenLimit int           `envconfig:"FERRAMAS_RATE_LIMIT_TOKEN" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
