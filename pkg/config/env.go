package config

// EnvPrefix is empty because every field carries its fully-qualified variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv      = "FERRAMAS_APP_ENV"
	EnvPort        = "FERRAMAS_APP_PORT"
	EnvLogLevel    = "FERRAMAS_LOG_LEVEL"
	EnvDBDSN       = "FERRAMAS_DB_DSN"
	EnvDBHost      = "DB_HOST"
	EnvDBPort      = "DB_PORT"
	EnvDBUser      = "DB_USER"
	EnvDBPassword  = "DB_PASSWORD"
	EnvDBName      = "DB_NAME"
	EnvRedisURL    = "FERRAMAS_REDIS_URL"
	EnvJWTSecret   = "FERRAMAS_JWT_SECRET"
	EnvWebpayCode  = "FERRAMAS_WEBPAY_COMMERCE_CODE"
	EnvWebpayKey   = "FERRAMAS_WEBPAY_API_KEY"
	EnvCatalogAddr = "FERRAMAS_CATALOG_GRPC_ADDR"
	EnvCORSOrigins = "FERRAMAS_CORS_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
