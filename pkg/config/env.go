package config

const EnvPrefix = "RAMASSAGE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "RAMASSAGE_APP_ENV"
	EnvPort     = "RAMASSAGE_APP_PORT"
	EnvLogLevel = "RAMASSAGE_LOG_LEVEL"

	EnvDBDSN    = "RAMASSAGE_DB_DSN"
	EnvDBDriver = "RAMASSAGE_DB_DRIVER"
	EnvDBHost   = "RAMASSAGE_DB_HOST"
	EnvDBUser   = "RAMASSAGE_DB_USER"
	EnvDBName   = "RAMASSAGE_DB_NAME"

	EnvRedisURL  = "RAMASSAGE_REDIS_URL"
	EnvJWTSecret = "RAMASSAGE_JWT_SECRET"

	EnvUpstreamBaseURL         = "RAMASSAGE_UPSTREAM_BASE_URL"
	EnvUpstreamAPIKey          = "RAMASSAGE_UPSTREAM_API_KEY"
	EnvUpstreamServiceEmail    = "RAMASSAGE_UPSTREAM_SERVICE_EMAIL"
	EnvUpstreamServicePassword = "RAMASSAGE_UPSTREAM_SERVICE_PASSWORD"
	EnvUpstreamIPFamily        = "RAMASSAGE_UPSTREAM_IP_FAMILY"

	EnvSyncInterval  = "RAMASSAGE_SYNC_INTERVAL"
	EnvSyncTimezone  = "RAMASSAGE_SYNC_TIMEZONE"
	EnvSyncFeedScope = "RAMASSAGE_SYNC_FEED_SCOPE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

const (
	IPFamilyAuto = "auto"
	IPFamilyV4   = "ipv4"
	IPFamilyV6   = "ipv6"
)

const (
	FeedScopeGlobal       = "global"
	FeedScopePerCollector = "per_collector"
)
