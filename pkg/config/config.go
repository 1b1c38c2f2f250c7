package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Upstream     UpstreamConfig
	Sync         SyncConfig
	Push         PushConfig
	Broadcast    BroadcastConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Upstream.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Sync.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"RAMASSAGE_APP_ENV" required:"true"`
	Port         string   `envconfig:"RAMASSAGE_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"RAMASSAGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"RAMASSAGE_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"RAMASSAGE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:8081"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RAMASSAGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RAMASSAGE_DB_DSN"`
	Driver string `envconfig:"RAMASSAGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RAMASSAGE_DB_HOST"`
	LegacyPort     int    `envconfig:"RAMASSAGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RAMASSAGE_DB_USER"`
	LegacyPassword string `envconfig:"RAMASSAGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"RAMASSAGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"RAMASSAGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RAMASSAGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RAMASSAGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RAMASSAGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RAMASSAGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"RAMASSAGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RAMASSAGE_REDIS_ADDR"`
	Password     string        `envconfig:"RAMASSAGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"RAMASSAGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RAMASSAGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RAMASSAGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RAMASSAGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RAMASSAGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RAMASSAGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for bearer tokens issued by the
// account service.
type JWTConfig struct {
	Secret string `envconfig:"RAMASSAGE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"RAMASSAGE_JWT_ISSUER" default:"ramassage"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RAMASSAGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RAMASSAGE_AUTO_MIGRATE" default:"false"`
}

// UpstreamConfig points at the partner order platform and holds the service
// credentials used for every token exchange.
type UpstreamConfig struct {
	BaseURL         string        `envconfig:"RAMASSAGE_UPSTREAM_BASE_URL" required:"true"`
	APIKey          string        `envconfig:"RAMASSAGE_UPSTREAM_API_KEY" required:"true"`
	ServiceEmail    string        `envconfig:"RAMASSAGE_UPSTREAM_SERVICE_EMAIL" required:"true"`
	ServicePassword string        `envconfig:"RAMASSAGE_UPSTREAM_SERVICE_PASSWORD" required:"true"`
	Timeout         time.Duration `envconfig:"RAMASSAGE_UPSTREAM_TIMEOUT" default:"15s"`
	IPFamily        string        `envconfig:"RAMASSAGE_UPSTREAM_IP_FAMILY" default:"auto"`
	// CredentialLockTTL bounds how long one process may hold a principal's
	// exchange lease.
	CredentialLockTTL time.Duration `envconfig:"RAMASSAGE_UPSTREAM_CREDENTIAL_LOCK_TTL" default:"45s"`
}

func (u *UpstreamConfig) validate() error {
	u.BaseURL = strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute url", EnvUpstreamBaseURL)
	}
	u.IPFamily = strings.ToLower(strings.TrimSpace(u.IPFamily))
	switch u.IPFamily {
	case IPFamilyAuto, IPFamilyV4, IPFamilyV6:
	default:
		return fmt.Errorf("%s must be one of auto, ipv4, ipv6 (got %q)", EnvUpstreamIPFamily, u.IPFamily)
	}
	return nil
}

type SyncConfig struct {
	Interval              time.Duration `envconfig:"RAMASSAGE_SYNC_INTERVAL" default:"3m"`
	Timezone              string        `envconfig:"RAMASSAGE_SYNC_TIMEZONE" default:"Africa/Algiers"`
	FeedScope             string        `envconfig:"RAMASSAGE_SYNC_FEED_SCOPE" default:"global"`
	DoneRetentionDays     int           `envconfig:"RAMASSAGE_SYNC_DONE_RETENTION_DAYS" default:"1"`
	CanceledRetentionDays int           `envconfig:"RAMASSAGE_SYNC_CANCELED_RETENTION_DAYS" default:"2"`
	TokenConcurrency      int           `envconfig:"RAMASSAGE_SYNC_TOKEN_CONCURRENCY" default:"4"`
	NotifyConcurrency     int           `envconfig:"RAMASSAGE_SYNC_NOTIFY_CONCURRENCY" default:"8"`
	LockTTL               time.Duration `envconfig:"RAMASSAGE_SYNC_LOCK_TTL" default:"10m"`

	location *time.Location
}

// Location returns the reference timezone used for day bucketing.
func (s SyncConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	if loc, err := time.LoadLocation(s.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

func (s *SyncConfig) validate() error {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("%s: %w", EnvSyncTimezone, err)
	}
	s.location = loc
	if s.Interval <= 0 {
		return fmt.Errorf("%s must be positive", EnvSyncInterval)
	}
	s.FeedScope = strings.ToLower(strings.TrimSpace(s.FeedScope))
	switch s.FeedScope {
	case FeedScopeGlobal, FeedScopePerCollector:
	default:
		return fmt.Errorf("%s must be global or per_collector (got %q)", EnvSyncFeedScope, s.FeedScope)
	}
	if s.DoneRetentionDays < 1 || s.CanceledRetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}
	return nil
}

type PushConfig struct {
	URL         string        `envconfig:"RAMASSAGE_PUSH_URL" default:"https://exp.host/--/api/v2/push/send"`
	AccessToken string        `envconfig:"RAMASSAGE_PUSH_ACCESS_TOKEN"`
	Timeout     time.Duration `envconfig:"RAMASSAGE_PUSH_TIMEOUT" default:"10s"`
	MaxAttempts uint          `envconfig:"RAMASSAGE_PUSH_MAX_ATTEMPTS" default:"3"`
}

type BroadcastConfig struct {
	Channel string `envconfig:"RAMASSAGE_BROADCAST_CHANNEL" default:"pickups:changed"`
}

type MetricsConfig struct {
	Addr string `envconfig:"RAMASSAGE_METRICS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = "sqlite"
	}
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:ramassage.db?cache=shared"
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
