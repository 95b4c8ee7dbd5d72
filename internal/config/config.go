package config

import (
	"os"
	"strings"
	"time"

	"github.com/dcurp/api/internal/constants"
	"github.com/dcurp/api/internal/utils"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	ld "github.com/launchdarkly/go-server-sdk/v7"
)

// Config holds all application configuration, including secrets and flags.
type Config struct {
	AppName       string
	Env           string
	AppPort       string
	AppUrl        string
	DBUrl         string
	MigrationsDir string

	TokenSecret             []byte
	TokenExpiry             time.Duration
	RefreshTokenExpiry      time.Duration
	RememberMeTokenExpiry   time.Duration
	RememberMeSessionExpiry time.Duration
	AdminTokenExpiry        time.Duration
	AdminRefreshTokenExpiry time.Duration
	MaxTokenAge             time.Duration

	RateLimitBackend string
	RedisURL         string
	RateLimitDBPath  string

	SendGridAPIKey    string
	SendGridFromEmail string

	// Static flags fetched once from LaunchDarkly (or env fallbacks)
	LDFlag_ShortTokenTTL        bool
	LDFlag_EnforceIPBinding     bool
	LDFlag_EnforceDeviceBinding bool
	LDFlag_CORSHighSecurity     bool
	LDFlag_SendgridSandboxMode  bool
}

const (
	RateLimitBackendRedis  = "redis"
	RateLimitBackendSQLite = "sqlite"

	LDConnectionTimeout  = 5 * time.Second
	DefaultRateLimitDB   = "ratelimit.db"
	DefaultMigrationsDir = "./migrations"
	DefaultLDContextKind = "service"
	minTokenSecretLength = 32
)

// Flags is the set of static feature flags read at startup.
type Flags struct {
	ShortTokenTTL        bool
	EnforceIPBinding     bool
	EnforceDeviceBinding bool
	CORSHighSecurity     bool
	SendgridSandboxMode  bool
}

// DefaultFlags are used when LaunchDarkly is not configured.
func DefaultFlags() Flags {
	return Flags{
		EnforceIPBinding:     true,
		EnforceDeviceBinding: true,
		CORSHighSecurity:     true,
	}
}

// LoadConfig reads the environment, fetches static flags and returns a
// *Config. Missing required settings abort the process.
func LoadConfig() *Config {
	appName := envOr("APP_NAME", constants.AppName)
	utils.Logger.Info("Loading config for app: ", appName)

	//----------------------------------------------------------------------
	// Required environment variables.
	//----------------------------------------------------------------------
	env := mustEnv("ENV")
	appPort := mustEnv("APP_PORT")
	appUrl := mustEnv("APP_URL")
	dbUrl := mustEnv("DB_URL")

	tokenSecret := os.Getenv("TOKEN_SECRET")
	if len(tokenSecret) < minTokenSecretLength {
		utils.Logger.Fatalf("TOKEN_SECRET env var is missing or shorter than %d bytes", minTokenSecretLength)
	}

	backend := strings.ToLower(envOr("RATE_LIMIT_BACKEND", RateLimitBackendSQLite))
	redisURL := os.Getenv("REDIS_URL")
	switch backend {
	case RateLimitBackendRedis:
		if redisURL == "" {
			utils.Logger.Fatal("REDIS_URL env var is required when RATE_LIMIT_BACKEND=redis")
		}
	case RateLimitBackendSQLite:
	default:
		utils.Logger.Fatalf("unsupported RATE_LIMIT_BACKEND: %s (supported: redis, sqlite)", backend)
	}

	utils.Logger.Debugf("App can be accessed at: %s", appUrl)

	//----------------------------------------------------------------------
	// Static flags.
	//----------------------------------------------------------------------
	flags := DefaultFlags()
	if sdkKey := os.Getenv("LD_SDK_KEY"); sdkKey != "" {
		flags = fetchLaunchDarklyFlags(sdkKey, flags)
	} else {
		utils.Logger.Warn("LD_SDK_KEY not set, using default flags")
	}

	cfg := &Config{
		AppName:       appName,
		Env:           env,
		AppPort:       appPort,
		AppUrl:        appUrl,
		DBUrl:         dbUrl,
		MigrationsDir: envOr("MIGRATIONS_DIR", DefaultMigrationsDir),

		TokenSecret: []byte(tokenSecret),

		RateLimitBackend: backend,
		RedisURL:         redisURL,
		RateLimitDBPath:  envOr("RATE_LIMIT_DB_PATH", DefaultRateLimitDB),

		SendGridAPIKey:    os.Getenv("SENDGRID_API_KEY"),
		SendGridFromEmail: os.Getenv("SENDGRID_FROM_EMAIL"),
	}
	cfg.ApplyFlags(flags)

	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail == "" {
		utils.Logger.Fatal("SENDGRID_FROM_EMAIL env var is required when SENDGRID_API_KEY is set")
	}

	return cfg
}

// LoadMigrationConfig reads only what cmd/migrate needs.
func LoadMigrationConfig() *Config {
	return &Config{
		AppName:       envOr("APP_NAME", constants.AppName),
		DBUrl:         mustEnv("DB_URL"),
		MigrationsDir: envOr("MIGRATIONS_DIR", DefaultMigrationsDir),
	}
}

// ApplyFlags copies flags into cfg and derives the token lifetimes.
func (c *Config) ApplyFlags(f Flags) {
	c.LDFlag_ShortTokenTTL = f.ShortTokenTTL
	c.LDFlag_EnforceIPBinding = f.EnforceIPBinding
	c.LDFlag_EnforceDeviceBinding = f.EnforceDeviceBinding
	c.LDFlag_CORSHighSecurity = f.CORSHighSecurity
	c.LDFlag_SendgridSandboxMode = f.SendgridSandboxMode

	c.TokenExpiry = constants.AccessTokenTTL
	c.RefreshTokenExpiry = constants.RefreshTokenTTL
	c.RememberMeTokenExpiry = constants.RememberMeTokenTTL
	c.RememberMeSessionExpiry = constants.RememberMeSessionTTL
	c.AdminTokenExpiry = constants.AdminAccessTokenTTL
	c.AdminRefreshTokenExpiry = constants.AdminRefreshTokenTTL
	c.MaxTokenAge = constants.MaxTokenAge

	if f.ShortTokenTTL {
		c.TokenExpiry = constants.ShortAccessTokenTTL
		c.RefreshTokenExpiry = constants.ShortRefreshTokenTTL
		c.AdminTokenExpiry = constants.ShortAccessTokenTTL
		c.AdminRefreshTokenExpiry = constants.ShortRefreshTokenTTL
	}
}

func fetchLaunchDarklyFlags(sdkKey string, defaults Flags) Flags {
	ldClient, err := ld.MakeClient(sdkKey, LDConnectionTimeout)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to create LaunchDarkly client")
	}
	defer ldClient.Close()
	if !ldClient.Initialized() {
		utils.Logger.Fatal("LaunchDarkly client failed to initialize")
	}

	ctxKey := envOr("LD_CONTEXT_KEY", constants.AppName)
	ctxKind := envOr("LD_CONTEXT_KIND", DefaultLDContextKind)
	context := ldcontext.NewWithKind(ldcontext.Kind(ctxKind), ctxKey)

	boolFlag := func(name string, def bool) bool {
		v, err := ldClient.BoolVariation(name, context, def)
		if err != nil {
			utils.Logger.WithError(err).Fatalf("Error retrieving %s flag", name)
		}
		utils.Logger.Debugf("%s flag: %t", name, v)
		return v
	}

	return Flags{
		ShortTokenTTL:        boolFlag("short_token_ttl", defaults.ShortTokenTTL),
		EnforceIPBinding:     boolFlag("enforce_ip_binding", defaults.EnforceIPBinding),
		EnforceDeviceBinding: boolFlag("enforce_device_binding", defaults.EnforceDeviceBinding),
		CORSHighSecurity:     boolFlag("cors_high_security", defaults.CORSHighSecurity),
		SendgridSandboxMode:  boolFlag("sendgrid_sandbox_mode", defaults.SendgridSandboxMode),
	}
}

func mustEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		utils.Logger.Fatalf("%s env var is missing", name)
	}
	return v
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
