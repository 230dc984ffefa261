// Package config loads the service configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Config is the full service configuration. Field tags name the koanf keys.
type Config struct {
	Env        string           `koanf:"env"`
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Policy     PolicyConfig     `koanf:"policy"`
	Token      TokenConfig      `koanf:"token"`
	Vision     VisionConfig     `koanf:"vision"`
	Ledger     LedgerConfig     `koanf:"ledger"`
	Claim      ClaimConfig      `koanf:"claim"`
	Store      StoreConfig      `koanf:"store"`
	Redis      RedisConfig      `koanf:"redis"`
	Kafka      KafkaConfig      `koanf:"kafka"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Admin      AdminConfig      `koanf:"admin"`
	Reconciler ReconcilerConfig `koanf:"reconciler"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins       string        `koanf:"cors_origins"`
	MaxImageBytes     int64         `koanf:"max_image_bytes"`
	// TrustedProxies lists the CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For is believed. Empty keys every request on its socket peer.
	TrustedProxies string `koanf:"trusted_proxies"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PolicyConfig holds the scoring constants.
type PolicyConfig struct {
	Threshold            int     `koanf:"threshold"`
	VenueMatchBonus      int     `koanf:"venue_match_bonus"`
	VenueMismatchPenalty int     `koanf:"venue_mismatch_penalty"`
	GeoRadiusKM          float64 `koanf:"geo_radius_km"`
	GeoFailMode          string  `koanf:"geo_fail_mode"`
	GeoFailPenalty       int     `koanf:"geo_fail_penalty"`
}

type TokenConfig struct {
	Secret   string        `koanf:"secret"`
	TTL      time.Duration `koanf:"ttl"`
	Issuer   string        `koanf:"issuer"`
	Audience string        `koanf:"audience"`
}

type VisionConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	Model            string        `koanf:"model"`
	Timeout          time.Duration `koanf:"timeout"`
	RetryWait        time.Duration `koanf:"retry_wait"`
	BreakerThreshold int           `koanf:"breaker_threshold"`
}

type LedgerConfig struct {
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	IssuerAddress  string        `koanf:"issuer_address"`
	ExplorerURL    string        `koanf:"explorer_url"`
	Timeout        time.Duration `koanf:"timeout"`
	ConfirmTimeout time.Duration `koanf:"confirm_timeout"`
	ConfirmPoll    time.Duration `koanf:"confirm_poll"`
	MaxRetries     int           `koanf:"max_retries"`
	OptInCacheTTL  time.Duration `koanf:"opt_in_cache_ttl"`
	RecordProof    bool          `koanf:"record_proof"`
}

type ClaimConfig struct {
	RunTimeout    time.Duration `koanf:"run_timeout"`
	FreezeRetries int           `koanf:"freeze_retries"`
	FreezeBackoff time.Duration `koanf:"freeze_backoff"`
	LockBackend   string        `koanf:"lock_backend"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
}

type StoreConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	Migrate      bool   `koanf:"migrate"`
}

// RedisConfig is optional; an empty URL disables Redis.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// KafkaConfig is optional; no brokers disables the outbox relay.
type KafkaConfig struct {
	Brokers       string        `koanf:"brokers"`
	Topic         string        `koanf:"topic"`
	Partitions    int32         `koanf:"partitions"`
	RelayInterval time.Duration `koanf:"relay_interval"`
	RelayBatch    int           `koanf:"relay_batch"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
	Backend  string        `koanf:"backend"`
	Disabled bool          `koanf:"disabled"`
}

type AdminConfig struct {
	PasswordHash  string        `koanf:"password_hash"`
	Wallets       string        `koanf:"wallets"`
	SessionSecret string        `koanf:"session_secret"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
}

type ReconcilerConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
	// MinAge skips issuances touched more recently, leaving live runs alone.
	MinAge time.Duration `koanf:"min_age"`
}

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// LockSlack covers the work done under the pair lock outside the run timeout:
// token and opt-in checks, the reservation, and the journal writes that
// outlive a cancelled run.
const LockSlack = time.Minute

// New returns the defaults.
func New() *Config {
	return &Config{
		Env: EnvDev,
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			CORSOrigins:       "http://localhost:5173",
			MaxImageBytes:     10 << 20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Policy: PolicyConfig{
			Threshold:            80,
			VenueMatchBonus:      10,
			VenueMismatchPenalty: 25,
			GeoRadiusKM:          2,
			GeoFailMode:          "penalty",
			GeoFailPenalty:       30,
		},
		Token: TokenConfig{
			Secret:   "dev-verify-secret-change-in-production",
			TTL:      10 * time.Minute,
			Issuer:   "eventlens",
			Audience: "eventlens-claim",
		},
		Vision: VisionConfig{
			BaseURL:          "https://generativelanguage.googleapis.com/v1beta",
			Model:            "gemini-2.0-flash",
			Timeout:          20 * time.Second,
			RetryWait:        500 * time.Millisecond,
			BreakerThreshold: 5,
		},
		Ledger: LedgerConfig{
			BaseURL:        "http://localhost:4001",
			ExplorerURL:    "https://testnet.explorer.perawallet.app/tx/",
			Timeout:        10 * time.Second,
			ConfirmTimeout: 30 * time.Second,
			ConfirmPoll:    time.Second,
			MaxRetries:     3,
			OptInCacheTTL:  5 * time.Minute,
		},
		Claim: ClaimConfig{
			RunTimeout:    2 * time.Minute,
			FreezeRetries: 3,
			FreezeBackoff: time.Second,
			LockBackend:   "memory",
			LockTTL:       5 * time.Minute,
		},
		Store: StoreConfig{Driver: "memory", MaxOpenConns: 10, Migrate: true},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:         "eventlens.audit",
			Partitions:    3,
			RelayInterval: 2 * time.Second,
			RelayBatch:    100,
		},
		RateLimit: RateLimitConfig{Requests: 30, Window: time.Minute, Backend: "memory"},
		Admin: AdminConfig{
			SessionSecret: "dev-admin-secret-change-in-production",
			SessionTTL:    24 * time.Hour,
		},
		Reconciler: ReconcilerConfig{Enabled: true, Interval: 30 * time.Second, BatchSize: 50, MinAge: 3 * time.Minute},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("server.max_image_bytes must be positive"))
	}
	if c.Policy.Threshold < 0 || c.Policy.Threshold > 100 {
		errs = append(errs, fmt.Errorf("policy.threshold %d out of range [0,100]", c.Policy.Threshold))
	}
	if c.Policy.GeoRadiusKM <= 0 {
		errs = append(errs, errors.New("policy.geo_radius_km must be positive"))
	}
	switch c.Policy.GeoFailMode {
	case "penalty", "reject":
	default:
		errs = append(errs, fmt.Errorf("policy.geo_fail_mode %q must be penalty or reject", c.Policy.GeoFailMode))
	}
	if _, err := c.TrustedProxies(); err != nil {
		errs = append(errs, err)
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token.ttl must be positive"))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory or postgres", c.Store.Driver))
	}
	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required for the redis rate limit backend"))
	}
	if c.Claim.LockBackend == "redis" {
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis lock backend"))
		}
		if floor := c.Claim.RunTimeout + LockSlack; c.Claim.LockTTL < floor {
			errs = append(errs, fmt.Errorf("claim.lock_ttl %s must be at least claim.run_timeout + %s (%s)",
				c.Claim.LockTTL, LockSlack, floor))
		}
	}
	if c.Env != EnvDev {
		if len(c.Token.Secret) < 32 || strings.HasPrefix(c.Token.Secret, "dev-") {
			errs = append(errs, errors.New("token.secret must be set to at least 32 bytes"))
		}
		if len(c.Admin.SessionSecret) < 32 || strings.HasPrefix(c.Admin.SessionSecret, "dev-") {
			errs = append(errs, errors.New("admin.session_secret must be set to at least 32 bytes"))
		}
		if c.Vision.APIKey == "" {
			errs = append(errs, errors.New("vision.api_key is required"))
		}
	}
	return errors.Join(errs...)
}

// KafkaBrokers splits the comma separated broker list.
func (c *Config) KafkaBrokers() []string {
	return splitList(c.Kafka.Brokers)
}

func (c *Config) CORSOrigins() []string {
	return splitList(c.Server.CORSOrigins)
}

// TrustedProxies parses server.trusted_proxies. Bare addresses become
// single-host prefixes.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range splitList(c.Server.TrustedProxies) {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (c *Config) AdminWallets() []string {
	return splitList(c.Admin.Wallets)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
