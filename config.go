package threemaGW

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/threemaGW/gateway"
)

// Config is the full engine configuration. Build a value with
// DefaultConfig and override what differs.
type Config struct {
	Gateway   GatewayConfig
	Callback  CallbackConfig
	Retention RetentionConfig
	TFA       TFAConfig
	Store     StoreConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
GATEWAY CONFIG
====================================
*/

// GatewayConfig holds the gateway identity and its credentials.
type GatewayConfig struct {
	ID     string // "*XXXXXXX"
	Secret string
	// PrivateKey is the raw 32 byte E2E private key. Without it the
	// callback endpoint rejects every request.
	PrivateKey []byte
	BaseURL    string
	Timeout    time.Duration
}

/*
====================================
CALLBACK CONFIG
====================================
*/

// CallbackConfig controls the webhook endpoint.
type CallbackConfig struct {
	AccessToken string
	Debug       bool
	// AllowGET accepts query string callbacks. Only honoured with Debug.
	AllowGET bool

	MaxMessageAge time.Duration
	MaxFutureSkew time.Duration

	DownloadFiles bool
	DownloadDir   string

	AuthLimit CallbackAuthLimitConfig
}

// CallbackAuthLimitConfig throttles remote addresses that keep failing the
// token or MAC check. It is off by default. The limiter keys on the client
// address, so enable it only when that address is the gateway's own: the
// handler must be reachable directly or sit behind middleware.ClientInfo
// with the proxies listed as trusted. Otherwise every client sharing the
// proxy address can lock the gateway out for a whole Window.
type CallbackAuthLimitConfig struct {
	Enabled     bool
	MaxFailures int
	Window      time.Duration
}

/*
====================================
RETENTION CONFIG
====================================
*/

// RetentionConfig controls what RunCleanup removes. Message ids are kept
// forever so replays stay detectable.
type RetentionConfig struct {
	// ContentTTL scrubs stored content older than this. Zero keeps content.
	ContentTTL time.Duration
	// ReplayWindow keeps the received date of placeholders for this long.
	ReplayWindow time.Duration
	// Hardened clears every placeholder date on each sweep.
	Hardened        bool
	CleanupInterval time.Duration
}

/*
====================================
TFA CONFIG
====================================
*/

// TFAConfig configures the three message based TFA modes.
type TFAConfig struct {
	Conventional TFAProviderConfig
	Fast         FastTFAConfig
	Reversed     TFAProviderConfig
	// PendingGrace keeps expired pending confirmations around so late
	// messages are reported as expired rather than ignored.
	PendingGrace time.Duration
}

// TFAProviderConfig is shared by every mode.
type TFAProviderConfig struct {
	Enabled        bool
	ValidationTime time.Duration
	PendingTTL     time.Duration
	MaxAttempts    int
	Cooldown       time.Duration
	Message        string
}

// FastTFAConfig adds decline handling to the fast mode.
type FastTFAConfig struct {
	TFAProviderConfig
	Decline DeclineConfig
}

// DeclineConfig selects what a declined confirmation does. Each action is
// additionally gated by the user's permissions.
type DeclineConfig struct {
	BlockTFA      bool
	BlockDuration time.Duration
	BanUser       bool
	BanIP         bool
	NotifyUser    bool
	NotifyMessage string
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls Redis key layout and session scoped data.
type StoreConfig struct {
	RedisPrefix     string
	SessionTTL      time.Duration
	SlidingSessions bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Gateway credentials and
// the access token still have to be filled in.
func DefaultConfig() Config {
	provider := TFAProviderConfig{
		Enabled:        true,
		ValidationTime: 180 * time.Second,
		MaxAttempts:    5,
		Cooldown:       time.Minute,
	}
	return Config{
		Gateway: GatewayConfig{
			BaseURL: gateway.DefaultBaseURL,
			Timeout: 10 * time.Second,
		},
		Callback: CallbackConfig{
			MaxMessageAge: 14 * 24 * time.Hour,
			MaxFutureSkew: 5 * time.Second,
			AuthLimit: CallbackAuthLimitConfig{
				Enabled:     false,
				MaxFailures: 20,
				Window:      10 * time.Minute,
			},
		},
		Retention: RetentionConfig{
			ReplayWindow:    14 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		TFA: TFAConfig{
			Conventional: provider,
			Fast: FastTFAConfig{
				TFAProviderConfig: provider,
				Decline: DeclineConfig{
					BlockTFA:      true,
					BlockDuration: 24 * time.Hour,
				},
			},
			Reversed:     provider,
			PendingGrace: 10 * time.Minute,
		},
		Store: StoreConfig{
			RedisPrefix: "tgw",
			SessionTTL:  30 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Gateway.PrivateKey != nil {
		out.Gateway.PrivateKey = append([]byte(nil), cfg.Gateway.PrivateKey...)
	}
	return out
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// Gateway
	if !strings.HasPrefix(c.Gateway.ID, "*") || !gateway.ValidThreemaID(c.Gateway.ID) {
		return errors.New("Gateway ID must be an 8 character id starting with '*'")
	}
	if c.Gateway.Secret == "" {
		return errors.New("Gateway Secret must be set")
	}
	if len(c.Gateway.PrivateKey) != 0 && len(c.Gateway.PrivateKey) != gateway.KeySize {
		return errors.New("Gateway PrivateKey must be 32 bytes")
	}
	if c.Gateway.Timeout < 0 {
		return errors.New("Gateway Timeout must be >= 0")
	}

	// Callback
	if c.Callback.AccessToken == "" {
		return errors.New("Callback AccessToken must be set")
	}
	if c.Callback.AllowGET && !c.Callback.Debug {
		return errors.New("Callback AllowGET requires Debug")
	}
	if c.Callback.MaxMessageAge <= 0 {
		return errors.New("Callback MaxMessageAge must be > 0")
	}
	if c.Callback.MaxFutureSkew < 0 {
		return errors.New("Callback MaxFutureSkew must be >= 0")
	}
	if c.Callback.DownloadFiles && c.Callback.DownloadDir == "" {
		return errors.New("Callback DownloadDir must be set when DownloadFiles is true")
	}
	if c.Callback.AuthLimit.Enabled {
		if c.Callback.AuthLimit.MaxFailures <= 0 {
			return errors.New("Callback AuthLimit MaxFailures must be > 0")
		}
		if c.Callback.AuthLimit.Window <= 0 {
			return errors.New("Callback AuthLimit Window must be > 0")
		}
	}

	// Retention
	if c.Retention.ContentTTL < 0 {
		return errors.New("Retention ContentTTL must be >= 0")
	}
	if c.Retention.ReplayWindow <= 0 {
		return errors.New("Retention ReplayWindow must be > 0")
	}
	if c.Retention.ReplayWindow < c.Callback.MaxMessageAge {
		// a placeholder date must outlive the age limit of the callback
		return errors.New("Retention ReplayWindow must be >= Callback MaxMessageAge")
	}
	if c.Retention.CleanupInterval < 0 {
		return errors.New("Retention CleanupInterval must be >= 0")
	}

	// TFA
	providers := []struct {
		name string
		cfg  TFAProviderConfig
	}{
		{"Conventional", c.TFA.Conventional},
		{"Fast", c.TFA.Fast.TFAProviderConfig},
		{"Reversed", c.TFA.Reversed},
	}
	for _, p := range providers {
		if !p.cfg.Enabled {
			continue
		}
		if p.cfg.ValidationTime <= 0 {
			return errors.New("TFA " + p.name + " ValidationTime must be > 0")
		}
		if p.cfg.PendingTTL < 0 {
			return errors.New("TFA " + p.name + " PendingTTL must be >= 0")
		}
		if p.cfg.MaxAttempts < 0 || p.cfg.Cooldown < 0 {
			return errors.New("TFA " + p.name + " MaxAttempts and Cooldown must be >= 0")
		}
	}
	if c.TFA.Conventional.Enabled && c.TFA.Conventional.Message != "" &&
		strings.Count(c.TFA.Conventional.Message, "%s") != 1 {
		return errors.New("TFA Conventional Message must contain exactly one %s")
	}
	if c.TFA.Fast.Enabled && c.TFA.Fast.Decline.BlockTFA && c.TFA.Fast.Decline.BlockDuration <= 0 {
		return errors.New("TFA Fast Decline BlockDuration must be > 0 when BlockTFA is true")
	}
	if c.TFA.PendingGrace < 0 {
		return errors.New("TFA PendingGrace must be >= 0")
	}

	// Store
	if c.Store.RedisPrefix == "" {
		return errors.New("Store RedisPrefix must be set")
	}
	if c.Store.SessionTTL <= 0 {
		return errors.New("Store SessionTTL must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}
