package threemaGW

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/inbound"
	"github.com/MrEthical07/threemaGW/internal/flows"
	"github.com/MrEthical07/threemaGW/internal/limiters"
	"github.com/MrEthical07/threemaGW/internal/stores"
	"github.com/MrEthical07/threemaGW/permission"
	"github.com/MrEthical07/threemaGW/session"
	"github.com/MrEthical07/threemaGW/tfa"
)

// Builder collects configuration and collaborators. Use it once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *logrus.Logger

	accounts    AccountProvider
	permissions PermissionProvider
	groups      map[string][]string

	transport gateway.Transport
	keys      gateway.PublicKeyResolver
	blobs     gateway.BlobFetcher

	preSave  []inbound.PreSaveHook
	postSave []inbound.PostSaveHook

	auditSink AuditSink
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the logger. Defaults to logrus.StandardLogger().
func (b *Builder) WithLogger(logger *logrus.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAccountProvider enables the ban and notify decline actions.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

// WithPermissionProvider resolves user groups; groups maps each group to
// the decline permissions (PermDecline*) it grants.
func (b *Builder) WithPermissionProvider(p PermissionProvider, groups map[string][]string) *Builder {
	b.permissions = p
	b.groups = groups
	return b
}

// WithTransport replaces the gateway API client for sending, key lookup
// and blob download. Nil arguments keep the default client.
func (b *Builder) WithTransport(t gateway.Transport, keys gateway.PublicKeyResolver, blobs gateway.BlobFetcher) *Builder {
	b.transport = t
	b.keys = keys
	b.blobs = blobs
	return b
}

// OnPreSave registers a hook that runs before a message is stored. Hooks
// run in registration order after the built-in TFA listeners.
func (b *Builder) OnPreSave(hook inbound.PreSaveHook) *Builder {
	b.preSave = append(b.preSave, hook)
	return b
}

// OnPostSave registers a hook that runs after a message is stored.
func (b *Builder) OnPostSave(hook inbound.PostSaveHook) *Builder {
	b.postSave = append(b.postSave, hook)
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every time dependent check.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(b.groups) > 0 && b.permissions == nil {
		return nil, errors.New("permission groups require a permission provider")
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		config:  cfg,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}

	// -------- PERMISSIONS --------
	registry := permission.NewRegistry(true)
	for _, name := range []string{PermDeclineBlockTFA, PermDeclineBanUser, PermDeclineBanIP, PermDeclineNotify} {
		if _, err := registry.Register(name); err != nil {
			return nil, err
		}
	}
	registry.Freeze()
	decline := &declineActions{accounts: b.accounts, registry: registry}
	if b.permissions != nil {
		groups := permission.NewGroups(registry)
		for name, perms := range b.groups {
			if err := groups.Define(name, perms); err != nil {
				return nil, err
			}
		}
		groups.Freeze()
		e.permissions = permission.NewCache(groupResolver(b.permissions, groups))
		decline.cache = e.permissions
	}

	// -------- STORES --------
	prefix := cfg.Store.RedisPrefix
	e.messages = stores.NewMessageStore(b.redis, prefix).WithLogger(logger)
	e.pending = stores.NewPendingStore(b.redis, prefix, cfg.TFA.PendingGrace)
	e.data = providerDataStore{
		sessions: session.NewStore(b.redis, prefix, cfg.Store.SessionTTL, cfg.Store.SlidingSessions),
		accounts: stores.NewAccountDataStore(b.redis, prefix),
	}

	// -------- GATEWAY --------
	client := gateway.NewClient(gateway.ClientConfig{
		BaseURL: cfg.Gateway.BaseURL,
		ID:      cfg.Gateway.ID,
		Secret:  cfg.Gateway.Secret,
		Timeout: cfg.Gateway.Timeout,
	})
	transport, upstream, blobs := b.transport, b.keys, b.blobs
	if transport == nil {
		transport = client
	}
	if upstream == nil {
		upstream = client
	}
	if blobs == nil {
		blobs = client
	}
	if !cfg.Callback.DownloadFiles {
		blobs = nil
	}
	keys := &cachedKeyResolver{
		store:    stores.NewKeystore(b.redis, prefix),
		upstream: upstream,
		logger:   logger,
	}
	var privateKey [gateway.KeySize]byte
	copy(privateKey[:], cfg.Gateway.PrivateKey)
	e.crypto = gateway.NewCrypto(privateKey, keys, blobs)
	sender := gateway.NewSender(e.crypto, transport)

	// -------- TFA --------
	attempts := limiters.NewAttemptLimiter(b.redis, prefix, attemptConfig(cfg.TFA))
	tfaDeps := tfa.Deps{
		Data:      e.data,
		Pending:   e.pending,
		Sender:    sender,
		Limiter:   attempts,
		Decline:   decline,
		GatewayID: cfg.Gateway.ID,
		Now:       now,
		Logger:    logger,
		Observe:   e.observeTFA,
	}
	e.providers = make(map[string]tfa.Provider, 3)
	matcher := tfa.NewMatcher(e.pending, e.data, logger).OnMatch(e.observeTFA)
	received := func(ctx context.Context, id gateway.MessageID) (bool, error) {
		return e.messages.IsReceived(ctx, id.String())
	}

	var listeners []inbound.PreSaveHook
	if p := cfg.TFA.Conventional; p.Enabled {
		e.addProvider(tfa.NewConventional(tfaDeps, settings(p)))
	}
	if p := cfg.TFA.Fast; p.Enabled {
		fast := tfa.NewFast(tfaDeps, settings(p.TFAProviderConfig), tfa.DeclinePolicy{
			BlockTFA:      p.Decline.BlockTFA,
			BlockDuration: p.Decline.BlockDuration,
			BanUser:       p.Decline.BanUser,
			BanIP:         p.Decline.BanIP,
			NotifyUser:    p.Decline.NotifyUser,
			NotifyMessage: p.Decline.NotifyMessage,
		})
		e.addProvider(fast)
		listeners = append(listeners, tfa.ReceiptListener(matcher, fast.MatchSpec(), received))
	}
	if p := cfg.TFA.Reversed; p.Enabled {
		reversed := tfa.NewReversed(tfaDeps, settings(p))
		e.addProvider(reversed)
		listeners = append(listeners, tfa.CodeListener(matcher, reversed.MatchSpec(), received))
	}

	// -------- CALLBACK LIMITER --------
	var authBlocked, authFailure func(context.Context, string) (bool, error)
	if cfg.Callback.AuthLimit.Enabled {
		callbackLimiter := limiters.NewCallbackLimiter(b.redis, prefix, limiters.CallbackLimiterConfig{
			Enabled:     true,
			MaxFailures: cfg.Callback.AuthLimit.MaxFailures,
			Window:      cfg.Callback.AuthLimit.Window,
		})
		authBlocked = callbackLimiter.Blocked
		authFailure = callbackLimiter.RecordFailure
	}

	// -------- FLOWS --------
	metricInc := func(id int) { e.metricInc(MetricID(id)) }
	e.flow = flows.New(flows.Deps{
		Callback: flows.CallbackDeps{
			Debug:             cfg.Callback.Debug,
			AllowGET:          cfg.Callback.AllowGET,
			AccessToken:       cfg.Callback.AccessToken,
			GatewayID:         cfg.Gateway.ID,
			Secret:            cfg.Gateway.Secret,
			MaxMessageAge:     cfg.Callback.MaxMessageAge,
			MaxFutureSkew:     cfg.Callback.MaxFutureSkew,
			Now:               now,
			E2EConfigured:     e.crypto.E2EConfigured,
			AuthBlocked:       authBlocked,
			RecordAuthFailure: authFailure,
			MetricInc:         metricInc,
			Metrics: flows.CallbackMetrics{
				PreConditionsFailed: int(MetricCallbackPreConditionsFailed),
				RequestFailed:       int(MetricCallbackRequestFailed),
				FormalitiesFailed:   int(MetricCallbackFormalitiesFailed),
				AuthThrottled:       int(MetricCallbackAuthThrottled),
			},
		},
		Receive: flows.ReceiveDeps{
			Debug:            cfg.Callback.Debug,
			DownloadDir:      cfg.Callback.DownloadDir,
			DownloadFiles:    cfg.Callback.DownloadFiles,
			Now:              now,
			NewFileID:        uuid.NewString,
			CheckDownloadDir: checkDownloadDir,
			IsReceived:       e.messages.IsReceived,
			Decrypt:          e.crypto.Decrypt,
			RecordFull:       e.messages.RecordFull,
			RecordID:         e.messages.RecordID,
			Stored:           e.messages.Get,
			DiscardFiles:     e.discardFiles,
			PreSave:          append(listeners, b.preSave...),
			PostSave:         append([]inbound.PostSaveHook(nil), b.postSave...),
			MetricInc:        metricInc,
			Metrics: flows.ReceiveMetrics{
				Received:         int(MetricMessageReceived),
				Saved:            int(MetricMessageSaved),
				Suppressed:       int(MetricMessageSuppressed),
				Replay:           int(MetricReplayDetected),
				DecryptFailed:    int(MetricDecryptFailed),
				HookFailed:       int(MetricHookFailed),
				StorageFailed:    int(MetricStorageFailed),
				MalformedPayload: int(MetricMalformedPayload),
			},
			Errors: flows.ReceiveErrors{
				DownloadDir: ErrDownloadDir,
				Malformed:   ErrMalformedCallback,
				Replay:      ErrReplayDetected,
				Decrypt:     ErrDecryptFailed,
				Hook:        ErrHookFailed,
				Storage:     ErrStorageUnavailable,
			},
		},
		Cleanup: flows.CleanupDeps{
			ContentTTL:     cfg.Retention.ContentTTL,
			ReplayWindow:   cfg.Retention.ReplayWindow,
			Hardened:       cfg.Retention.Hardened,
			Now:            now,
			ScrubOlderThan: e.messages.ScrubOlderThan,
			PurgeDates:     e.messages.PurgeDates,
			PurgePending:   e.pending.PurgeExpired,
		},
	})

	e.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	b.built = true
	return e, nil
}

func (e *Engine) addProvider(p tfa.Provider) {
	e.providers[p.ID()] = p
	e.order = append(e.order, p.ID())
}

func settings(p TFAProviderConfig) tfa.Settings {
	return tfa.Settings{
		ValidationTime: p.ValidationTime,
		PendingTTL:     p.PendingTTL,
		Message:        p.Message,
	}
}

func attemptConfig(cfg TFAConfig) limiters.AttemptLimiterConfig {
	policy := func(p TFAProviderConfig) limiters.AttemptPolicy {
		return limiters.AttemptPolicy{MaxAttempts: p.MaxAttempts, Cooldown: p.Cooldown}
	}
	return limiters.AttemptLimiterConfig{
		Providers: map[string]limiters.AttemptPolicy{
			tfa.ProviderConventional: policy(cfg.Conventional),
			tfa.ProviderFast:         policy(cfg.Fast.TFAProviderConfig),
			tfa.ProviderReversed:     policy(cfg.Reversed),
		},
	}
}

func groupResolver(p PermissionProvider, groups *permission.Groups) permission.Resolver {
	return func(ctx context.Context, userID string) (permission.Mask64, error) {
		names, err := p.UserGroups(ctx, userID)
		if err != nil {
			return 0, err
		}
		return groups.Mask(names), nil
	}
}
