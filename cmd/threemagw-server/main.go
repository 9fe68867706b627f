package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	threemaGW "github.com/MrEthical07/threemaGW"
	"github.com/MrEthical07/threemaGW/metrics/export/prometheus"
	"github.com/MrEthical07/threemaGW/middleware"
)

func main() {
	var (
		listen         = flag.String("listen", envOr("THREEMAGW_LISTEN", ":8080"), "http listen address")
		redisAddr      = flag.String("redis-addr", os.Getenv("THREEMAGW_REDIS_ADDR"), "redis address; miniredis is used when empty")
		prefix         = flag.String("prefix", envOr("THREEMAGW_PREFIX", "tgw"), "redis key prefix")
		trustedProxies = flag.String("trusted-proxies", os.Getenv("THREEMAGW_TRUSTED_PROXIES"), "comma separated proxy CIDRs allowed to set X-Forwarded-For")
		debug          = flag.Bool("debug", os.Getenv("THREEMAGW_DEBUG") == "1", "enable debug callbacks and logging")
		authLimit      = flag.Int("callback-auth-limit", envInt("THREEMAGW_CALLBACK_AUTH_LIMIT"), "throttle an address after this many failed callback authentications; 0 disables, requires -trusted-proxies")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	proxies := splitList(*trustedProxies)
	cfg, err := configFromEnv(*prefix, *debug)
	if err == nil {
		err = applyAuthLimit(&cfg, *authLimit, proxies)
	}
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	client, closeRedis, err := openRedis(*redisAddr, logger)
	if err != nil {
		logger.WithError(err).Fatal("Redis unavailable")
	}
	defer closeRedis()

	engine, err := threemaGW.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		WithAuditSink(threemaGW.NewLogrusSink(logger)).
		Build()
	if err != nil {
		logger.WithError(err).Fatal("Engine build failed")
	}
	defer engine.Close()

	clientInfo, err := middleware.ClientInfo(proxies)
	if err != nil {
		logger.WithError(err).Fatal("Invalid trusted proxies")
	}

	router := mux.NewRouter()
	callbackMethods := []string{http.MethodPost}
	if cfg.Callback.AllowGET {
		callbackMethods = append(callbackMethods, http.MethodGet)
	}
	router.Handle("/callback", clientInfo(engine.CallbackHandler())).Methods(callbackMethods...)
	router.Handle("/metrics", prometheus.NewPrometheusExporter(engine).Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	}).Methods(http.MethodGet)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runCleanup(ctx, engine, cfg.Retention.CleanupInterval, logger)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(logrus.Fields{"addr": *listen, "gateway": cfg.Gateway.ID}).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("Server failed")
	}
}

func configFromEnv(prefix string, debug bool) (threemaGW.Config, error) {
	cfg := threemaGW.DefaultConfig()
	cfg.Store.RedisPrefix = prefix
	cfg.Gateway.ID = os.Getenv("THREEMAGW_ID")
	cfg.Gateway.Secret = os.Getenv("THREEMAGW_SECRET")
	if base := os.Getenv("THREEMAGW_BASE_URL"); base != "" {
		cfg.Gateway.BaseURL = base
	}
	if raw := os.Getenv("THREEMAGW_PRIVATE_KEY"); raw != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(raw, "private:"))
		if err != nil {
			return cfg, errors.New("THREEMAGW_PRIVATE_KEY must be hex encoded")
		}
		cfg.Gateway.PrivateKey = key
	}
	cfg.Callback.AccessToken = os.Getenv("THREEMAGW_ACCESS_TOKEN")
	cfg.Callback.Debug = debug
	cfg.Callback.AllowGET = debug && os.Getenv("THREEMAGW_ALLOW_GET") == "1"
	if dir := os.Getenv("THREEMAGW_DOWNLOAD_DIR"); dir != "" {
		cfg.Callback.DownloadFiles = true
		cfg.Callback.DownloadDir = dir
	}
	if ttl := os.Getenv("THREEMAGW_CONTENT_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return cfg, errors.New("THREEMAGW_CONTENT_TTL must be a duration")
		}
		cfg.Retention.ContentTTL = d
	}
	return cfg, cfg.Validate()
}

// applyAuthLimit enables callback failure throttling. The limiter keys on
// the client address, which only identifies the gateway once the proxies
// in front of this server are trusted to report it.
func applyAuthLimit(cfg *threemaGW.Config, maxFailures int, trustedProxies []string) error {
	if maxFailures <= 0 {
		cfg.Callback.AuthLimit.Enabled = false
		return nil
	}
	if len(trustedProxies) == 0 {
		return errors.New("callback-auth-limit requires trusted-proxies")
	}
	cfg.Callback.AuthLimit.Enabled = true
	cfg.Callback.AuthLimit.MaxFailures = maxFailures
	return cfg.Validate()
}

func openRedis(addr string, logger *logrus.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		logger.WithField("addr", mr.Addr()).Warn("Using in-memory miniredis, state is lost on exit")
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

func runCleanup(ctx context.Context, engine *threemaGW.Engine, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := engine.RunCleanup(ctx)
			entry := logger.WithFields(logrus.Fields{
				"scrubbed":       res.Scrubbed,
				"dates_purged":   res.DatesPurged,
				"pending_purged": res.PendingPurged,
			})
			if err != nil {
				entry.WithError(err).Warn("Cleanup incomplete")
				continue
			}
			entry.Debug("Cleanup finished")
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return n
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
