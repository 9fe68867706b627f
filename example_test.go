package threemaGW_test

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"

	threemaGW "github.com/MrEthical07/threemaGW"
	"github.com/MrEthical07/threemaGW/inbound"
	"github.com/MrEthical07/threemaGW/tfa"
)

// ExampleNew demonstrates engine construction with a pre-save hook.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})

	cfg := threemaGW.DefaultConfig()
	cfg.Gateway.ID = "*MYGATEW"
	cfg.Gateway.Secret = "secret"
	cfg.Callback.AccessToken = "token"

	engine, err := threemaGW.New().
		WithConfig(cfg).
		WithRedis(rdb).
		OnPreSave(func(ctx context.Context, msg inbound.Message, debug bool) (inbound.HookResult, error) {
			return inbound.HookResult{}, nil
		}).
		Build()
	if err != nil {
		return
	}
	http.Handle("/callback", engine.CallbackHandler())
}

// ExampleEngine_TriggerTFA shows a login step using the conventional mode.
func ExampleEngine_TriggerTFA() {
	var engine *threemaGW.Engine
	ctx := threemaGW.WithClientIP(context.Background(), "192.0.2.1")
	ch := tfa.Challenge{UserID: "u1"}

	if _, err := engine.TriggerTFA(ctx, tfa.ProviderConventional, ch); err != nil {
		return
	}
	res, err := engine.VerifyTFA(ctx, tfa.ProviderConventional, ch, "123456")
	if err != nil || !res.OK {
		return
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *threemaGW.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot.Counters[threemaGW.MetricMessageSaved]
}
