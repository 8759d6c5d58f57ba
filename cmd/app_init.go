package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/config"
	"github.com/sells-group/inbox-sync/internal/resilience"
	"github.com/sells-group/inbox-sync/internal/store"
	"github.com/sells-group/inbox-sync/pkg/anthropic"
	"github.com/sells-group/inbox-sync/pkg/nylas"
	"github.com/sells-group/inbox-sync/pkg/recall"
	sfpkg "github.com/sells-group/inbox-sync/pkg/salesforce"
)

// appEnv bundles the store and provider clients shared by the serving
// commands.
type appEnv struct {
	Store  store.Store
	Nylas  nylas.Client
	Recall recall.Client
	LLM    anthropic.Client
	Policy resilience.BackoffPolicy
	Retry  resilience.RetryConfig
}

// Close releases the env's resources.
func (ae *appEnv) Close() {
	if ae.Store != nil {
		ae.Store.Close()
	}
}

// openStore validates the config for mode, connects to Postgres, and
// applies pending migrations. Every process migrates at startup; the
// advisory lock keeps concurrent starts serial.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.New(ctx, cfg.Store.DatabaseURL, store.PoolConfig{
		MaxConns: int32(cfg.Store.MaxConns),
	})
	if err != nil {
		return nil, eris.Wrap(err, "connect store")
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return st, nil
}

// initApp builds the full serving environment: store plus the mail,
// bot, and model clients.
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}

	return &appEnv{
		Store:  st,
		Nylas:  newNylasClient(),
		Recall: newRecallClient(),
		LLM:    anthropic.NewClient(cfg.Anthropic.Key),
		Policy: backoffPolicy(cfg.Resilience),
		Retry:  httpRetry(cfg.Resilience),
	}, nil
}

func newNylasClient() nylas.Client {
	return nylas.NewClient(cfg.Nylas.Key,
		nylas.WithBaseURL(cfg.Nylas.BaseURL),
		nylas.WithRateLimit(float64(cfg.Nylas.RequestsPerSec)),
		nylas.WithTimeout(time.Duration(cfg.Nylas.TimeoutSecs)*time.Second),
		nylas.WithBreaker(newBreaker("nylas")),
	)
}

func newRecallClient() recall.Client {
	return recall.NewClient(cfg.Recall.Key,
		recall.WithBaseURL(cfg.Recall.BaseURL),
		recall.WithRateLimit(float64(cfg.Recall.RequestsPerSec)),
		recall.WithTimeout(time.Duration(cfg.Recall.TimeoutSecs)*time.Second),
		recall.WithBreaker(newBreaker("recall")),
	)
}

// newBreaker builds the per-service circuit breaker from config, with
// state transitions logged under the service name.
func newBreaker(service string) *resilience.CircuitBreaker {
	bc := resilience.FromCircuitConfig(cfg.Resilience.CircuitThreshold, cfg.Resilience.CircuitResetSecs)
	bc.OnStateChange = resilience.BreakerLogger(service)
	return resilience.NewCircuitBreaker(bc)
}

// httpRetry converts the config's in-process retry knobs. Zero fields
// keep the defaults.
func httpRetry(rc config.ResilienceConfig) resilience.RetryConfig {
	return resilience.FromRetryConfig(rc.HTTPMaxAttempts, rc.HTTPBackoffMs, rc.HTTPMaxBackoffMs)
}

// backoffPolicy converts the config's second-denominated knobs into the
// shared retry schedule. Zero fields keep the defaults.
func backoffPolicy(rc config.ResilienceConfig) resilience.BackoffPolicy {
	p := resilience.DefaultBackoffPolicy()
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.TransientBaseSecs > 0 {
		p.TransientBase = time.Duration(rc.TransientBaseSecs) * time.Second
	}
	if rc.TransientCapSecs > 0 {
		p.TransientCap = time.Duration(rc.TransientCapSecs) * time.Second
	}
	if rc.InfraBaseSecs > 0 {
		p.InfraBase = time.Duration(rc.InfraBaseSecs) * time.Second
	}
	if rc.InfraCapSecs > 0 {
		p.InfraCap = time.Duration(rc.InfraCapSecs) * time.Second
	}
	return p
}

// initSalesforce authenticates with a JWT bearer grant and returns the
// narrowed CRM client.
func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client_id not configured (set INBOX_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "salesforce auth")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(float64(cfg.Salesforce.RequestsPerSec))), nil
}
