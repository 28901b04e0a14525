// ABOUTME: Builds a Server and all of its components from the loaded configuration
// ABOUTME: Selects the record store, event publisher and optional operator API

package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codebarista-de/shopware-app-server/internal/adminapi"
	"github.com/codebarista-de/shopware-app-server/internal/apptoken"
	"github.com/codebarista-de/shopware-app-server/internal/auth"
	"github.com/codebarista-de/shopware-app-server/internal/config"
	"github.com/codebarista-de/shopware-app-server/internal/dedupe"
	"github.com/codebarista-de/shopware-app-server/internal/events"
	"github.com/codebarista-de/shopware-app-server/internal/metrics"
	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// adminAPITimeout bounds each token request to a shop.
const adminAPITimeout = 30 * time.Second

// OpenStore opens the configured shop record store.
func OpenStore(cfg *config.Config, logger *slog.Logger) (store.ShopStore, error) {
	opts := []store.Option{store.WithLogger(logger)}
	if cfg.Database.EncryptionKey != "" {
		sealer, err := store.NewSealerFromBase64(cfg.Database.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("creating sealer: %w", err)
		}
		opts = append(opts, store.WithSealer(sealer))
	}

	if cfg.Database.Driver == "postgres" {
		st, err := store.NewPostgresStore(cfg.Database.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path, opts...)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewPublisher returns a Redis stream publisher when events.redis_addr is set,
// else a publisher that only logs.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.Events.RedisAddr == "" {
		return events.NewLogPublisher(logger), nil
	}
	return events.NewRedisPublisher(ctx, events.RedisConfig{
		Addr:     cfg.Events.RedisAddr,
		Password: cfg.Events.RedisPassword,
		DB:       cfg.Events.RedisDB,
		Stream:   cfg.Events.Stream,
		MaxLen:   cfg.Events.MaxLen,
	}, logger)
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	publisher, err := NewPublisher(ctx, cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}

	configured := make([]registry.App, 0, len(cfg.Apps))
	for _, a := range cfg.Apps {
		configured = append(configured, registry.NewConfiguredApp(a.Key, a.Name, a.Secret, a.Version, publisher, logger))
	}
	apps, err := registry.NewApps(configured...)
	if err != nil {
		_ = publisher.Close()
		_ = st.Close()
		return nil, err
	}

	m := metrics.New()

	var accessTokens *adminapi.TokenCache
	reg := registry.New(st,
		registry.WithLogger(logger),
		registry.WithLocalhostMapping(cfg.AppServer.MapLocalhostIPToLocalhostDomainName),
		registry.WithDeleteHook(func(appKey, shopID string) { accessTokens.Invalidate(appKey, shopID) }),
	)
	accessTokens = adminapi.NewTokenCache(reg, adminapi.Options{
		SSLOnly:    cfg.AppServer.IsSSLOnly(),
		HTTPClient: adminapi.NewHTTPClient(adminAPITimeout, cfg.Logging.HTTPRequests || cfg.AppServer.LogOutboundRequests, logger),
		Observe:    m.ObserveAccessToken,
		Logger:     logger,
	})

	var operator auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			accessTokens.Close()
			_ = publisher.Close()
			_ = st.Close()
			return nil, fmt.Errorf("creating operator verifier: %w", err)
		}
		operator = verifier
	}

	return New(cfg, Deps{
		Apps:         apps,
		Store:        st,
		Registry:     reg,
		AppTokens:    apptoken.NewService(reg, cfg.AppServer.AppTokenTTL, logger),
		AccessTokens: accessTokens,
		Dedupe:       dedupe.New(cfg.AppServer.EventDedupeTTL, dedupe.DefaultMaxSize),
		Metrics:      m,
		Publisher:    publisher,
		Operator:     operator,
		Logger:       logger,
	})
}
