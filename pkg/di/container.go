package di

import (
	"context"
	"fmt"

	"chat-relay/backend/ai"
	"chat-relay/backend/internal/repository"
	"chat-relay/backend/internal/service"
	"chat-relay/backend/pkg/cache"
	"chat-relay/backend/pkg/config"
	"chat-relay/backend/pkg/health"
	"chat-relay/backend/pkg/logger"
	"chat-relay/backend/pkg/resilience"
	"chat-relay/backend/pkg/secrets"
	"chat-relay/backend/shared/redis"

	"gorm.io/gorm"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Container holds all the dependencies for the application
type Container struct {
	Config        *config.Config
	DB            *gorm.DB
	Logger        *logger.Logger
	Secrets       secrets.Manager
	Cache         cache.Store
	Store         repository.ConversationStore
	Completer     ai.Completer
	Breaker       *resilience.CircuitBreaker
	Relay         *service.ChatRelay
	Conversations *service.ConversationService
	Health        *health.Checker

	closers []func()
}

// Options overrides collaborators, mostly for tests
type Options struct {
	// Secrets resolves credentials. Nil uses configuration values only.
	Secrets secrets.Manager
	// Completer replaces the provider selected by configuration
	Completer ai.Completer
	// Cache replaces the backend selected by configuration
	Cache cache.Store
}

// New wires the application services on top of an open database
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger, opts Options) (*Container, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	sm := opts.Secrets
	if sm == nil {
		sm = secrets.Static{}
	}

	c := &Container{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		Secrets: sm,
		Health:  health.NewChecker(log, cfg.Observability.HealthCheckPeriod),
	}

	gormStore := repository.NewGormConversationStore(db)
	c.Health.RegisterDatabaseCheck(gormStore.Ping)

	c.Cache = opts.Cache
	if c.Cache == nil {
		c.Cache = c.buildCache(ctx)
	}

	var store repository.ConversationStore = gormStore
	if _, off := c.Cache.(cache.Nop); !off {
		store = repository.NewCachedStore(gormStore, c.Cache, cfg.Cache.TTL, log)
	}
	c.Store = store

	c.Completer = opts.Completer
	if c.Completer == nil {
		completer, err := ai.NewCompleter(ai.Settings{
			Provider:  cfg.Upstream.Provider,
			APIKey:    sm.GetSecretWithDefault(ctx, secrets.KeyUpstreamAPIKey, cfg.Upstream.APIKey),
			Model:     cfg.Upstream.Model,
			BaseURL:   cfg.Upstream.BaseURL,
			MaxTokens: cfg.Upstream.MaxTokens,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create upstream client: %w", err)
		}
		c.Completer = completer
	}

	c.Breaker = resilience.NewCircuitBreaker(breakerConfig(cfg, c.Completer.Provider()), log)

	c.Relay = service.NewChatRelay(store, c.Completer, c.Breaker, service.RelayConfig{
		SystemPrompt:     cfg.Upstream.SystemPrompt,
		Timeout:          cfg.Upstream.Timeout,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
	}, log)
	c.Conversations = service.NewConversationService(store, log)

	log.Info("Services initialized",
		"provider", c.Completer.Provider(),
		"model", c.Completer.Model(),
		"cache", cfg.Cache.Backend,
	)
	return c, nil
}

func (c *Container) buildCache(ctx context.Context) cache.Store {
	cfg := c.Config
	switch cfg.Cache.Backend {
	case CacheRedis:
		client := redis.NewRedisClient(redis.Options{
			Addr:     cfg.Cache.RedisURL,
			Password: c.Secrets.GetSecretWithDefault(ctx, secrets.KeyRedisPassword, cfg.Cache.RedisPassword),
			DB:       cfg.Cache.RedisDB,
		})
		if err := client.Ping(ctx); err != nil {
			c.Logger.Warn("Redis unreachable at startup, cache reads will fall through", "addr", cfg.Cache.RedisURL, "error", err)
		}
		c.Health.RegisterCacheCheck(client.Ping)
		c.closers = append(c.closers, func() { _ = client.Close() })
		return client
	case CacheNone:
		return cache.Nop{}
	default:
		mem := cache.NewCache(cfg.Cache.PurgeWindow, cfg.Cache.MaxSize)
		c.closers = append(c.closers, mem.Close)
		return mem
	}
}

// breakerConfig starts from the breaker defaults and applies the configured
// thresholds that are set
func breakerConfig(cfg *config.Config, provider string) resilience.CircuitBreakerConfig {
	bc := resilience.DefaultCircuitBreakerConfig("upstream-" + provider)
	if cfg.Resilience.FailureThreshold > 0 {
		bc.FailureThreshold = cfg.Resilience.FailureThreshold
	}
	if cfg.Resilience.SuccessThreshold > 0 {
		bc.SuccessThreshold = cfg.Resilience.SuccessThreshold
	}
	if cfg.Resilience.OpenTimeout > 0 {
		bc.OpenTimeout = cfg.Resilience.OpenTimeout
	}
	bc.IsFailure = service.CountsAgainstCircuit
	return bc
}

// Close releases the cache backend
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
