package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/queue"
	"github.com/rendis/nodeflow/internal/secrets"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

// closableHub is an EventHub that owns resources.
type closableHub interface {
	streaming.EventHub
	Close() error
}

// app is the wired dependency graph shared by the commands.
type app struct {
	cfg          Config
	logger       *slog.Logger
	store        *store.LibSQLStore
	vault        *secrets.AESVault // nil when no vault key is configured
	hub          closableHub
	queue        queue.Queue
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	orchestrator *engine.Orchestrator
	redis        *redis.Client
}

// newApp opens the store and wires the engine. The caller must Close it.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logging.New(logOut, cfg.LogLevel)}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = s
	if err := s.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	if cfg.VaultPassphrase != "" {
		a.vault, err = secrets.NewAESVault(s, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open vault: %w", err)
		}
	}

	if cfg.usesRedis() {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
	}

	if cfg.StatusBackend == backendRedis {
		a.hub = streaming.NewRedisHub(a.redis, a.logger)
	} else {
		a.hub = streaming.NewMemoryHub()
	}
	if cfg.QueueBackend == backendRedis {
		a.queue = queue.NewRedisQueue(a.redis, cfg.RedisQueueKey)
	} else {
		a.queue = queue.NewMemoryQueue(0)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	publisher := streaming.NewStatusPublisher(a.hub, a.logger,
		streaming.WithObserver(func(channel string, status schema.NodeStatus) {
			a.metrics.StatusPublished(channel, string(status))
		}),
	)

	executors, err := nodes.NewDefaultRegistry(nodes.Deps{
		Credentials: a.credentials(),
		HTTP:        nodes.HTTPConfig{DefaultTimeout: cfg.HTTPTimeout},
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator, err = engine.NewOrchestrator(s, executors, publisher, engine.ExecutorConfig{},
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// credentials returns the vault, or a resolver that refuses every lookup
// when no vault key is configured.
func (a *app) credentials() secrets.CredentialResolver {
	if a.vault != nil {
		return a.vault
	}
	return lockedVault{}
}

// requireVault returns the vault or explains how to configure it.
func (a *app) requireVault() (*secrets.AESVault, error) {
	if a.vault == nil {
		return nil, schema.NewError(schema.ErrCodeVault, "vault is locked: set NODEFLOW_VAULT_KEY and NODEFLOW_VAULT_SALT")
	}
	return a.vault, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil && a.cfg.StatusBackend != backendRedis {
		a.hub.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
}

type lockedVault struct{}

func (lockedVault) Resolve(context.Context, string, string) (string, error) {
	return "", schema.NewError(schema.ErrCodeVault, "vault is locked: set NODEFLOW_VAULT_KEY to resolve credentials")
}
