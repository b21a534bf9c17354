package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OpenMCP-Wallet/internal/api"
	"OpenMCP-Wallet/internal/auth"
	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/internal/connector"
	"OpenMCP-Wallet/internal/notify"
	"OpenMCP-Wallet/internal/observability/metrics"
	"OpenMCP-Wallet/internal/session"
	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/internal/web3/provider"
	"OpenMCP-Wallet/pkg/logger"
)

// main 是 walletd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("walletd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("WALLETD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "walletd.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("walletd")

	var injected *provider.Injected
	if !cfg.Connector.DisableInjectedProvider {
		injected, err = provider.NewInjected(cfg.Injected.ChainID, cfg.Injected.Accounts...)
		if err != nil {
			return err
		}
		defer injected.Shutdown()
	}

	backends, err := loadBackends(cfg, injected)
	if err != nil {
		return err
	}

	cache, err := openCache(ctx, cfg.Connector.Cache)
	if err != nil {
		return err
	}
	registry := connector.NewRegistry(connector.Options{
		CacheProvider:           cfg.Connector.CacheProvider,
		Backends:                backends,
		DisableInjectedProvider: cfg.Connector.DisableInjectedProvider,
		Cache:                   cache,
		Selector:                connector.ContextSelector{Default: cfg.Connector.DefaultProvider},
	})
	defer func() {
		if err := registry.Close(); err != nil {
			lg.Warn("关闭 provider 缓存失败", slog.Any("error", err))
		}
	}()
	if err := registry.Initialize(ctx); err != nil {
		return err
	}

	m := metrics.New()
	store := session.NewStore()
	defer store.Subscribe(m.ObserveChange)()

	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return err
	}
	if publisher != nil {
		if closer, ok := publisher.(interface{ Close() error }); ok {
			defer closer.Close()
		}
		forwarder := notify.NewForwarder(publisher, cfg.Events.Buffer)
		// 不跟随 ctx 退出，Close 时投递完剩余事件（包括退出时的断开事件）。
		forwarder.Start(context.Background())
		defer forwarder.Close()
		defer store.Subscribe(forwarder.Handle)()
	}

	ctrl := session.NewController(registry, store,
		session.WithEventTimeout(cfg.Session.EventTimeout()),
		session.WithObserver(m),
	)
	defer func() {
		if err := ctrl.Disconnect(context.Background()); err != nil {
			lg.Warn("退出时断开会话失败", slog.Any("error", err))
		}
	}()

	// 已缓存的 provider 在启动时自动恢复会话。
	if cfg.Connector.CacheProvider {
		if err := ctrl.Connect(ctx); err != nil {
			lg.Warn("恢复会话失败", slog.Any("error", err))
		}
	}

	authSvc, err := auth.NewService(authConfig(cfg.Auth))
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, api.Options{
		Session:   ctrl,
		Auth:      authSvc,
		Providers: registry.Providers,
		Injected:  injected,
		Metrics:   m,
	})
	return server.Start(ctx)
}

func loadBackends(cfg *config.Config, injected *provider.Injected) ([]connector.Backend, error) {
	var injectedProvider web3.Provider
	if injected != nil {
		injectedProvider = injected
	}
	if cfg.Connector.ProvidersFile == "" {
		if injectedProvider == nil {
			return nil, nil
		}
		return []connector.Backend{connector.NewInjectedBackend("injected", injectedProvider)}, nil
	}
	defs, err := web3.LoadProviderDefinitions(cfg.Connector.ProvidersFile)
	if err != nil {
		return nil, err
	}
	return connector.BackendsFromDefinitions(defs, injectedProvider), nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (connector.Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return connector.NewMemoryCache(), nil
	case "redis":
		return connector.NewRedisCache(ctx, connector.RedisCacheConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Key,
		})
	case "mysql":
		return connector.NewMySQLCache(ctx, connector.MySQLCacheConfig{
			DSN:          cfg.MySQL.DSN,
			Key:          cfg.Key,
			MaxOpenConns: cfg.MySQL.MaxOpenConns,
			MaxIdleConns: cfg.MySQL.MaxIdleConns,
		})
	default:
		return nil, fmt.Errorf("未知的缓存驱动: %s", cfg.Driver)
	}
}

func openPublisher(cfg config.EventsConfig) (notify.Publisher, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "", "log":
		return notify.NewLogPublisher(nil), nil
	case "rabbitmq":
		return notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}

func authConfig(cfg config.AuthConfig) auth.Config {
	out := auth.Config{Mode: auth.Mode(cfg.Mode)}
	for _, tc := range cfg.Tokens {
		out.Tokens = append(out.Tokens, auth.TokenConfig{
			Name:        tc.Name,
			Token:       tc.Token,
			Permissions: tc.Permissions,
			Disabled:    tc.Disabled,
		})
	}
	return out
}
