package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/maleva/customer-portal/gateway"
	"github.com/maleva/customer-portal/pkg/activitylog"
	"github.com/maleva/customer-portal/pkg/auth"
	"github.com/maleva/customer-portal/pkg/config"
	"github.com/maleva/customer-portal/pkg/discovery"
	"github.com/maleva/customer-portal/pkg/httpclient"
	"github.com/maleva/customer-portal/pkg/images"
	"github.com/maleva/customer-portal/pkg/logging"
	"github.com/maleva/customer-portal/pkg/orders"
	"github.com/maleva/customer-portal/pkg/storage"
	"go.uber.org/zap"
)

const cleanupInterval = 24 * time.Hour

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
	}
	defer closeStore()

	var logOpts []activitylog.Option
	var sink *activitylog.MongoSink
	if cfg.MongoDB.Enabled {
		sink, err = activitylog.NewMongoSink(&cfg.MongoDB, cfg.Gateway.Name)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		if err := sink.Ping(ctx); err != nil {
			logger.Warn("MongoDB ping failed, audit writes may be dropped", zap.Error(err))
		}
		defer sink.Close(context.Background())
		logOpts = append(logOpts, activitylog.WithSink(sink))
	}
	activity := activitylog.New(store, cfg.ActivityLog, logger, logOpts...)
	go runCleanup(ctx, activity, logger)

	session := auth.NewStore(store, logger)
	client := httpclient.New(httpclient.Config{
		BaseURL:      cfg.Backend.BaseURL,
		CompanyRefID: cfg.Backend.CompanyRefID,
		Timeout:      cfg.Backend.Timeout,
		RefreshPath:  cfg.Backend.RefreshPath,
	}, session, activity, logger)

	authSvc := auth.NewService(session, client, activity, auth.Config{
		LoginPath:  cfg.Backend.LoginPath,
		LogoutPath: cfg.Backend.LogoutPath,
	}, logger)
	repo := orders.NewRepository(client, cfg.Backend.CompanyRefID, logger)
	lookup := images.NewLookup(client, store, images.Config{
		CompanyRefID: cfg.Backend.CompanyRefID,
		HostURL:      cfg.Backend.BaseURL,
		CacheTTL:     cfg.Images.CacheTTL,
	}, logger)

	unsubscribe := session.Subscribe(func(user *auth.UserProfile, authenticated bool) {
		if !authenticated {
			logger.Info("Session ended")
		}
	})
	defer unsubscribe()

	gw := gateway.NewGateway(&cfg.Gateway, authSvc, repo, lookup, activity, logger)
	if sink != nil {
		gw.SetAuditSource(sink)
	}

	logger.Info("Starting customer portal",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("port", cfg.Gateway.Port),
		zap.String("host", cfg.Gateway.Host))

	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	registry, instance := register(ctx, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Error("Gateway error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if registry != nil {
		if err := registry.Deregister(shutdownCtx, instance); err != nil {
			logger.Warn("Failed to deregister", zap.Error(err))
		}
		registry.Close()
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway shutdown failed", zap.Error(err))
	}

	logger.Info("Customer portal stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.Storage.Driver != "redis" {
		return storage.NewMemory(), func() {}, nil
	}

	rdb := storage.NewRedis(&cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return rdb, func() { rdb.Close() }, nil
}

// register announces the instance in etcd. Failures are logged and the
// portal keeps running without discovery.
func register(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*discovery.Registry, *discovery.Instance) {
	if !cfg.Etcd.Enabled {
		return nil, nil
	}

	registry, err := discovery.NewRegistry(&cfg.Etcd, logger)
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		return nil, nil
	}

	instance := &discovery.Instance{Name: cfg.Gateway.Name, Host: cfg.Gateway.Host, Port: cfg.Gateway.Port}
	if err := registry.Register(ctx, instance); err != nil {
		logger.Warn("Failed to register instance", zap.Error(err))
		registry.Close()
		return nil, nil
	}

	if peers, err := registry.Instances(ctx, cfg.Gateway.Name); err == nil {
		logger.Info("Registered with etcd", zap.Int("instances", len(peers)))
	}
	return registry, instance
}

func runCleanup(ctx context.Context, activity *activitylog.Log, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		if err := activity.Cleanup(ctx); err != nil {
			logger.Warn("Activity log cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
