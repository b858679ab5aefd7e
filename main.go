package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsync/config"
	"chatsync/logger"
	"chatsync/module/device"
	"chatsync/module/notify"
	"chatsync/module/offline"
	"chatsync/module/syncer"
	"chatsync/service/chat"
	"chatsync/service/events"
	"chatsync/service/storage"
	redisx "chatsync/service/storage/redis"
	"chatsync/store"
	"chatsync/tools/ids"
	"chatsync/tools/safe"
	"chatsync/tools/security"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	confPath := flag.String("config", "", "path to yaml config (optional)")
	flag.Parse()

	conf, err := config.Load(*confPath)
	if err != nil {
		logger.Errorf("config load: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(conf.Server.SnowflakeNode)

	if err := redisx.Init(redisx.Config{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
		PoolSize: conf.Redis.PoolSize,
	}); err != nil {
		logger.Errorf("redis init: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, conf.Postgres.DSN)
	if err != nil {
		logger.Errorf("postgres init: %v", err)
		os.Exit(1)
	}

	bus, err := events.NewBus(events.Config{URL: conf.Nats.URL, GatewayID: conf.Server.GatewayID})
	if err != nil {
		logger.Errorf("nats init: %v", err)
		os.Exit(1)
	}

	rel := store.NewPG(pool)
	devices := device.NewPGStore(pool)

	presence := storage.NewPresenceStore(storage.PresenceConf{
		GatewayID:  conf.Server.GatewayID,
		OnlineTTL:  conf.Presence.OnlineTTL,
		OfflineTTL: conf.Presence.OfflineTTL,
	}, bus)
	typing := storage.NewTypingTracker(conf.Typing.TTL)
	receipts := storage.NewReceiptTracker(conf.Receipts.TTL)

	registry := chat.NewRegistry(chat.RegistryConf{
		SendQueueSize: conf.Server.SendQueueSize,
		FanoutWorkers: conf.Server.FanoutWorkers,
		FanoutQueue:   conf.Server.FanoutQueue,
	}, presence, rel)

	offStore := offline.NewPGStore(pool)
	queue := offline.NewQueue(offStore, devices, registry, offline.Config{
		MaxAttempts:     conf.Offline.MaxAttempts,
		FreshnessWindow: conf.Offline.FreshnessWindow,
	})
	sweeper := offline.NewSweeper(offStore, registry, registry, conf.Offline.SweepInterval, conf.Offline.SweepBatch)
	sweeper.Start()

	var provider notify.PushProvider = notify.LogProvider{}
	if conf.Notify.CredentialsFile != "" {
		fcm, err := notify.NewFCM(ctx, conf.Notify.CredentialsFile)
		if err != nil {
			logger.Errorf("fcm init: %v", err)
			os.Exit(1)
		}
		provider = fcm
	}
	gateway := notify.NewGateway(notify.NewPGPrefs(pool), rel, devices, provider, registry, notify.Config{
		BatchSize:  conf.Notify.BatchSize,
		BatchDelay: conf.Notify.BatchDelay,
	})
	gateway.Start()

	coordinator := syncer.NewCoordinator(devices, rel, receipts, registry, bus, syncer.Config{
		PageSize:      conf.Sync.PageSize,
		FirstSyncSpan: conf.Sync.FirstSyncSpan,
		RetentionDays: conf.Sync.RetentionDays,
	})

	server := chat.NewServer(chat.Deps{
		Registry: registry,
		Presence: presence,
		Typing:   typing,
		Receipts: receipts,
		Rel:      rel,
		Devices:  devices,
		Offline:  queue,
		Notify:   gateway,
		Sync:     coordinator,
		Bus:      bus,
		Auth:     security.DefaultOptions([]byte(conf.Auth.Secret)),
	})

	safe.Go(func() {
		if err := server.Run(conf.Server.Addr); err != nil {
			logger.Errorf("server: %v", err)
			os.Exit(1)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
	sweeper.Stop()
	gateway.Stop()
	bus.Close()
	pool.Close()
	if err := redisx.Close(); err != nil {
		logger.Warnf("redis close: %v", err)
	}
	logger.Infof("bye")
}
