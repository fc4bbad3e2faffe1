package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"qrattend/internal/attendclient"
	"qrattend/internal/config"
	"qrattend/internal/notify"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Notifier consumes success events published by stations and opens the
// parent notification links on this machine.
func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Fatalf("notifier needs QUEUE_BACKEND=redis; the memory queue is consumed inside the station")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable yet", cfg.RedisAddr)
	}

	api := attendclient.New(cfg.APIBaseURL, cfg.APITimeout, cfg.ScanLocation, cfg.DeviceInfo)
	api.SetToken(cfg.APIToken)
	if cfg.APIEmail != "" && cfg.APIPassword != "" {
		if _, err := api.Login(ctx, cfg.APIEmail, cfg.APIPassword); err != nil {
			log.Printf("WARNING: attendance api login failed, notifications will not be acknowledged: %v", err)
		}
	}

	var opener notify.Opener
	if cfg.AutoOpenLinks {
		opener = notify.BrowserOpener{}
	}
	d := notify.NewDispatcher(opener, api, nil)

	log.Printf("notifier started, consuming %s", cfg.QueueKey)
	if err := d.Run(ctx, queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("notifier stopped: %v", err)
	}
	log.Println("notifier stopped")
}
