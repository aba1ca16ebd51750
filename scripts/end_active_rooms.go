package main

import (
	"context"
	"log"
	"time"

	"github.com/go-demo/liveroom/internal/config"
	"github.com/go-demo/liveroom/internal/pkg/cache"
	"github.com/go-demo/liveroom/internal/pkg/database"
	"github.com/go-demo/liveroom/internal/pkg/mediatoken"
	"github.com/go-demo/liveroom/internal/realtime"
	"github.com/go-demo/liveroom/internal/repository"
	"github.com/go-demo/liveroom/internal/service"
	"go.uber.org/zap"
)

// Ends every active room, e.g. after a crash left rooms open with nobody
// connected. With Redis enabled the live-ended events are relayed to running
// servers so their clients hear about it.
func main() {
	log.Println("Ending active rooms...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.Driver != "postgres" {
		log.Fatalf("Storage driver %q keeps no state between runs", cfg.Storage.Driver)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewPostgres(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	issuer, err := mediatoken.NewIssuer(cfg.Media.AppID, cfg.Media.AppCertificate, cfg.Media.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to initialize credential issuer: %v", err)
	}

	var busOpts []realtime.BusOption
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(&cfg.Redis, logger)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		busOpts = append(busOpts, realtime.WithRelay(realtime.NewRedisBroker(redisClient, logger)))
	}

	registry := realtime.NewRegistry(realtime.DefaultRetryPolicy(), logger)
	bus := realtime.NewBus(registry, cfg.Presence.BusBuffer, logger, busOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	dispatched := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(dispatched)
	}()

	messages := repository.NewMessageRepository(db)
	rooms := service.NewRoomService(repository.NewRoomRepository(db), messages, issuer, bus, logger)

	ended, err := rooms.EndAllActive(ctx)
	bus.Stop()
	<-dispatched
	if err != nil {
		log.Fatalf("Ended %d rooms before failing: %v", ended, err)
	}

	log.Printf("Ended %d rooms", ended)
}
