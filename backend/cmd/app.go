package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/webrtc-matchmaker/backend/config"
	httpServer "github.com/adwski/webrtc-matchmaker/backend/server/http"
	websocketServer "github.com/adwski/webrtc-matchmaker/backend/server/websocket"
	"github.com/adwski/webrtc-matchmaker/backend/service"
	store "github.com/adwski/webrtc-matchmaker/backend/storage/memory"
	sw "github.com/adwski/webrtc-matchmaker/backend/switch"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = logger.Level(cfg.LogLevel)

	switchboard := sw.NewSwitch(&logger)
	svc := service.NewService(service.Config{
		Store:  store.NewMemStore(store.UUIDGenerator),
		Switch: switchboard,
		Logger: &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		Stats:       switchboard,
		ListenAddr:  cfg.APIListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:           &logger,
		SignalingService: svc,
		ConnIDGenerator:  store.UUIDGenerator,
		ListenAddr:       cfg.WSListenAddr,
		OutboxSize:       cfg.OutboxSize,
		PingInterval:     cfg.PingInterval,
		PongWait:         cfg.PongWait,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
