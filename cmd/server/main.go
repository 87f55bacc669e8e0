package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	webAdapter "labsales/internal/adapters/web"
	"labsales/internal/app"
	"labsales/internal/config"
	"labsales/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log := logger.WithComponent("server")
		log.Fatal().Err(err).Msg("configuration")
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		log := logger.WithComponent("server")
		log.Fatal().Err(err).Msg("logger")
	}
	log := logger.WithComponent("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.NewRuntime(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}
	defer rt.Close()

	handler := webAdapter.NewHandler(rt.Service, cfg.AllowedOrigins)
	if err := webAdapter.Serve(ctx, ":"+cfg.ServerPort, handler); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
}
