package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"echo-client/internal/app/server"
	"echo-client/internal/config"
)

func main() {
	// .env is optional; APP_* variables may come from the environment.
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)

	server.Run(cfg)
}
