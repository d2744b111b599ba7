package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"freda-client/internal/devserver"
	"freda-client/internal/logger"
)

func main() {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}
	lg, err := logger.New(logger.Config{Development: os.Getenv("ENV") != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer lg.Sync()

	srv := devserver.New(devserver.Config{
		JWTSecret: os.Getenv("JWT_SECRET"),
	}, lg)

	errs := make(chan error, 1)
	go func() {
		lg.Infow("starting dev chat backend", "addr", ":"+port)
		errs <- srv.Listen(":" + port)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		lg.Fatalw("server error", "err", e)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}
	if err := srv.Shutdown(); err != nil {
		lg.Warnw("shutdown", "err", err)
	}
}
