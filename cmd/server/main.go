package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/havenapp/haven-server/internal/auth"
	"github.com/havenapp/haven-server/internal/server"
	"github.com/havenapp/haven-server/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Loading .env: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	var journal *store.Journal
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		journal = store.NewJournal(brokers, cfg.KafkaTopic)
		defer func() {
			if err := journal.Close(); err != nil {
				log.Printf("Closing journal: %v", err)
			}
		}()
	}

	gateway := server.NewGateway(cfg, auth.NewTokenAuthenticator(cfg.JWTSecret), store.NewRedisStore(rdb, journal))
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(gateway))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("Received signal %s, shutting down...", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := gateway.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Printf("Gateway shutdown: %v", err)
	}
}
