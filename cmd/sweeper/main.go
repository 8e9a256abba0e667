package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	mongoadapter "github.com/avolkhin/movie-seat-reservations/internal/adapters/mongo"
	"github.com/avolkhin/movie-seat-reservations/internal/adapters/rabbit"
	"github.com/avolkhin/movie-seat-reservations/internal/config"
	"github.com/avolkhin/movie-seat-reservations/internal/observability"
	"github.com/avolkhin/movie-seat-reservations/internal/reservation"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Standalone sweeper for deployments that want reclamation isolated from the
// API processes. It releases held seats whose deadline passed, typically ones
// orphaned by an API instance that died before its release timer fired.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	seats := mongoadapter.NewSeatStore(mongoClient.Database(cfg.MongoDatabase), logger)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	manager := reservation.NewManager(seats, rabbitPub, logger)
	sweeper := reservation.NewSweeper(manager, seats, logger, cfg.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown sweeper")
}
