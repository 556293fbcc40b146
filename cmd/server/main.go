package main

import (
	"database/sql"
	"flag"
	"log"
	"net/http"

	httpapi "libcirc-backend/internal/api/http"
	"libcirc-backend/internal/config"
	"libcirc-backend/internal/events"
	"libcirc-backend/internal/logger"
	"libcirc-backend/internal/repository/postgres"
	"libcirc-backend/internal/security"
	"libcirc-backend/internal/service"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting circulation backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())
	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)

	// Initialize Database
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Initialize Repositories
	store := postgres.NewStore(db)

	// Initialize Security
	tokenManager := security.NewTokenManager(cfg.JWT.Secret)

	// Initialize Event Publisher
	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		logger.Info("Publishing lifecycle events to Kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		logger.Info("No Kafka brokers configured; lifecycle events disabled")
		publisher = events.NewNopPublisher()
	}
	defer publisher.Close()

	// Initialize Services
	availabilitySvc := service.NewAvailabilityService(store.BookRepository, store.ReservationRepository)
	reservationSvc := service.NewReservationService(
		store.ReservationRepository,
		store.BookRepository,
		availabilitySvc,
		publisher,
		cfg.Circulation.LoanPeriodDays,
	)

	// Initialize HTTP handlers
	handler := httpapi.NewReservationHandler(reservationSvc, availabilitySvc)
	router := mux.NewRouter()
	httpapi.RegisterRoutes(router, handler, tokenManager)

	logger.Info("HTTP server listening", "address", cfg.GetServerAddress())
	if err := http.ListenAndServe(cfg.GetServerAddress(), router); err != nil {
		logger.Error("HTTP server error", "error", err)
		log.Fatalf("Failed to serve: %v", err)
	}
}
