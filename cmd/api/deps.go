package main

import (
	"context"
	"log"

	"ledgerlink/internal/domain/link"
	"ledgerlink/internal/domain/notification"
	"ledgerlink/internal/domain/summary"
	"ledgerlink/internal/infrastructure/crypto"
	"ledgerlink/internal/infrastructure/firebase"
	"ledgerlink/internal/infrastructure/postgres"
	"ledgerlink/internal/infrastructure/provider"
	httphandlers "ledgerlink/internal/interfaces/http"
	"ledgerlink/internal/shared/auth"
	"ledgerlink/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	LinkHandler         *httphandlers.LinkHandler
	SummaryHandler      *httphandlers.SummaryHandler
	NotificationHandler *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// Domain services (for the scheduler job provider)
	LinkService *link.Service
	ItemRepo    *postgres.ItemRepository
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize encryptor
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Initialize repositories
	attemptRepo := postgres.NewAttemptRepository(db, encryptor)
	itemRepo := postgres.NewItemRepository(db, encryptor)
	ledgerRepo := postgres.NewLedgerRepository(db)
	deviceTokenRepo := postgres.NewDeviceTokenRepository(db)

	// Initialize Firebase messenger (push notifications are optional)
	var messenger notification.Messenger
	if cfg.Firebase.CredentialsFile != "" {
		fcmClient, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, deviceTokenRepo.Deactivate)
		if err != nil {
			log.Printf("Warning: Failed to initialize Firebase client: %v", err)
		} else {
			messenger = fcmClient
			log.Println("Firebase messaging initialized")
		}
	}
	notificationService := notification.NewService(deviceTokenRepo, messenger)

	// Initialize provider client and domain services
	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	linkService := link.NewService(providerClient, attemptRepo, itemRepo, notificationService)
	summaryEngine := summary.NewEngine(ledgerRepo)

	// Initialize auth components
	jwt := auth.NewJWT(cfg.JWT.Secret)

	// Initialize handlers
	linkHandler := httphandlers.NewLinkHandler(linkService, cfg.Server.IsProduction())
	summaryHandler := httphandlers.NewSummaryHandler(summaryEngine)
	notificationHandler := httphandlers.NewNotificationHandler(notificationService)

	return &Dependencies{
		DB:                  db,
		LinkHandler:         linkHandler,
		SummaryHandler:      summaryHandler,
		NotificationHandler: notificationHandler,
		JWT:                 jwt,
		LinkService:         linkService,
		ItemRepo:            itemRepo,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
