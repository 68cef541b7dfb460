package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"infracheck/api/internal/app"
	"infracheck/api/internal/authpw"
	"infracheck/api/internal/config"
	"infracheck/api/internal/email"
	"infracheck/api/internal/ledger"
	"infracheck/api/internal/media"
	"infracheck/api/internal/search"
	"infracheck/api/internal/session"
	"infracheck/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	// Redis backs both refresh sessions and the project ledger. Without it
	// refresh tokens fall back to PostgreSQL and the ledger runs on an
	// in-process map, which is fine for development but loses state on restart.
	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
	var ledgerStore *ledger.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisSessions.Close()
		sessions = redisSessions

		backend, err := ledger.NewRedisBackend(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis ledger connection failed: %v", err)
		}
		defer backend.Close()
		ledgerStore = ledger.NewStore(backend)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		sessions = dataStore
		ledgerStore = ledger.NewStore(ledger.NewMemoryBackend())
	}

	bus := ledger.NewBus()
	projectLedger := &app.ProjectLedger{
		Votes:      ledger.NewVoteLedger(ledgerStore, bus),
		Comments:   ledger.NewCommentThread(ledgerStore, bus),
		Visibility: ledger.NewVisibilityRegistry(ledgerStore, bus),
		Ownership:  ledger.NewOwnershipRegistry(ledgerStore),
		Bus:        bus,
		KV:         ledgerStore,
	}

	service := app.New(cfg, dataStore, sessions, projectLedger).
		WithAuthPassword(authpw.NewService(dataStore)).
		WithSearch(searchService)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaStore, err := media.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		service = service.WithMedia(mediaStore)
	}

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		service = service.WithEmail(email.NewService(email.Config{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			From:      cfg.SMTPFrom,
			FromName:  cfg.SMTPFromName,
			EnableTLS: true,
		}))
	}

	searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("InfraCheck API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
