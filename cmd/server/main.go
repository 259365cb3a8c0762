package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/identity-gateway/internal/audit"
	"github.com/Skotchmaster/identity-gateway/internal/config"
	"github.com/Skotchmaster/identity-gateway/internal/directory"
	"github.com/Skotchmaster/identity-gateway/internal/es"
	"github.com/Skotchmaster/identity-gateway/internal/events"
	"github.com/Skotchmaster/identity-gateway/internal/federated"
	"github.com/Skotchmaster/identity-gateway/internal/handlers"
	"github.com/Skotchmaster/identity-gateway/internal/httpserver"
	"github.com/Skotchmaster/identity-gateway/internal/logging"
	authmw "github.com/Skotchmaster/identity-gateway/internal/middleware/auth"
	"github.com/Skotchmaster/identity-gateway/internal/resolver"
	"github.com/Skotchmaster/identity-gateway/internal/tokens"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB(configuration)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	codec := tokens.New(
		[]byte(configuration.JWT_SECRET),
		[]byte(configuration.REFRESH_SECRET),
		configuration.AccessTTL,
		configuration.RefreshTTL,
	)

	dir := directory.NewGormDirectory(db)

	var verifier federated.Verifier
	if configuration.OIDC_ISSUER != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		oidcVerifier, err := federated.NewOIDCVerifier(initCtx, federated.Config{
			IssuerURL:    configuration.OIDC_ISSUER,
			ClientID:     configuration.OIDC_CLIENT_ID,
			ClientSecret: configuration.OIDC_CLIENT_SECRET,
			RedirectURL:  configuration.OIDC_REDIRECT_URL,
		})
		cancel()
		if err != nil {
			log.Fatalf("oidc init error: %v", err)
		}
		verifier = oidcVerifier
	} else {
		logger.Warn("oidc issuer not configured, federated tokens will be rejected")
	}

	var producer *events.Producer
	if configuration.KAFKA_ADDRESS != "" {
		producer = events.NewProducer([]string{configuration.KAFKA_ADDRESS}, configuration.EVENTS_TOPIC)
	}

	var recorder *audit.Recorder
	if configuration.ES_URL != "" {
		esClient, err := es.NewClient(configuration)
		if err != nil {
			log.Fatalf("elasticsearch init error: %v", err)
		}
		recorder = audit.NewRecorder(esClient, configuration.AUDIT_INDEX)
	}

	rslv := resolver.New(codec, dir, verifier)
	mw := authmw.NewMiddleware(rslv, producer, recorder)

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID(), logging.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		Auth:  &handlers.AuthHandler{Resolver: rslv, Events: producer},
		Audit: &handlers.AuditHandler{Audit: recorder},
		MW:    mw,
	})

	srv := &http.Server{
		Addr:         configuration.ListenAddr,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}

	if err := producer.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
