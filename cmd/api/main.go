package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amphoraxe.ca/internal/audit"
	"amphoraxe.ca/internal/auth"
	"amphoraxe.ca/internal/config"
	"amphoraxe.ca/internal/csrf"
	"amphoraxe.ca/internal/httpapi"
	"amphoraxe.ca/internal/obs"
	"amphoraxe.ca/internal/ratelimit"
	"amphoraxe.ca/internal/store/pg"
)

var version = "1.4.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("missing DSN: set AUTH_PG_DSN")
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	hasher := auth.NewHasher(cfg.HashWorkers)
	sessions := auth.NewSessionManager(store.Sessions(),
		auth.WithSessionDuration(cfg.SessionDuration))
	loginLimiter := ratelimit.New(cfg.LoginMaxAttempts, cfg.LoginWindow)
	signupLimiter := ratelimit.New(cfg.SignupMaxAttempts, cfg.SignupWindow)
	recorder := audit.NewRecorder(store.Audit())

	svc := auth.NewService(store, hasher, sessions, loginLimiter, signupLimiter, recorder)

	api := httpapi.New(svc, csrf.NewGuard(), recorder, httpapi.ReadyProbe{DB: store.DB()}, httpapi.Options{
		Version:         version,
		CookieDomain:    cfg.CookieDomain,
		SecureCookies:   cfg.IsProduction(),
		SessionDuration: cfg.SessionDuration,
		CORSOrigins:     cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting amphoraxe-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
