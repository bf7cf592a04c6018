// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/OmishaPatel/pasera/internal/auth"
	"github.com/OmishaPatel/pasera/internal/config"
	"github.com/OmishaPatel/pasera/internal/database"
	"github.com/OmishaPatel/pasera/internal/handler"
	"github.com/OmishaPatel/pasera/internal/notifier"
	"github.com/OmishaPatel/pasera/internal/repository"
	"github.com/OmishaPatel/pasera/internal/service"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	// ── 1. Connect to PostgreSQL and migrate ─────────────────────────────
	if err := database.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	log.Println("✓ Connected to PostgreSQL")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	store := repository.NewPostgres(pool)

	var channels notifier.Multi
	if emailNotifier, err := notifier.NewEmailNotifier(cfg.AWSRegion, cfg.EmailFrom); err != nil {
		log.Printf("email notifications disabled: %v", err)
	} else {
		channels = append(channels, emailNotifier)
	}
	channels = append(channels, notifier.NewPushNotifier(cfg.ExpoPushAccessToken))

	dispatcher := service.NewDispatcher(store, channels, cfg.BaseURL)
	eventSvc := service.NewEventService(store, dispatcher, cfg.WaitlistClaimWindow)
	rsvpSvc := service.NewRSVPService(store, dispatcher, cfg.WaitlistClaimWindow)
	waitlistSvc := service.NewWaitlistService(store, dispatcher, cfg.WaitlistClaimWindow)
	profileSvc := service.NewProfileService(store)

	eventHandler := handler.NewEventHandler(eventSvc, rsvpSvc, waitlistSvc, profileSvc, cfg.SweepToken)
	authMW := auth.NewMiddleware(cfg.JWTSecret)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // access log
	if cfg.EnableCORS {
		r.Use(handler.CORS)
	}

	// Health
	r.Get("/health", handler.HealthCheck)

	// API routes
	r.Route("/events", func(r chi.Router) {
		// Public reads
		r.Get("/", eventHandler.ListEvents)
		r.Get("/{id}", eventHandler.GetEvent)
		r.Get("/{id}/attendees", eventHandler.ListAttendees)

		// Authenticated writes
		r.Group(func(r chi.Router) {
			r.Use(authMW.Authenticate)
			r.Post("/", eventHandler.CreateEvent)
			r.Post("/{id}/cancel", eventHandler.CancelEvent)
			r.Patch("/{id}/capacity", eventHandler.UpdateCapacity)

			r.Put("/{id}/rsvp", eventHandler.SetRSVP)
			r.Get("/{id}/rsvp", eventHandler.GetRSVP)
			r.Delete("/{id}/rsvp", eventHandler.CancelRSVP)

			r.Post("/{id}/waitlist", eventHandler.JoinWaitlist)
			r.Post("/{id}/waitlist/claim", eventHandler.ClaimSpot)
			r.Delete("/{id}/waitlist", eventHandler.LeaveWaitlist)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMW.Authenticate)
		r.Get("/me", eventHandler.Me)
		r.Put("/profile", eventHandler.UpsertProfile)
	})

	// Safety net for claim windows whose holders never come back.
	r.Post("/internal/waitlist/sweep", eventHandler.Sweep)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}
