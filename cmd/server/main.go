package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/jredh-dev/memotag/config"
	"github.com/jredh-dev/memotag/internal/auth"
	"github.com/jredh-dev/memotag/internal/cache"
	"github.com/jredh-dev/memotag/internal/gateway"
	"github.com/jredh-dev/memotag/internal/handlers"
	"github.com/jredh-dev/memotag/internal/syncer"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	issueToken := flag.String("issue-token", "", "Issue a device token for the given device name and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("memotag-server %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
		os.Exit(0)
	}

	cfg := config.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Server.Env == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	authService, err := buildAuth(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth")
	}

	if *issueToken != "" {
		token, err := authService.IssueDeviceToken(*issueToken)
		if err != nil {
			log.Fatal().Err(err).Msg("issue device token")
		}
		fmt.Println(token)
		os.Exit(0)
	}

	// Local offline mirror.
	mirror, err := cache.New(cfg.Cache.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize cache")
	}
	defer mirror.Close()

	// Remote document database.
	if cfg.Firestore.UseEmulator {
		os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Firestore.EmulatorHost)
	}
	ctx := context.Background()
	gw, err := gateway.NewFirestore(ctx, gateway.FirestoreConfig{
		ProjectID:       cfg.Firestore.ProjectID,
		DatabaseID:      cfg.Firestore.Database,
		CredentialsPath: cfg.Firestore.CredentialsPath,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("initialize gateway")
	}
	defer gw.Close()

	coord := syncer.New(gw, mirror,
		syncer.WithLogger(log),
		syncer.WithPageSize(cfg.Sync.PageSize),
		syncer.WithTemplateDefaults(config.DefaultTemplates()),
	)

	// First load in the background; the API serves the (empty or
	// mirror-backed) list meanwhile.
	go func() {
		if err := coord.LoadItems(context.Background()); err != nil {
			log.Warn().Err(err).Msg("initial load failed, serving mirror state")
		}
	}()

	refresher := syncer.NewRefresher(coord, cfg.Sync.RefreshInterval, log)

	h := handlers.New(coord, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(authService))

		r.Get("/items", h.ListItems)
		r.Post("/items", h.CreateItem)
		r.Get("/items/{itemID}", h.GetItem)
		r.Delete("/items/{itemID}", h.DeleteItem)
		r.Post("/items/{itemID}/messages", h.AddMessage)
		r.Get("/lookup", h.Lookup)
		r.Get("/status", h.Status)
		r.Post("/refresh", h.Refresh)
		r.Get("/templates", h.Templates)
		r.Put("/templates", h.UpdateTemplates)
	})

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down")
		refresher.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Str("env", cfg.Server.Env).Msg("memotag server starting")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

// buildAuth wires the configured verification mode: a Firebase auth
// client, locally issued device tokens, or nothing (open API).
func buildAuth(cfg *config.Config) (*auth.Service, error) {
	var fb *fbauth.Client
	if cfg.Auth.UseFirebase {
		var opts []option.ClientOption
		if cfg.Firestore.CredentialsPath != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firestore.CredentialsPath))
		}
		app, err := firebase.NewApp(context.Background(), &firebase.Config{ProjectID: cfg.Firestore.ProjectID}, opts...)
		if err != nil {
			return nil, fmt.Errorf("create firebase app: %w", err)
		}
		fb, err = app.Auth(context.Background())
		if err != nil {
			return nil, fmt.Errorf("create firebase auth client: %w", err)
		}
	}
	return auth.New(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL, fb), nil
}
