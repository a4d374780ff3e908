package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agora/api/internal/app"
	"agora/api/internal/config"
	"agora/api/internal/email"
	"agora/api/internal/logging"
	"agora/api/internal/search"
	"agora/api/internal/session"
	"agora/api/internal/store"
	"agora/api/internal/upload"
	"github.com/spf13/cobra"
)

const denylistPurgeInterval = 10 * time.Minute

var RootCommand = &cobra.Command{
	Use:   "agora",
	Short: "Run the Agora forum API",
	Run: func(cmd *cobra.Command, args []string) {
		defer logging.LogPanics(nil)
		if err := serve(); err != nil {
			logging.Fatal().Err(err).Msg("server failed")
		}
	},
}

func main() {
	if err := RootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// mustSetup loads the config, configures logging and opens the database.
// Migrations run when forced or enabled by AGORA_MIGRATIONS.
func mustSetup(ctx context.Context, forceMigrate bool) (config.Config, *sql.DB) {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("database connection failed")
	}
	if forceMigrate || cfg.RunMigrations {
		if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
			logging.Fatal().Err(err).Msg("migrations failed")
		}
	}
	return cfg, db
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, db := mustSetup(ctx, false)
	defer db.Close()
	pg := store.NewPostgresStore(db)

	var denylist session.Denylist
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		logging.Info().Msg("Using Redis for the token denylist")
		denylist = redisStore
	} else {
		pgDenylist := session.NewPostgresStore(pg)
		purgeDone := pgDenylist.PeriodicallyPurge(ctx, denylistPurgeInterval)
		defer func() {
			stop()
			<-purgeDone
		}()
		logging.Info().Msg("Using PostgreSQL for the token denylist")
		denylist = pgDenylist
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meili, search.NewPgSearch(db), pg)
	defer searchService.Close()
	go func() {
		defer logging.LogPanics(nil)
		searchService.ReindexAllFromPG(ctx)
	}()

	uploads, err := newUploadSink(ctx, cfg)
	if err != nil {
		return err
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		logging.Warn().Msg("SMTP is not configured; approval emails are disabled")
	}

	service := app.New(cfg, pg, denylist, searchService, uploads, mailer)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.Addr).Msg("Serving the Agora API")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newUploadSink(ctx context.Context, cfg config.Config) (upload.Sink, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		logging.Info().Str("dir", cfg.UploadDir).Msg("Storing uploads on disk")
		return upload.NewDiskSink(cfg.UploadDir)
	}
	logging.Info().Str("endpoint", cfg.MinioEndpoint).Str("bucket", cfg.MinioBucket).Msg("Storing uploads in object storage")
	return upload.NewMinioSink(ctx, upload.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
}
