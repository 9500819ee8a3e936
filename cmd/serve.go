package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"propertyescrow/pkg/auth"
	"propertyescrow/pkg/config"
	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/events"
	"propertyescrow/pkg/metrics"
	"propertyescrow/pkg/notify"
	"propertyescrow/pkg/parties"
	"propertyescrow/pkg/seed"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the escrow HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	partyService := parties.NewPartyService(b.parties)
	hub := events.NewHub(logger.Named("hub"))
	journalWriter := events.NewJournalWriter(b.journal, logger.Named("journal"))
	emitters := escrow.MultiEmitter{hub, journalWriter}

	var notifier *notify.SettlementNotifier
	if cfg.SendGridAPIKey != "" {
		email := notify.NewEmailService(notify.EmailConfig{
			APIKey:      cfg.SendGridAPIKey,
			SenderEmail: cfg.SendGridSenderEmail,
			SenderName:  cfg.SendGridSenderName,
		})
		notifier = notify.NewSettlementNotifier(email, partyService, logger.Named("notify"))
		emitters = append(emitters, notifier)
	} else {
		logger.Info("SENDGRID_API_KEY not set; settlement emails disabled")
	}

	escrowMetrics := metrics.NewEscrowMetrics()
	engine, err := b.newEngine(ctx, logger, escrowMetrics, emitters)
	if err != nil {
		return err
	}

	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		journalWriter.Run(workersCtx)
	}()
	if notifier != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			notifier.Run(workersCtx)
		}()
	}
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	if cfg.SeedFile != "" {
		if b.persistent() {
			logger.Info("SEED_FILE ignored with a database; run the seed command instead", zap.String("path", cfg.SeedFile))
		} else if err := seedFromFile(ctx, cfg.SeedFile, b, engine, partyService, logger); err != nil {
			return err
		}
	}

	authenticator := auth.NewAuthenticator(auth.Config{
		Secret: cfg.AuthSecret,
		Issuer: cfg.AuthIssuer,
		TTL:    cfg.AuthTokenTTL,
	})

	router := newRouter(cfg, logger.Named("http"), routerDeps{
		escrow:        engine,
		registry:      b.registry,
		parties:       partyService,
		hub:           hub,
		journal:       b.journal,
		metrics:       escrowMetrics,
		authenticator: authenticator,
		ping:          b.ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ListenPort(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.EnableTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsConfig
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("escrow API listening",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.EnableTLS),
			zap.String("escrow", engine.Self().Hex()),
			zap.String("registry", engine.Roles().Registry.Hex()))

		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}

func seedFromFile(ctx context.Context, path string, b *backend, engine *escrow.Engine, partyService parties.PartyService, logger *zap.Logger) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	res, err := seed.Seeder{
		Registry: b.registry,
		Engine:   engine,
		Parties:  partyService,
		Logger:   logger.Named("seed"),
	}.Run(ctx, f)
	if err != nil {
		return err
	}
	logger.Info("seed applied", zap.String("path", path), zap.Uint64s("listed", res.Listed))
	return nil
}
