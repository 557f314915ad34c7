package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopbot/internal/capability"
	"shopbot/internal/config"
	"shopbot/internal/delivery"
	"shopbot/internal/dispatch"
	"shopbot/internal/ingest"
	"shopbot/internal/ops"
	"shopbot/internal/payment"
	"shopbot/internal/platform"
	"shopbot/internal/provider"
	"shopbot/internal/router"
	"shopbot/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "shopbot",
		Short: "shopbot: message routing and dispatch engine for social commerce",
		Long:  "shopbot receives Messenger and Telegram messages for small online shops,\nroutes them to specialized capabilities and replies on the same channel.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.shopbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and dispatch engine",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	messenger := platform.NewMessenger(platform.MessengerConfig{
		APIBase: cfg.Meta.GraphAPI,
		Logger:  logger,
	})
	var resolver *platform.Resolver
	if cfg.Telegram.Enabled {
		resolver = platform.NewResolver(messenger, platform.NewTelegram(logger))
	} else {
		resolver = platform.NewResolver(messenger)
	}

	sender := delivery.NewService(delivery.Config{
		Store:     st,
		Connector: resolver,
		Logger:    logger,
	})

	model := provider.NewGemini(provider.GeminiConfig{
		APIKey:      cfg.Provider.APIKey,
		APIBase:     cfg.Provider.APIBase,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
		Timeout:     time.Duration(cfg.Provider.TimeoutSec) * time.Second,
		Logger:      logger,
	})
	contract := provider.NewContract()

	profiles := capability.DefaultProfiles()
	if cfg.General.ProfileDir != "" {
		if err := profiles.LoadOverrides(cfg.General.ProfileDir, logger); err != nil {
			logger.Warn("profile overrides not loaded", "dir", cfg.General.ProfileDir, "err", err)
		}
	}

	links := payment.NewStripe(payment.StripeConfig{
		APIBase: cfg.Payment.APIBase,
		Key:     cfg.Payment.StripeKey,
		Logger:  logger,
	})

	registry := capability.NewRegistry(
		capability.NewGeneral(capability.GeneralConfig{
			Provider: model, Contract: contract, Sender: sender, Profiles: profiles, Logger: logger,
		}),
		capability.NewProductSuggestion(capability.ProductSuggestionConfig{
			Provider: model, Contract: contract, Catalog: st, Sender: sender, Profiles: profiles, Logger: logger,
		}),
		capability.NewOrderTaking(capability.OrderTakingConfig{
			Provider: model, Contract: contract, Catalog: st, Orders: st, Sender: sender, Profiles: profiles, Logger: logger,
		}),
		capability.NewPayment(capability.PaymentConfig{
			Provider: model, Contract: contract, Orders: st, Links: links, Sender: sender, Profiles: profiles, Logger: logger,
		}),
	)

	dispatcher := dispatch.New(dispatch.Config{
		Registry:   registry,
		BufferSize: cfg.Dispatch.BufferSize,
		Workers:    cfg.Dispatch.Workers,
		Timeout:    time.Duration(cfg.Dispatch.TimeoutSec) * time.Second,
		Logger:     logger,
	})
	go dispatcher.Run(ctx)

	superAgent := router.New(router.Config{
		Provider: model,
		Contract: contract,
		Logger:   logger,
	})

	debouncer := ingest.NewDebouncer(time.Duration(cfg.Server.DebounceMs) * time.Millisecond)

	controller := ingest.NewController(ingest.ControllerConfig{
		Store:        st,
		Resolver:     resolver,
		Router:       superAgent,
		Dispatcher:   dispatcher,
		Debouncer:    debouncer,
		VerifyToken:  cfg.Meta.VerifyToken,
		AppSecret:    cfg.Meta.AppSecret,
		RouteTimeout: time.Duration(cfg.Dispatch.TimeoutSec) * time.Second,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	controller.Register(mux, cfg.Server.WebhookPath)
	ops.NewAPI(st, sender, links, logger).Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", srv.Addr, "webhook", cfg.Server.WebhookPath, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}
	debouncer.Close()
	dispatcher.Close()
	logger.Info("shutdown complete")
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("provider", "model", cfg.Provider.Model, "keySet", cfg.Provider.APIKey != "")
			logger.Info("meta", "verifyTokenSet", cfg.Meta.VerifyToken != "", "appSecretSet", cfg.Meta.AppSecret != "")
			logger.Info("payment", "stripeKeySet", cfg.Payment.StripeKey != "")

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				logger.Info("store", "path", cfg.Store.DBPath, "open", false, "err", err)
				return nil
			}
			defer st.Close()
			logger.Info("store", "path", cfg.Store.DBPath, "open", true)
			return nil
		},
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
