package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/warden-ai/warden/internal/config"
	"github.com/warden-ai/warden/internal/credentials"
	"github.com/warden-ai/warden/internal/interaction"
	"github.com/warden-ai/warden/internal/pricing"
	"github.com/warden-ai/warden/internal/quarantine"
	"github.com/warden-ai/warden/internal/server"
	"github.com/warden-ai/warden/internal/trust"
)

var (
	servePort      int
	serveGlobalRPM int
	serveTenantRPM int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the warden server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().IntVar(&serveGlobalRPM, "global-rpm", 600, "global requests per minute (0 disables limiting)")
	serveCmd.Flags().IntVar(&serveTenantRPM, "tenant-rpm", 120, "per-tenant requests per minute")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys reads WARDEN_API_KEYS: comma-separated entries, each a key
// or key:tenant_id. Bare keys map to the "default" tenant.
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tenantID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			tenantID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = tenantID
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	pol, err := trust.LoadPolicy(ctx, cfg.TrustPolicyPath)
	if err != nil {
		return fmt.Errorf("loading trust policy: %w", err)
	}
	engine, err := trust.NewEngine(ctx, pol)
	if err != nil {
		return fmt.Errorf("trust engine: %w", err)
	}

	quarantineStore, err := quarantine.NewStore(cfg.QuarantineDBPath())
	if err != nil {
		return fmt.Errorf("initializing quarantine store: %w", err)
	}
	defer quarantineStore.Close()

	pricingStore, err := pricing.NewStore(cfg.PricingDBPath())
	if err != nil {
		return fmt.Errorf("initializing pricing store: %w", err)
	}
	defer pricingStore.Close()

	interactionStore, err := interaction.NewStore(cfg.InteractionDBPath(), cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("initializing interaction store: %w", err)
	}
	defer interactionStore.Close()

	vault, err := credentials.NewVault(cfg.CredentialsDBPath(), cfg.SecretsKey)
	if err != nil {
		return fmt.Errorf("initializing credentials vault: %w", err)
	}
	defer vault.Close()

	syncer := pricing.NewSyncer(pricingStore, cfg.CatalogURL)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CatalogSchedule, func() {
		syncCtx, cancel := context.WithTimeout(context.Background(), pricing.TimeoutCatalogFetch)
		defer cancel()
		if _, err := syncer.Sync(syncCtx); err != nil {
			log.Error().Err(err).Msg("pricing_sync_failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduling pricing sync (%q): %w", cfg.CatalogSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	opts := []server.Option{
		server.WithIsolation(cfg.IsolationEnabled, cfg.OnFailure, cfg.PrivilegedModel, cfg.QuarantineModel),
		server.WithSyncer(syncer),
	}
	if serveGlobalRPM > 0 {
		opts = append(opts, server.WithRateLimiter(server.NewRateLimiter(serveGlobalRPM, serveTenantRPM)))
	}

	srv := server.NewServer(
		engine,
		quarantineStore,
		pricingStore,
		interactionStore,
		vault,
		parseAPIKeys(os.Getenv("WARDEN_API_KEYS")),
		opts...,
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", servePort).
			Bool("isolation_enabled", cfg.IsolationEnabled).
			Str("on_failure", cfg.OnFailure).
			Msg("server_started")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
	}
	return nil
}
