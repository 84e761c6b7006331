package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/frenchtutor/internal/httpapi"
	"github.com/ent0n29/frenchtutor/internal/keystore"
	"github.com/ent0n29/frenchtutor/internal/observability"
	"github.com/ent0n29/frenchtutor/internal/session"
	"github.com/ent0n29/frenchtutor/internal/tutor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tutor HTTP and WebSocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := keystore.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("key store init failed: %w", err)
	}
	defer store.Close()
	keys := keystore.NewResolver(cfg.OpenAIAPIKey, store)

	brain, err := tutor.NewBrain(cfg.TutorBrain, cfg.OpenAIBaseURL)
	if err != nil {
		return err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.ObserveSession("expired", sessions.ActiveCount())
		logger.Info().Str("session_id", s.ID).Msg("session expired")
	})

	orchestrator := tutor.NewOrchestrator(sessions, brain, keys, metrics, tutor.OrchestratorConfig{
		Language:      cfg.DefaultLanguage,
		ChunkLimit:    cfg.SpeechChunkLimit,
		NoSpeechGrace: cfg.SpeechNoSpeechGrace,
		StartDelay:    cfg.SpeechStartDelay,
		Model:         cfg.OpenAIModel,
		Temperature:   cfg.ChatTemperature,
		MaxTokens:     cfg.ChatMaxTokens,
	}, logger)

	api := httpapi.New(cfg, sessions, orchestrator, keys, metrics, logger)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sessions.StartJanitor(ctx, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.BindAddr).
			Str("brain", cfg.TutorBrain).
			Str("key_store", keystore.Mode(store)).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
