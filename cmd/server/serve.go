package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/seoforge/backend/internal/handler"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			if err := st.migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("driver", cfg.StoreDriver).Msg("Store connected & migrated")

			generator, err := newGenerator(ctx, cfg)
			if err != nil {
				return err
			}
			gateway, verifier := newPayments(cfg)

			a := newApp(cfg, deps{
				accounts:  st.accounts,
				articles:  st.articles,
				extractor: newScraper(cfg),
				generator: generator,
				gateway:   gateway,
				verifier:  verifier,
				health:    map[string]handler.Pinger{"database": st.health},
			})

			if err := a.auth.SeedAdmin(ctx); err != nil {
				return fmt.Errorf("seed admin: %w", err)
			}

			server := &http.Server{
				Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Port),
				Handler:           newRouter(ctx, a),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				// Generation waits on the LLM.
				WriteTimeout: cfg.LLMTimeout + cfg.ScraperTimeout + 30*time.Second,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
