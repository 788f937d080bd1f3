package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/impostor/internal/config"
	"github.com/DoyleJ11/impostor/internal/httpapi"
	"github.com/DoyleJ11/impostor/internal/hub"
	"github.com/DoyleJ11/impostor/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cobra.CheckErr(config.LoadDotEnv())
	cfg := &config.Config{}

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Broadcast relay for impostor game rooms.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	config.RegisterServerFlags(cmd.Flags(), cfg)
	config.BindEnv(cmd.Flags())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(cmd.ExecuteContext(ctx))
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := config.NewLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	h := hub.NewHub(ctx, log.Named("hub"))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, ws.Options{OriginPatterns: cfg.Origins, Log: log.Named("ws")}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		h.Send(context.Background(), hub.ShutdownHub{})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
