package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/intelliparse/internal/api"
	"github.com/timmy/intelliparse/internal/logger"
)

const defaultSecret = "dev_secret"

func newRootCommand() *cobra.Command {
	var (
		port   int
		secret string
		mode   string
	)

	cmd := &cobra.Command{
		Use:           "webhook-receiver",
		Short:         "Receive and verify intelliparse job webhooks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("secret") {
				if env := os.Getenv("IP_SECRET_KEY"); env != "" {
					secret = env
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, port, secret, mode)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 9000, "Port to listen on")
	cmd.Flags().StringVar(&secret, "secret", defaultSecret, "Shared webhook secret (defaults to $IP_SECRET_KEY)")
	cmd.Flags().StringVar(&mode, "mode", "release", "Gin mode: debug, release or test")

	return cmd
}

func serve(ctx context.Context, port int, secret, mode string) error {
	log := logger.NewDefault().WithField(logger.FieldComponent, "webhook-receiver")
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.SetupReceiverRouter(secret, log, mode),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", port).Info("Webhook receiver listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
