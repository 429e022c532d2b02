// inkling-watch follows one principal's notes: it exchanges an identity
// credential for a backend token, runs the sync controller, and logs every
// refresh. Useful for watching change propagation against a live server.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inklingapp/inkling-server/client"
	"github.com/inklingapp/inkling-server/internal/logging"
)

func main() {
	var (
		baseURL         string
		credential      string
		token           string
		logLevel        string
		fallbackSeconds int
		backoffBaseMS   int
		backoffCapSec   int
		maxAttempts     int
		includeArchived bool
	)

	rootCmd := &cobra.Command{
		Use:   "inkling-watch",
		Short: "Follow a principal's notes over the push stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			apiClient, err := client.New(client.Config{BaseURL: baseURL, Token: token})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if credential != "" {
				grant, err := apiClient.ExchangeToken(ctx, credential)
				if err != nil {
					return err
				}
				logger.Info("token exchanged",
					zap.String("user_id", grant.UserID),
					zap.String("display_name", grant.DisplayName))
			}

			controller, err := client.NewController(client.ControllerConfig{
				Client:               apiClient,
				IncludeArchived:      includeArchived,
				FallbackInterval:     time.Duration(fallbackSeconds) * time.Second,
				BackoffBase:          time.Duration(backoffBaseMS) * time.Millisecond,
				BackoffCap:           time.Duration(backoffCapSec) * time.Second,
				MaxReconnectAttempts: maxAttempts,
				Logger:               logging.ForComponent(logger, "sync"),
				OnNotes: func(fetched []client.Note) {
					logger.Info("notes refreshed", zap.Int("count", len(fetched)))
					for _, note := range fetched {
						logger.Debug("note",
							zap.String("note_id", note.NoteID),
							zap.String("title", note.Title),
							zap.Bool("pinned", note.Pinned),
							zap.String("last_modified_by", note.LastModifiedBy))
					}
				},
			})
			if err != nil {
				return err
			}

			if err := controller.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			controller.Stop()
			return nil
		},
	}

	rootCmd.Flags().StringVar(&baseURL, "server", "http://localhost:8080", "Inkling server base URL")
	rootCmd.Flags().StringVar(&credential, "credential", "", "Identity credential to exchange for a backend token")
	rootCmd.Flags().StringVar(&token, "token", "", "Backend bearer token (skips the exchange)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().IntVar(&fallbackSeconds, "fallback-seconds", 30, "Fallback poll interval in seconds")
	rootCmd.Flags().IntVar(&backoffBaseMS, "backoff-base-ms", 1000, "Reconnect backoff base in milliseconds")
	rootCmd.Flags().IntVar(&backoffCapSec, "backoff-cap-seconds", 60, "Reconnect backoff ceiling in seconds")
	rootCmd.Flags().IntVar(&maxAttempts, "max-reconnect-attempts", 6, "Reconnect attempts before relying on the fallback poll")
	rootCmd.Flags().BoolVar(&includeArchived, "include-archived", false, "Include archived notes in refreshes")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
