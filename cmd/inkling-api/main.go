package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inklingapp/inkling-server/internal/auth"
	"github.com/inklingapp/inkling-server/internal/config"
	"github.com/inklingapp/inkling-server/internal/database"
	"github.com/inklingapp/inkling-server/internal/logging"
	"github.com/inklingapp/inkling-server/internal/notes"
	"github.com/inklingapp/inkling-server/internal/push"
	"github.com/inklingapp/inkling-server/internal/ratelimit"
	"github.com/inklingapp/inkling-server/internal/server"
	"github.com/inklingapp/inkling-server/internal/users"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkling-api",
		Short: "Inkling shared-note synchronization service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().Int("pulse-interval-seconds", defaults.GetInt("push.pulse_interval_seconds"), "Push stream liveness pulse interval in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend token signing secret (overrides env)")
	cmd.PersistentFlags().String("identity-secret", "", "Identity token verification secret (overrides env)")
	cmd.PersistentFlags().String("identity-issuer", defaults.GetString("auth.identity_issuer"), "Expected identity token issuer")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "push.pulse_interval_seconds", "pulse-interval-seconds")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.identity_secret", "identity-secret")
	bindFlag(cmd, "auth.identity_issuer", "identity-issuer")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "inkling-auth",
		Audience:      "inkling-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityVerifier := auth.NewIdentityTokenVerifier(auth.IdentityTokenVerifierConfig{
		Secret: []byte(appConfig.IdentitySecret),
		Issuer: appConfig.IdentityIssuer,
	})

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Directory:  usersService,
		Logger:     logging.ForComponent(logger, "notes"),
	})
	if err != nil {
		return err
	}

	registry := push.NewRegistry()
	defer registry.CloseAll()
	broadcaster := push.NewBroadcaster(notesService, registry, logging.ForComponent(logger, "push"))

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:      identityVerifier,
		TokenManager:  tokenManager,
		UsersService:  usersService,
		NotesService:  notesService,
		Registry:      registry,
		Broadcaster:   broadcaster,
		AuthLimiter:   ratelimit.NewKeyedLimiter(appConfig.AuthRatePerSecond, appConfig.AuthRateBurst),
		StreamLimiter: ratelimit.NewKeyedLimiter(appConfig.StreamRatePerSecond, appConfig.StreamRateBurst),
		PulseInterval: appConfig.PulseInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
