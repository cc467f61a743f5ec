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

	"github.com/quartzline/docforge/internal/auth"
	"github.com/quartzline/docforge/internal/config"
	"github.com/quartzline/docforge/internal/database"
	"github.com/quartzline/docforge/internal/docs"
	"github.com/quartzline/docforge/internal/docstore"
	"github.com/quartzline/docforge/internal/doctypes"
	"github.com/quartzline/docforge/internal/events"
	"github.com/quartzline/docforge/internal/logging"
	"github.com/quartzline/docforge/internal/server"
	"github.com/quartzline/docforge/internal/syncworker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile      string
	tokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docforge-api",
		Short: "Document mutation engine API server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a caller subject",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(cmd.Context())
		},
	}
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Caller subject to embed in the token")
	rootCmd.AddCommand(tokenCmd)

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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("cache-ttl-ms", defaults.GetInt("cache.ttl_ms"), "Read cache TTL in milliseconds")
	cmd.PersistentFlags().Int("sync-scan-interval-s", defaults.GetInt("sync.scan_interval_s"), "Pending-sync scan interval in seconds")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "cache.ttl_ms", "cache-ttl-ms")
	bindFlag(cmd, "sync.scan_interval_s", "sync-scan-interval-s")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningKey),
		Issuer:        "docforge-auth",
		Audience:      "docforge-api",
		TokenTTL:      appConfig.TokenTTL,
	})
}

func issueToken(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	issuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	token, expiresIn, err := issuer.IssueToken(ctx, tokenSubject)
	if err != nil {
		return err
	}

	fmt.Printf("%s\nexpires_in=%d\n", token, expiresIn)
	return nil
}

func buildRegistry(appConfig config.AppConfig) (*doctypes.Registry, error) {
	registry := doctypes.NewRegistry()
	for _, entry := range appConfig.DocTypes {
		docType, err := doctypes.NewType(entry.Name, doctypes.Policy{
			CanDeleteDocuments:      entry.CanDeleteDocuments,
			CanReplaceDocuments:     entry.CanReplaceDocuments,
			CanFetchWholeCollection: entry.CanFetchWholeCollection,
			MaxOpIDs:                entry.MaxOpIDs,
			MaxDigests:              entry.MaxDigests,
			MintVersionOnEmptyPatch: entry.MintVersionOnEmptyPatch,
		}, entry.ChangeEventFieldNames)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(docType); err != nil {
			return nil, err
		}
	}
	return registry, nil
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

	tokenIssuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(appConfig)
	if err != nil {
		return err
	}

	store, err := docstore.NewGormStore(db)
	if err != nil {
		return err
	}

	dispatcher := events.NewDispatcher()

	docsService, err := docs.NewService(docs.ServiceConfig{
		Store:   store,
		Types:   registry,
		Emitter: dispatcher,
		Cache:   docs.NewRecordCache(appConfig.CacheTTL, time.Now),
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	worker, err := syncworker.NewWorker(syncworker.WorkerConfig{
		Service:      docsService,
		Propagator:   &syncworker.LoggingPropagator{Logger: logger},
		DocTypeNames: registry.Names(),
		ScanInterval: appConfig.SyncScanInterval,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: tokenIssuer,
		DocsService:    docsService,
		Logger:         logger,
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

	go worker.Run(signalCtx)

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
