package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/strivelabs/strive/internal/activities"
	"github.com/strivelabs/strive/internal/auth"
	"github.com/strivelabs/strive/internal/config"
	"github.com/strivelabs/strive/internal/database"
	"github.com/strivelabs/strive/internal/email"
	"github.com/strivelabs/strive/internal/feed"
	"github.com/strivelabs/strive/internal/gratitude"
	"github.com/strivelabs/strive/internal/leaderboard"
	"github.com/strivelabs/strive/internal/logging"
	"github.com/strivelabs/strive/internal/notifications"
	"github.com/strivelabs/strive/internal/profiles"
	"github.com/strivelabs/strive/internal/reminder"
	"github.com/strivelabs/strive/internal/server"
	"github.com/strivelabs/strive/internal/storage"
	"github.com/strivelabs/strive/internal/wrapped"
)

var (
	cfgFile     string
	wrappedUser string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "strive-api",
		Short: "Strive activity tracking backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	remindCmd := &cobra.Command{
		Use:   "remind",
		Short: "Send the daily reminder email to every profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReminders(cmd.Context())
		},
	}

	wrappedCmd := &cobra.Command{
		Use:   "wrapped",
		Short: "Generate a user's yearly summary and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrapped(cmd.Context())
		},
	}
	wrappedCmd.Flags().StringVar(&wrappedUser, "user", "", "User ID to summarize")

	setupFlags(rootCmd)
	rootCmd.AddCommand(remindCmd, wrappedCmd)

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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.root"), "Photo storage directory")
	cmd.PersistentFlags().String("app-base-url", defaults.GetString("app.base_url"), "Public base URL used in email links")
	cmd.PersistentFlags().String("email-from", defaults.GetString("email.from_email"), "Sender address for outbound email")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "app.base_url", "app-base-url")
	bindFlag(cmd, "email.from_email", "email-from")
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

// appContext bundles the wired services shared by the server and the batch
// subcommands.
type appContext struct {
	config        config.AppConfig
	logger        *zap.Logger
	db            *gorm.DB
	profiles      *profiles.Service
	activities    *activities.Service
	notifications *notifications.Service
	feed          *feed.Service
	leaderboard   *leaderboard.Service
	wrapped       *wrapped.Generator
	mailer        *email.Mailer
}

func buildApp(ctx context.Context) (*appContext, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		sqlDB.Close() //nolint:errcheck
		logger.Sync() //nolint:errcheck
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	activityService, err := activities.NewService(activities.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: activities.NewUUIDProvider(),
		Profiles:   profileService,
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notifications.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	feedService, err := feed.NewService(feed.ServiceConfig{
		Database:      db,
		Clock:         time.Now,
		IDProvider:    feed.NewUUIDProvider(),
		Notifications: notificationService,
		Logger:        logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	leaderboardService, err := leaderboard.NewService(leaderboard.ServiceConfig{
		Profiles: profileService,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	wrappedGenerator, err := wrapped.NewGenerator(wrapped.GeneratorConfig{
		Activities: activityService,
		Profiles:   profileService,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	mailer, err := email.NewMailer(ctx, email.MailerConfig{
		AWSRegion:  appConfig.AWSRegion,
		FromEmail:  appConfig.EmailFrom,
		FromName:   appConfig.EmailFromName,
		AppBaseURL: appConfig.AppBaseURL,
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &appContext{
		config:        appConfig,
		logger:        logger,
		db:            db,
		profiles:      profileService,
		activities:    activityService,
		notifications: notificationService,
		feed:          feedService,
		leaderboard:   leaderboardService,
		wrapped:       wrappedGenerator,
		mailer:        mailer,
	}, cleanup, nil
}

func runServer(ctx context.Context) error {
	app, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	appConfig := app.config
	logger := app.logger

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "strive-auth",
		Audience:      "strive-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	store, err := storage.NewDiskStore(appConfig.StorageRoot, appConfig.AppBaseURL+appConfig.MediaBasePath, logger)
	if err != nil {
		return err
	}
	uploader := storage.NewUploader(storage.UploaderConfig{
		Store: store,
		Policy: storage.RetryPolicy{
			MaxAttempts:  appConfig.UploadMaxAttempts,
			InitialDelay: appConfig.UploadInitialDelay,
			Multiplier:   appConfig.UploadMultiplier,
		},
		Logger: logger,
	})

	var gratitudeService *gratitude.Service
	if appConfig.GratitudeEndpoint != "" {
		gratitudeService, err = gratitude.NewService(gratitude.ServiceConfig{
			Endpoint: appConfig.GratitudeEndpoint,
			APIKey:   appConfig.GratitudeAPIKey,
			Model:    appConfig.GratitudeModel,
			Profiles: app.profiles,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		Activities:    app.activities,
		Feed:          app.feed,
		Leaderboard:   app.leaderboard,
		Profiles:      app.profiles,
		Notifications: app.notifications,
		Wrapped:       app.wrapped,
		Gratitude:     gratitudeService,
		Mailer:        app.mailer,
		Uploader:      uploader,
		MediaBasePath: appConfig.MediaBasePath,
		MediaRoot:     appConfig.StorageRoot,
		Realtime:      server.NewRealtimeDispatcher(),
		Clock:         time.Now,
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

func runReminders(ctx context.Context) error {
	app, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	batch, err := reminder.NewBatch(reminder.BatchConfig{
		Profiles: app.profiles,
		Sender:   app.mailer,
		Logger:   app.logger,
	})
	if err != nil {
		return err
	}

	result, err := batch.Run(ctx)
	if err != nil {
		return err
	}
	app.logger.Info("reminder batch finished",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return nil
}

func runWrapped(ctx context.Context) error {
	app, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	userID, err := activities.NewUserID(wrappedUser)
	if err != nil {
		return fmt.Errorf("--user is required: %w", err)
	}

	summary, err := app.wrapped.Generate(ctx, userID)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
