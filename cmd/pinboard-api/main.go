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

	"github.com/MarcoPoloResearchLab/pinboard/internal/auth"
	"github.com/MarcoPoloResearchLab/pinboard/internal/config"
	"github.com/MarcoPoloResearchLab/pinboard/internal/database"
	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	"github.com/MarcoPoloResearchLab/pinboard/internal/logging"
	"github.com/MarcoPoloResearchLab/pinboard/internal/markers"
	"github.com/MarcoPoloResearchLab/pinboard/internal/pins"
	"github.com/MarcoPoloResearchLab/pinboard/internal/preferences"
	"github.com/MarcoPoloResearchLab/pinboard/internal/server"
	"github.com/MarcoPoloResearchLab/pinboard/internal/stories"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pinboard-api",
		Short: "Pinboard annotation sync service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newPurgePinsCommand())

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
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for shared preferences and change notifications")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("tauth.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("marker-size", defaults.GetInt("markers.size"), "Marker icon size in pixels")
	cmd.PersistentFlags().String("stories-time-zone", defaults.GetString("stories.time_zone"), "Time zone for story calendar dates")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, "tauth.cookie_name", "cookie-name")
	bindFlag(cmd, "markers.size", "marker-size")
	bindFlag(cmd, "stories.time_zone", "stories-time-zone")
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

// backend holds the storage components shared by every command.
type backend struct {
	store       *documents.Store
	preferences preferences.Store
	pins        *pins.Repository
	closers     []func() error
}

func (b *backend) Close() {
	for index := len(b.closers) - 1; index >= 0; index-- {
		_ = b.closers[index]()
	}
}

func openBackend(appConfig config.AppConfig, logger *zap.Logger) (*backend, error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	result := &backend{closers: []func() error{sqlDB.Close}}

	var feed documents.ChangeFeed
	if appConfig.RedisURL != "" {
		redisStore, err := preferences.NewRedisStore(appConfig.RedisURL)
		if err != nil {
			result.Close()
			return nil, err
		}
		result.closers = append(result.closers, redisStore.Close)
		result.preferences = redisStore
		feed = documents.NewRedisChangeFeed(redisStore.Client(), logger)
		logger.Info("redis enabled for preferences and change notifications")
	} else {
		result.preferences = preferences.NewMemoryStore()
	}

	store, err := documents.NewStore(documents.StoreConfig{
		Database:   db,
		Feed:       feed,
		IDProvider: documents.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		result.Close()
		return nil, err
	}
	result.store = store

	pinRepository, err := pins.NewRepository(pins.RepositoryConfig{
		Gateway:  store.Collection(documents.CollectionPins),
		Icons:    markers.NewSynthesizer(),
		IconSize: appConfig.MarkerSize,
		Logger:   logger,
	})
	if err != nil {
		result.Close()
		return nil, err
	}
	result.pins = pinRepository
	return result, nil
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

	storage, err := openBackend(appConfig, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	storyCollection := storage.store.Collection(documents.CollectionStories)
	storyRepository, err := stories.NewRepository(stories.RepositoryConfig{
		Gateway: storyCollection,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Pins:             storage.pins,
		Stories:          storyRepository,
		StoryFeed:        storyCollection,
		Preferences:      storage.preferences,
		StoriesLocation:  appConfig.StoriesLocation,
		Settings: server.Settings{
			MarkerSize:        appConfig.MarkerSize,
			MarginDegrees:     appConfig.MarginDegrees,
			AnimationDuration: appConfig.AnimationDuration,
		},
		Logger: logger,
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

func newPurgePinsCommand() *cobra.Command {
	var basemap string
	cmd := &cobra.Command{
		Use:   "purge-pins",
		Short: "Delete every pin placed on a basemap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurgePins(cmd.Context(), cmd, basemap)
		},
	}
	cmd.Flags().StringVar(&basemap, "basemap", "", "Basemap tag (defaults to the active basemap preference)")
	return cmd
}

func runPurgePins(ctx context.Context, cmd *cobra.Command, basemap string) error {
	appConfig, err := config.LoadStore(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	storage, err := openBackend(appConfig, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	if basemap == "" {
		active, ok, err := storage.preferences.ActiveBasemapTag(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("no basemap given and no active basemap preference set")
		}
		basemap = active
	}

	removed := storage.pins.RemoveAllForBasemap(ctx, basemap)
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d pins from basemap %s\n", removed, basemap)
	return nil
}
