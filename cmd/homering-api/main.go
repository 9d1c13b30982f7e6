package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/config"
	"github.com/Gokul-madhav/home-ring/internal/reaper"
	"github.com/Gokul-madhav/home-ring/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "homering-api",
		Short: "Doorbell call-session backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Repair divergence between doors and owner doorbell indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql)")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	flags.String("rtc-provider", defaults.GetString("rtc.provider"), "Credential signer (jwt, trtc)")
	flags.String("rtc-app-id", "", "Media provider application id (overrides env)")
	flags.String("rtc-app-secret", "", "Media provider signing secret (overrides env)")
	flags.String("mqtt-broker-url", defaults.GetString("push.mqtt.broker_url"), "MQTT broker for push delivery; empty logs invites instead")
	flags.String("redis-address", defaults.GetString("lock.redis.address"), "Redis address for cross-process locks; empty uses in-process locks")
	flags.Duration("reaper-interval", defaults.GetDuration("reaper.interval"), "Stale call sweep interval")
	flags.Duration("reaper-stale-after", defaults.GetDuration("reaper.stale_after"), "Age after which open calls are force-ended")
	flags.String("visit-base-url", defaults.GetString("visit.base_url"), "Base URL of the visitor page")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "rtc.provider", "rtc-provider")
	bindFlag(cmd, "rtc.app_id", "rtc-app-id")
	bindFlag(cmd, "rtc.app_secret", "rtc-app-secret")
	bindFlag(cmd, "push.mqtt.broker_url", "mqtt-broker-url")
	bindFlag(cmd, "lock.redis.address", "redis-address")
	bindFlag(cmd, "reaper.interval", "reaper-interval")
	bindFlag(cmd, "reaper.stale_after", "reaper-stale-after")
	bindFlag(cmd, "visit.base_url", "visit-base-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

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

	app, err := newApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	if report, err := app.doors.Reconcile(ctx); err != nil {
		logger.Warn("startup reconciliation failed", zap.Error(err))
	} else {
		logReconcileReport(logger, report.IndexCreated, report.IndexRepaired, report.IndexRemoved)
	}

	realtime := server.NewRealtimeDispatcher()
	callService, err := app.newCallService(realtime)
	if err != nil {
		return err
	}

	callReaper, err := reaper.New(reaper.Config{
		Sweeper:    callService,
		Interval:   appConfig.ReaperInterval,
		StaleAfter: appConfig.ReaperStaleAfter,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Doors:    app.doors,
		Devices:  app.devices,
		Push:     app.registry,
		Calls:    callService,
		Realtime: realtime,
		Logger:   logger,
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

	callReaper.Start(signalCtx)
	defer callReaper.Stop()

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

func runReconcile(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	app, err := newApplication(ctx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.doors.Reconcile(ctx)
	if err != nil {
		return err
	}
	logReconcileReport(app.logger, report.IndexCreated, report.IndexRepaired, report.IndexRemoved)
	return nil
}

func logReconcileReport(logger *zap.Logger, created, repaired, removed int) {
	logger.Info("door index reconciled",
		zap.Int("created", created),
		zap.Int("repaired", repaired),
		zap.Int("removed", removed))
}
