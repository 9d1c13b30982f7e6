package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/calls"
	"github.com/Gokul-madhav/home-ring/internal/config"
	"github.com/Gokul-madhav/home-ring/internal/credentials"
	"github.com/Gokul-madhav/home-ring/internal/database"
	"github.com/Gokul-madhav/home-ring/internal/devices"
	"github.com/Gokul-madhav/home-ring/internal/doors"
	"github.com/Gokul-madhav/home-ring/internal/ids"
	"github.com/Gokul-madhav/home-ring/internal/locks"
	"github.com/Gokul-madhav/home-ring/internal/logging"
	"github.com/Gokul-madhav/home-ring/internal/push"
	"github.com/Gokul-madhav/home-ring/internal/store"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// application holds the long-lived dependencies shared by every command.
type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	store    store.Store
	locker   locks.Locker
	issuer   *credentials.Issuer
	doors    *doors.Service
	devices  *devices.Service
	registry *push.Registry
	notifier *push.Dispatcher

	closers []func()
}

func newApplication(ctx context.Context, appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	app := &application{config: appConfig, logger: logger}
	app.closers = append(app.closers, func() { _ = logger.Sync() })

	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) init(ctx context.Context) error {
	db, err := database.Open(ctx, a.config.DatabaseDriver, a.config.DatabaseDSN, a.logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = sqlDB.Close() })

	nodeStore, err := store.New(store.Config{Database: db, Logger: a.logger})
	if err != nil {
		return err
	}
	a.store = nodeStore

	a.locker, err = a.buildLocker(ctx)
	if err != nil {
		return err
	}

	signer, err := buildSigner(a.config)
	if err != nil {
		return fmt.Errorf("credential signer misconfigured: %w", err)
	}
	a.issuer, err = credentials.NewIssuer(credentials.IssuerConfig{
		Signer: signer,
		AppID:  a.config.RTCAppID,
	})
	if err != nil {
		return fmt.Errorf("credential issuer misconfigured: %w", err)
	}

	a.doors, err = doors.NewService(doors.ServiceConfig{
		Store:        nodeStore,
		IDProvider:   ids.NewRandomProvider(),
		VisitBaseURL: a.config.VisitBaseURL,
		Clock:        time.Now,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}
	a.devices, err = devices.NewService(devices.ServiceConfig{
		Store:  nodeStore,
		Locker: a.locker,
		Clock:  time.Now,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	a.registry, err = push.NewRegistry(push.RegistryConfig{Store: nodeStore, Clock: time.Now, Logger: a.logger})
	if err != nil {
		return err
	}

	sender, err := a.buildSender()
	if err != nil {
		return err
	}
	a.notifier, err = push.NewDispatcher(push.DispatcherConfig{Registry: a.registry, Sender: sender, Logger: a.logger})
	return err
}

func (a *application) newCallService(events calls.EventPublisher) (*calls.Service, error) {
	return calls.NewService(calls.ServiceConfig{
		Store:      a.store,
		Presence:   a.devices,
		Tokens:     a.registry,
		Notifier:   a.notifier,
		Issuer:     a.issuer,
		Events:     events,
		Locker:     a.locker,
		IDProvider: ids.NewTimeOrderedProvider(),
		Clock:      time.Now,
		Logger:     a.logger,
	})
}

func (a *application) buildLocker(ctx context.Context) (locks.Locker, error) {
	if a.config.RedisAddress == "" {
		return locks.NewKeyedMutex(), nil
	}
	client := locks.NewRedisClient(a.config.RedisAddress, a.config.RedisPassword, a.config.RedisDB)
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := pingRedis(ctx, client); err != nil {
		return nil, fmt.Errorf("redis %s unreachable: %w", a.config.RedisAddress, err)
	}
	a.logger.Info("using redis locks", zap.String("address", a.config.RedisAddress))
	return locks.NewRedisLocker(locks.RedisConfig{Client: client, Logger: a.logger})
}

func (a *application) buildSender() (push.Sender, error) {
	if a.config.MQTTBrokerURL == "" {
		a.logger.Warn("no mqtt broker configured, call invites will only be logged")
		return push.NewLogSender(a.logger), nil
	}
	sender, err := push.NewMQTTSender(push.MQTTConfig{
		BrokerURL:   a.config.MQTTBrokerURL,
		ClientID:    a.config.MQTTClientID,
		Username:    a.config.MQTTUsername,
		Password:    a.config.MQTTPassword,
		TopicPrefix: a.config.MQTTTopicPrefix,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sender.Close)
	return sender, nil
}

func buildSigner(appConfig config.AppConfig) (credentials.Signer, error) {
	switch appConfig.RTCProvider {
	case "trtc":
		return credentials.NewTRTCSigner(appConfig.RTCAppID, appConfig.RTCAppSecret)
	default:
		return credentials.NewJWTSigner(appConfig.RTCAppID, appConfig.RTCAppSecret)
	}
}

func pingRedis(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}

// Close releases resources in reverse acquisition order.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
