package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/config"
	"github.com/mediclo/mediclo/internal/domain/identity"
	"github.com/mediclo/mediclo/internal/platform/db"
	"github.com/mediclo/mediclo/internal/platform/docstore"
	"github.com/mediclo/mediclo/internal/platform/notification"
	"github.com/mediclo/mediclo/internal/platform/objectstore"
)

// backends are the stores and sinks selected by configuration.
type backends struct {
	docs     docstore.Store
	objects  objectstore.Store
	sessions identity.SessionRepository
	events   notification.Publisher
	dbHealth echo.HandlerFunc

	closers []func()
}

// Close releases backends in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	switch cfg.DocstoreDriver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.docs = docstore.NewPGStore(pool)
		b.dbHealth = db.HealthHandler(db.PoolPinger(pool))
		logger.Info().Msg("connected to postgres docstore")
	case "sqlite":
		lite, err := docstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { lite.Close() })
		b.docs = lite
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite docstore")
	default:
		b.docs = docstore.NewMemoryStore()
		logger.Warn().Msg("using in-memory docstore; data is lost on exit")
	}

	switch cfg.ObjectStoreDriver {
	case "s3":
		s3, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			URLTTL:    cfg.S3URLTTL,
		})
		if err != nil {
			return nil, err
		}
		b.objects = s3
	default:
		b.objects = objectstore.NewMemoryStore(cfg.ObjectStorePublicURL)
	}

	if cfg.SessionDriver == "redis" {
		client, err := identity.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Close() })
		b.sessions = identity.NewRedisSessionRepo(client)
	} else {
		b.sessions = identity.NewDocstoreSessionRepo(b.docs)
	}

	if cfg.MQTTBroker != "" {
		pub, err := notification.NewMQTTPublisher(notification.MQTTConfig{Broker: cfg.MQTTBroker, ClientID: cfg.MQTTClientID})
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		b.closers = append(b.closers, pub.Close)
		b.events = pub
	} else {
		b.events = notification.NewLogPublisher(logger)
	}
	return b, nil
}
