package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/cursors"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/chat-sync/internal/repo/snapshot"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
	"github.com/nguyentranbao-ct/chat-sync/internal/stream"
	"go.uber.org/fx"
)

// newMongoDB connects only when a component needs the database; the sync
// core itself runs entirely in memory.
func newMongoDB(lc fx.Lifecycle, conf *config.Config) (*mongodb.DB, error) {
	if conf.Snapshot.Driver != "mongo" && !conf.Snapshot.MirrorWrite {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := mongodb.NewConnection(ctx, conf.Database.URI, conf.Database.Database)
	if err != nil {
		return nil, fmt.Errorf("init mongo client: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return mongodb.EnsureIndexes(ctx, db)
		},
		OnStop: func(ctx context.Context) error {
			return db.Close(ctx)
		},
	})

	return db, nil
}

func newTransport(lc fx.Lifecycle, conf *config.Config) (stream.Transport, error) {
	switch conf.Stream.Driver {
	case "", "memory":
		return stream.NewMemoryTransport(), nil
	case "kafka":
		return stream.NewKafkaTransport(conf), nil
	case "nats":
		nc, err := nats.Connect(conf.Nats.URL, nats.Name("chat-sync"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream context: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return nc.Drain()
			},
		})
		return stream.NewNatsTransport(js), nil
	default:
		return nil, fmt.Errorf("unknown stream driver %q", conf.Stream.Driver)
	}
}

func newCursorStore(conf *config.Config) (stream.CursorStore, error) {
	if conf.Redis.Enabled {
		return cursors.NewRedisStore(conf)
	}
	return stream.NewMemoryCursorStore(), nil
}

func newSnapshotSource(conf *config.Config, db *mongodb.DB) (snapshot.Source, error) {
	switch conf.Snapshot.Driver {
	case "mongo":
		if db == nil {
			return nil, fmt.Errorf("mongo snapshot source requires a database connection")
		}
		dbc := db.GetDatabase()
		return mongodb.NewSnapshotSource(
			mongodb.NewTeamsRepo(dbc),
			mongodb.NewProjectsRepo(dbc),
			mongodb.NewMessagesRepo(dbc),
		), nil
	case "http":
		return snapshot.NewHTTPSource(conf)
	case "", "none":
		return snapshot.Disabled(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", conf.Snapshot.Driver)
	}
}

func newMirror(conf *config.Config, db *mongodb.DB) (mongodb.Mirror, error) {
	if !conf.Snapshot.MirrorWrite {
		return mongodb.NewNoopMirror(), nil
	}
	if db == nil {
		return nil, fmt.Errorf("snapshot mirror requires a database connection")
	}

	dbc := db.GetDatabase()
	return mongodb.NewMirror(conf,
		mongodb.NewTeamsRepo(dbc),
		mongodb.NewProjectsRepo(dbc),
		mongodb.NewMessagesRepo(dbc),
	)
}

// newSweeper chains the mirror purge behind the in-memory tombstone sweep so
// both copies age out together.
func newSweeper(conf *config.Config, st store.Store, mirror mongodb.Mirror) (store.Sweeper, error) {
	return store.NewRetentionSweeper(conf, st, mirror.Purge)
}
