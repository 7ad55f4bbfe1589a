package servecmder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/switchboard/pkg/config"
	"github.com/papercomputeco/switchboard/pkg/credentials"
	credinmemory "github.com/papercomputeco/switchboard/pkg/credentials/inmemory"
	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/eventstream/kafka"
	"github.com/papercomputeco/switchboard/pkg/eventstream/nop"
	"github.com/papercomputeco/switchboard/pkg/storage"
	"github.com/papercomputeco/switchboard/pkg/storage/inmemory"
	"github.com/papercomputeco/switchboard/pkg/storage/mysql"
	"github.com/papercomputeco/switchboard/pkg/storage/postgres"
	"github.com/papercomputeco/switchboard/pkg/storage/sqlite"
)

// stores pairs the interaction store with the credential store. The SQL
// drivers serve as both.
type stores struct {
	driver storage.Driver
	creds  credentials.Store
}

func (s *stores) Close() error {
	err := s.driver.Close()
	if any(s.creds) != any(s.driver) {
		err = errors.Join(err, s.creds.Close())
	}
	return err
}

func openStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*stores, error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Info("using in-memory storage")
		return &stores{driver: inmemory.NewDriver(), creds: credinmemory.NewStore()}, nil

	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		driver, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", path))
		return &stores{driver: driver, creds: driver}, nil

	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("storage.dsn is required for the postgres store")
		}
		driver, err := postgres.NewDriver(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL store: %w", err)
		}
		logger.Info("using PostgreSQL storage")
		return &stores{driver: driver, creds: driver}, nil

	case "mysql":
		if cfg.DSN == "" {
			return nil, errors.New("storage.dsn is required for the mysql store")
		}
		driver, err := mysql.NewDriver(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create MySQL store: %w", err)
		}
		logger.Info("using MySQL storage")
		return &stores{driver: driver, creds: driver}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q (memory, sqlite, postgres, mysql)", cfg.Driver)
	}
}

// seedProviders writes every provider declared in cfg to the store. Stored
// providers that are no longer declared are deactivated rather than deleted
// so their recorded interactions keep a resolvable provider.
func seedProviders(ctx context.Context, store credentials.ProviderStore, cfg *config.Config) error {
	declared, err := cfg.ProviderConfigs()
	if err != nil {
		return fmt.Errorf("invalid providers: %w", err)
	}

	ids := make(map[string]bool, len(declared))
	for _, p := range declared {
		ids[p.ID] = true
	}

	existing, err := store.ListProviders(ctx)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if ids[p.ID] || !p.Active {
			continue
		}
		p.Active = false
		p.Default = false
		if err := store.SaveProvider(ctx, p); err != nil {
			return err
		}
	}

	for _, p := range declared {
		if err := store.SaveProvider(ctx, p); err != nil {
			return err
		}
	}

	return nil
}

func newPublisher(cfg config.EventStreamConfig, logger *zap.Logger) (eventstream.Publisher, error) {
	switch cfg.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil

	case "kafka":
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		logger.Info("publishing interaction events to kafka",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic),
		)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown event stream provider %q (nop, kafka)", cfg.Provider)
	}
}
