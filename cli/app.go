package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/havenpoint/leasesign/authz"
	"github.com/havenpoint/leasesign/config"
	"github.com/havenpoint/leasesign/docstore"
	"github.com/havenpoint/leasesign/renewal"
	"github.com/havenpoint/leasesign/sign"
)

// app bundles the wired service and its supporting handles for one
// command invocation.
type app struct {
	svc    *renewal.Service
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

// buildApp loads configuration and wires the renewal service against
// the configured database and document store.
func buildApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.LoadAppConfig(configFile)
	if err != nil {
		return nil, err
	}

	logger, err := config.BuildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	if cfg.Database == nil {
		return nil, config.NewConfigError("database", "required section is missing")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	docs, err := docstore.OpenS3(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKeyID,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
		cfg.Storage.Location,
		cfg.Storage.Prefix,
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	store := renewal.NewPgStore(pool)
	gate := authz.NewGate(
		authz.NewMembershipSource(pool),
		authz.NewProfileSource(pool),
	)
	svc := renewal.NewService(
		store, store, docs,
		gate,
		sign.NewEngine(),
		config.NewIdentitySet(cfg.Signers),
		logger,
	)

	return &app{svc: svc, logger: logger, pool: pool}, nil
}
