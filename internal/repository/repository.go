// Package repository selects the record store backend named in config.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ignite/outreach-tracker/internal/config"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/repository/dynamo"
	"github.com/ignite/outreach-tracker/internal/repository/memory"
	"github.com/ignite/outreach-tracker/internal/repository/postgres"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/service/reply"
)

// Stores bundles the three repositories of one backend. DB is set only for
// the postgres backend.
type Stores struct {
	Backend    string
	Campaigns  campaign.Repository
	Recipients recipient.Repository
	Replies    reply.Repository
	DB         *sql.DB
}

// Open connects to the configured backend. awsCfg is only used by dynamodb.
func Open(ctx context.Context, cfg config.DatabaseConfig, table string, awsCfg aws.Config) (*Stores, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory store; records are lost on restart")
		return &Stores{
			Backend:    cfg.Backend,
			Campaigns:  memory.NewCampaignRepo(),
			Recipients: memory.NewRecipientRepo(),
			Replies:    memory.NewReplyRepo(),
		}, nil

	case "postgres":
		db, err := OpenPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Backend:    cfg.Backend,
			Campaigns:  postgres.NewCampaignRepo(db),
			Recipients: postgres.NewRecipientRepo(db),
			Replies:    postgres.NewReplyRepo(db),
			DB:         db,
		}, nil

	case "dynamodb":
		store := dynamo.NewStore(dynamodb.NewFromConfig(awsCfg), table)
		logger.Info("using dynamodb store", "table", table)
		return &Stores{
			Backend:    cfg.Backend,
			Campaigns:  store.Campaigns(),
			Recipients: store.Recipients(),
			Replies:    store.Replies(),
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// OpenPostgres opens and pings the pool.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return db, nil
}

// Close releases the database pool, if any.
func (s *Stores) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
