package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ruangobat/internal/db"
	"ruangobat/internal/draft"
	"ruangobat/internal/draftstore"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenedStore is the draft store picked by DRAFT_STORE plus the resources
// backing it. DB is set only for the postgres driver.
type OpenedStore struct {
	Store draft.Store
	DB    *sql.DB
	close func() error
}

func (s *OpenedStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func OpenStore(ctx context.Context, cfg Config, logger *zap.Logger) (*OpenedStore, error) {
	switch cfg.StoreDriver {
	case StoreMemory:
		logger.Warn("using in-memory draft store; drafts are lost on restart")
		return &OpenedStore{Store: draft.NewMemoryStore()}, nil

	case StoreFile:
		fs, err := draftstore.NewFileStore(cfg.DraftDir)
		if err != nil {
			return nil, err
		}
		logger.Info("draft store ready", zap.String("driver", StoreFile), zap.String("dir", cfg.DraftDir))
		return &OpenedStore{Store: fs}, nil

	case StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("draft store ready", zap.String("driver", StoreRedis), zap.String("addr", cfg.RedisAddr))
		return &OpenedStore{
			Store: draftstore.NewRedisStore(rdb, cfg.RedisPrefix, cfg.RedisTTL()),
			close: rdb.Close,
		}, nil

	case StorePostgres:
		conn, err := db.OpenPostgres(ctx, cfg.DBDSN, db.PostgresConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		if err := db.EnsureDraftSchema(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		logger.Info("draft store ready", zap.String("driver", StorePostgres))
		return &OpenedStore{Store: draftstore.NewPostgresStore(conn), DB: conn, close: conn.Close}, nil

	default:
		return nil, fmt.Errorf("unknown draft store %q", cfg.StoreDriver)
	}
}
