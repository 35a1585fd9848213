package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Connect abre a conexão Postgres via bun e garante o schema do log de
// mensagens. O log de mensagens é opcional: esta função só é chamada
// quando DATABASE_URL está configurada.
func Connect(ctx context.Context, dsn string, log logger.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sqldb.SetMaxOpenConns(10)
	sqldb.SetMaxIdleConns(5)
	sqldb.SetConnMaxLifetime(time.Hour)

	db := bun.NewDB(sqldb, pgdialect.New())
	db.AddQueryHook(logger.NewBunQueryHook(log))

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.WithComponent("database").Info().Msg("Database connection established")
	return db, nil
}

func migrate(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*Message)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}
