package diagdb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE readings (
			sensor INTEGER NOT NULL,
			ts     INTEGER NOT NULL,
			v0     REAL NOT NULL,
			v1     REAL NOT NULL,
			v2     REAL NOT NULL,
			v3     REAL NOT NULL,
			status INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create readings table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX readings_sensor_idx ON readings(sensor, ts)`); err != nil {
		return fmt.Errorf("create readings index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX readings_sensor_idx`); err != nil {
		return fmt.Errorf("drop readings index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE readings`); err != nil {
		return fmt.Errorf("drop readings table: %w", err)
	}
	return nil
}
