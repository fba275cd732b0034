package repository

import (
	"context"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"dataproc/internal/db"
	"dataproc/internal/domain/common"
	dom "dataproc/internal/domain/reading"
	"dataproc/internal/logging"
)

// Fixed sensor_data schema.
const (
	ColumnNodeID    = "node_id"
	ColumnTimestamp = "timestamp"
	ColumnData      = "data"
)

type ReadingRepository struct {
	conn   db.Connector
	table  string
	logger logging.Logger
}

func NewReadingRepository(conn db.Connector, table string, logger logging.Logger) *ReadingRepository {
	return &ReadingRepository{
		conn:   conn,
		table:  table,
		logger: logger.With("component", "reading_repo"),
	}
}

// Insert acquires a session, runs one parameterized insert and releases the
// session before returning. It never retries.
func (r *ReadingRepository) Insert(ctx context.Context, rd dom.Reading) error {
	sess, err := r.conn.Acquire(ctx)
	if err != nil {
		return common.NewStorageUnavailable(err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.logger.Warn("failed to release storage session", "error", err)
		}
	}()

	query, args := insertStatement(r.table, rd)
	if err := sess.Exec(ctx, query, args); err != nil {
		return common.NewStorageWrite(r.table, err)
	}
	return nil
}

func insertStatement(table string, rd dom.Reading) (string, []any) {
	return entsql.Dialect(dialect.Postgres).
		Insert(table).
		Columns(ColumnNodeID, ColumnTimestamp, ColumnData).
		Values(rd.DeviceID, rd.Time, rd.Value).
		Query()
}

var _ dom.Repository = (*ReadingRepository)(nil)
