package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// Session is one acquired connection to the store, valid until Close.
type Session interface {
	Exec(ctx context.Context, query string, args []any) error
	Close() error
}

// Connector hands out sessions. Each Acquire is independent: a failure in
// one session never affects the next.
type Connector interface {
	Acquire(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
}

// PerCallConnector dials a fresh connection for every session and closes it
// when the session ends.
type PerCallConnector struct {
	driver string
	dsn    string
}

func NewPerCallConnector(dsn string) *PerCallConnector {
	return &PerCallConnector{driver: driverName, dsn: dsn}
}

func (p *PerCallConnector) Acquire(ctx context.Context) (Session, error) {
	dbStd, err := sql.Open(p.driver, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	dbStd.SetMaxOpenConns(1)
	dbStd.SetMaxIdleConns(1)

	if err := dbStd.PingContext(ctx); err != nil {
		_ = dbStd.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &dialedSession{db: dbStd, conn: entsql.Conn{ExecQuerier: dbStd}}, nil
}

func (p *PerCallConnector) Ping(ctx context.Context) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	return s.Close()
}

type dialedSession struct {
	db   *sql.DB
	conn entsql.Conn
}

func (s *dialedSession) Exec(ctx context.Context, query string, args []any) error {
	return s.conn.Exec(ctx, query, args, nil)
}

func (s *dialedSession) Close() error {
	return s.db.Close()
}

// PooledConnector checks sessions out of the long-lived Client pool.
type PooledConnector struct {
	client *Client
}

func NewPooledConnector(client *Client) *PooledConnector {
	return &PooledConnector{client: client}
}

func (p *PooledConnector) Acquire(ctx context.Context) (Session, error) {
	conn, err := p.client.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout conn: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		evict(conn)
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &pooledSession{raw: conn, conn: entsql.Conn{ExecQuerier: conn}}, nil
}

func (p *PooledConnector) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

type pooledSession struct {
	raw    *sql.Conn
	conn   entsql.Conn
	failed bool
}

func (s *pooledSession) Exec(ctx context.Context, query string, args []any) error {
	if err := s.conn.Exec(ctx, query, args, nil); err != nil {
		s.failed = true
		return err
	}
	return nil
}

// Close returns the connection to the pool, or drops it when the session
// saw an error so the pool never hands it out again.
func (s *pooledSession) Close() error {
	if s.failed {
		evict(s.raw)
	}
	err := s.raw.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

func evict(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}
