package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"

	"dataproc/internal/logging"
)

const fakeDriverName = "fakepg"

func init() {
	sql.Register(fakeDriverName, fakeDriver{})
}

// backend holds the observable state of one fake server, keyed by DSN.
type backend struct {
	mu       sync.Mutex
	down     bool
	execErr  error
	opens    int
	closes   int
	executed []string
}

var (
	backendsMu sync.Mutex
	backends   = map[string]*backend{}
)

func newBackend(t *testing.T) (string, *backend) {
	t.Helper()
	b := &backend{}
	dsn := t.Name()
	backendsMu.Lock()
	backends[dsn] = b
	backendsMu.Unlock()
	t.Cleanup(func() {
		backendsMu.Lock()
		delete(backends, dsn)
		backendsMu.Unlock()
	})
	return dsn, b
}

func (b *backend) stats() (opens, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) {
	backendsMu.Lock()
	b := backends[name]
	backendsMu.Unlock()
	if b == nil {
		return nil, errors.New("unknown backend " + name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, errors.New("connection refused")
	}
	b.opens++
	return &fakeConn{b: b}, nil
}

type fakeConn struct {
	b *backend
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *fakeConn) Close() error {
	c.b.mu.Lock()
	c.b.closes++
	c.b.mu.Unlock()
	return nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.execErr != nil {
		return nil, c.b.execErr
	}
	c.b.executed = append(c.b.executed, query)
	return driver.RowsAffected(1), nil
}

func TestPerCallConnectorOpensAndClosesEachSession(t *testing.T) {
	dsn, b := newBackend(t)
	p := &PerCallConnector{driver: fakeDriverName, dsn: dsn}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := s.Exec(ctx, "INSERT 1", []any{"dev1", int64(1000), "42"}); err != nil {
			t.Fatalf("Exec: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	opens, closes := b.stats()
	if opens != 3 || closes != 3 {
		t.Fatalf("opens=%d closes=%d, want 3/3", opens, closes)
	}
	if len(b.executed) != 3 {
		t.Fatalf("executed %d statements, want 3", len(b.executed))
	}
}

func TestPerCallConnectorUnreachable(t *testing.T) {
	dsn, b := newBackend(t)
	b.down = true
	p := &PerCallConnector{driver: fakeDriverName, dsn: dsn}

	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("expected error for unreachable store")
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error for unreachable store")
	}
}

func TestPooledConnectorEvictsFailedConnection(t *testing.T) {
	dsn, b := newBackend(t)
	ctx := context.Background()

	client, err := newClient(ctx, fakeDriverName, dsn, 1, logging.NewNop())
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	defer client.Close()

	p := NewPooledConnector(client)

	s, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b.mu.Lock()
	b.execErr = errors.New("duplicate key")
	b.mu.Unlock()

	if err := s.Exec(ctx, "INSERT 1", []any{"dev1"}); err == nil {
		t.Fatal("expected exec error")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b.mu.Lock()
	b.execErr = nil
	b.mu.Unlock()

	s, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after failure: %v", err)
	}
	if err := s.Exec(ctx, "INSERT 2", []any{"dev1"}); err != nil {
		t.Fatalf("Exec after failure: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	opens, closes := b.stats()
	if opens != 2 {
		t.Fatalf("opens=%d, want 2 (failed connection replaced)", opens)
	}
	if closes != 1 {
		t.Fatalf("closes=%d, want 1 (only the failed connection dropped)", closes)
	}
}
