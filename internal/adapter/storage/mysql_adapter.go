package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/port"
)

// MySQL server error numbers the store reacts to.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// queryer is satisfied by both *sql.DB and *sql.Tx so every repository can
// run against the pool or inside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLStore struct {
	db       *sql.DB
	lockWait time.Duration
}

// NewMySQLStore wraps db. lockWait, when positive, is applied as
// innodb_lock_wait_timeout for every transaction so a checkout that cannot
// get its row locks gives up instead of queueing indefinitely.
func NewMySQLStore(db *sql.DB, lockWait time.Duration) *MySQLStore {
	return &MySQLStore{db: db, lockWait: lockWait}
}

// OpenMySQL opens and pings a pool. parseTime is forced on because the
// repositories scan DATETIME columns into time.Time.
func OpenMySQL(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func (m *MySQLStore) repos(q queryer) mysqlRepos { return mysqlRepos{q: q} }

func (m *MySQLStore) Carts() port.CartRepository { return m.repos(m.db).Carts() }
func (m *MySQLStore) Inventory() port.InventoryRepository { return m.repos(m.db).Inventory() }
func (m *MySQLStore) Orders() port.OrderRepository { return m.repos(m.db).Orders() }
func (m *MySQLStore) Outbox() port.OutboxRepository { return m.repos(m.db).Outbox() }

func (m *MySQLStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos port.Repositories) error) (err error) {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if m.lockWait > 0 {
		secs := int(math.Ceil(m.lockWait.Seconds()))
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)); err != nil {
			_ = tx.Rollback()
			return classify(fmt.Errorf("set lock wait timeout: %w", err))
		}
	}

	if err := fn(ctx, m.repos(tx)); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// classify turns lock timeouts, deadlocks, expired deadlines and dropped
// connections into domain.ErrTransientStore. Everything else is returned as is.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransientStore) {
		return err
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == errLockWaitTimeout || myErr.Number == errDeadlock) {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return err
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}

type mysqlRepos struct{ q queryer }

func (r mysqlRepos) Carts() port.CartRepository { return &mysqlCarts{q: r.q} }
func (r mysqlRepos) Inventory() port.InventoryRepository { return &mysqlInventory{q: r.q} }
func (r mysqlRepos) Orders() port.OrderRepository { return &mysqlOrders{q: r.q} }
func (r mysqlRepos) Outbox() port.OutboxRepository { return &mysqlOutbox{q: r.q} }
