package store

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Store groups the repositories that share one connection or transaction
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	Configs  *ConfigStore
	Invoices *InvoiceStore
	Vendors  *VendorRegistry
	Bills    *BillRegistry
	Locks    *LockStore
}

// New wires every repository on db. Surrogate ids come from node.
func New(db *gorm.DB, node *snowflake.Node) *Store {
	return newStore(db, node, func() time.Time { return time.Now().UTC() })
}

func newStore(db *gorm.DB, node *snowflake.Node, now func() time.Time) *Store {
	s := &Store{db: db, node: node, now: now}
	s.Configs = &ConfigStore{db: db, node: node, now: now}
	s.Invoices = &InvoiceStore{db: db, node: node, now: now}
	s.Vendors = &VendorRegistry{db: db, node: node, now: now}
	s.Bills = &BillRegistry{db: db, node: node, now: now}
	s.Locks = &LockStore{db: db, now: now}
	return s
}

// WithClock returns a copy of the store using now as its clock
func (s *Store) WithClock(now func() time.Time) *Store {
	return newStore(s.db, s.node, now)
}

// DB exposes the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with repositories bound to a single transaction
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newStore(tx, s.node, s.now))
	})
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
