// Package gormstore implements records.Store on GORM.
//
// Each unit of work is a fresh GORM session bound to the caller's context,
// so a unit never leaks conditions into the next one. Set Options.Transactional
// to run units inside a database transaction instead.
//
//	db, err := gormstore.Open(dsn)
//	if err != nil {
//		return err
//	}
//	st := gormstore.New[listing.Listing](db, gormstore.Options{})
//	if err := st.Migrate(ctx); err != nil {
//		return err
//	}
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/unkn0wn-root/listingsync/records"
)

type Options struct {
	Transactional bool
}

type Store[T any] struct {
	db   *gorm.DB
	opts Options
}

var _ records.Store[struct{}] = (*Store[struct{}])(nil)

// Open connects to PostgreSQL. SQL logging is silenced; callers log at the
// orchestration layer.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func New[T any](db *gorm.DB, opts Options) *Store[T] {
	return &Store[T]{db: db, opts: opts}
}

// Migrate creates or extends the table for T. It never drops columns.
func (s *Store[T]) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(new(T))
}

func (s *Store[T]) Unit(ctx context.Context, fn func(records.Tx[T]) error) error {
	if s.opts.Transactional {
		return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			return fn(tx[T]{db: db})
		})
	}
	return fn(tx[T]{db: s.db.WithContext(ctx).Session(&gorm.Session{})})
}

func (s *Store[T]) Find(ctx context.Context, q records.Query) ([]*T, error) {
	db := s.db.WithContext(ctx).Model(new(T))
	for _, p := range q.Where {
		if !p.IsZero() {
			db = db.Where(p.Query, p.Args...)
		}
	}
	for _, o := range q.Order {
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Column}, Desc: o.Desc})
	}
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var out []*T
	if err := db.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *Store[T]) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type tx[T any] struct {
	db *gorm.DB
}

func (t tx[T]) FindOne(where records.Predicate) (*T, error) {
	var v T
	db := t.db
	if !where.IsZero() {
		db = db.Where(where.Query, where.Args...)
	}
	err := db.Take(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (t tx[T]) Insert(v *T) error { return t.db.Create(v).Error }
func (t tx[T]) Update(v *T) error { return t.db.Save(v).Error }
func (t tx[T]) Remove(v *T) error { return t.db.Delete(v).Error }
