// Package repository holds the gorm queries used by the billing services.
package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ierr "vpn-billing/internal/errors"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle, bound to the current transaction when inside one.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn in one unit of work. Returning an error rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *Store) locked(ctx context.Context) *gorm.DB {
	return s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func notFoundOr(err error, what string) error {
	if ierr.Is(err, gorm.ErrRecordNotFound) {
		return ierr.Mark(ierr.Wrap(err, what+" not found"), ierr.ErrNotFound)
	}
	return ierr.Mark(ierr.Wrap(err, "failed to load "+what), ierr.ErrDatabase)
}

func dbErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return ierr.Mark(ierr.Wrap(err, msg), ierr.ErrDatabase)
}
