// Package store implements the Persistence Layer: typed operations over
// a relational store, exposing only high-level operations as described
// by the component design. Modeled on the teacher's beacon-chain/db/kv
// package (Store struct wrapping a connection handle plus a read
// cache, opencensus spans on every operation) but built on
// github.com/jmoiron/sqlx over PostgreSQL instead of BoltDB, following
// the same idiom the bitfly beaconchain exporter uses for exactly this
// problem (epoch/hourly aggregation tables, ON CONFLICT upserts).
package store

import (
	"context"

	"github.com/dgraph-io/ristretto"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "store")

// ErrNotFound is returned when a single-row lookup has no match.
var ErrNotFound = errors.New("store: not found")

// ErrStore wraps any underlying database/sql or sqlx error so callers can
// errors.As to decide whether a failed step should retry once, per
// spec.md §7's StoreError kind.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string { return "store: " + e.Op + ": " + e.Err.Error() }
func (e *ErrStore) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ErrStore{Op: op, Err: err}
}

// validatorCacheNumCounters and validatorCacheMaxCost are the ristretto
// NumCounters and MaxCost budget for the read-through
// validator cache, sized the same way the teacher sizes its
// validatorIndexCache in beacon-chain/db/kv/kv.go (cost in entries, not
// bytes, since Validator rows are small and fixed-shape).
const validatorCacheNumCounters = 1 << 20
const validatorCacheMaxCost = 1 << 23

// Store is the Persistence Layer handle. It owns a single process-wide
// connection pool (shared across the Creator, Orchestrator and Processor
// loops, per spec.md §5) and a read-through cache in front of Validator
// lookups.
type Store struct {
	db             *sqlx.DB
	validatorCache *ristretto.Cache
}

// Open connects to dsn (a postgres:// connection string) and returns a
// ready Store. It does not run migrations: the schema is assumed to
// pre-exist (spec.md §1's out-of-scope list).
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, wrap("open", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: validatorCacheNumCounters,
		MaxCost:     validatorCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, wrap("open", err)
	}
	return &Store{db: db, validatorCache: cache}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single transaction, committing on nil return and
// rolling back otherwise. The §4.4.1 rewards transaction and the §4.4.2
// committees transaction both go through this helper so that a crash
// mid-write can never leave two of three table effects durable.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Warn("rollback failed after transaction error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit", err)
	}
	return nil
}
