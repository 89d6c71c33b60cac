package store

import (
	"context"
	"strconv"

	"github.com/jmoiron/sqlx"
	"go.opencensus.io/trace"
)

// GetValidator returns a single validator row, preferring the read-through
// ristretto cache over a query, the same pattern the teacher's
// beacon-chain/db/kv/validators.go uses for its votesCache.
func (s *Store) GetValidator(ctx context.Context, id uint64) (Validator, error) {
	ctx, span := trace.StartSpan(ctx, "Store.GetValidator")
	defer span.End()

	if v, ok := s.validatorCache.Get(validatorCacheKey(id)); ok && v != nil {
		return v.(Validator), nil
	}

	var v Validator
	query := `SELECT id, withdrawal_address, status, balance, effective_balance FROM validators WHERE id = $1`
	if err := s.db.GetContext(ctx, &v, query, id); err != nil {
		return Validator{}, wrap("get_validator", err)
	}
	s.validatorCache.Set(validatorCacheKey(id), v, 1)
	return v, nil
}

// GetValidators returns the rows for the given ids, in no particular
// order, consulting the cache per-id before falling back to a single
// batched query for the misses.
func (s *Store) GetValidators(ctx context.Context, ids []uint64) ([]Validator, error) {
	ctx, span := trace.StartSpan(ctx, "Store.GetValidators")
	defer span.End()

	out := make([]Validator, 0, len(ids))
	var missing []uint64
	for _, id := range ids {
		if v, ok := s.validatorCache.Get(validatorCacheKey(id)); ok && v != nil {
			out = append(out, v.(Validator))
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, withdrawal_address, status, balance, effective_balance FROM validators WHERE id IN (?)`, missing)
	if err != nil {
		return nil, wrap("get_validators", err)
	}
	var fetched []Validator
	if err := s.db.SelectContext(ctx, &fetched, s.db.Rebind(query), args...); err != nil {
		return nil, wrap("get_validators", err)
	}
	for _, v := range fetched {
		s.validatorCache.Set(validatorCacheKey(v.ID), v, 1)
		out = append(out, v)
	}
	return out, nil
}

// AttestingValidatorIDs returns the ids of every validator whose status is
// one of the three attesting statuses, for §4.4.1 step 1.
func (s *Store) AttestingValidatorIDs(ctx context.Context) ([]uint64, error) {
	ctx, span := trace.StartSpan(ctx, "Store.AttestingValidatorIDs")
	defer span.End()

	var ids []uint64
	query := `SELECT id FROM validators WHERE status IN ($1, $2, $3)`
	if err := s.db.SelectContext(ctx, &ids, query, StatusActiveOngoing, StatusActiveExiting, StatusActiveSlashed); err != nil {
		return nil, wrap("attesting_validator_ids", err)
	}
	return ids, nil
}

// UpsertValidators inserts new validator rows or updates the mutable
// columns (status, balance, effective_balance, withdrawal_address) of
// existing ones, and invalidates the cache entry for each so the next
// read observes the new value. This backs both the initial bulk load and
// the per-epoch activation/transition diff of SPEC_FULL.md §4.4.5.
func (s *Store) UpsertValidators(ctx context.Context, validators []Validator) error {
	ctx, span := trace.StartSpan(ctx, "Store.UpsertValidators")
	defer span.End()

	if len(validators) == 0 {
		return nil
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO validators (id, withdrawal_address, status, balance, effective_balance)
			VALUES (:id, :withdrawal_address, :status, :balance, :effective_balance)
			ON CONFLICT (id) DO UPDATE SET
				withdrawal_address = excluded.withdrawal_address,
				status = excluded.status,
				balance = excluded.balance,
				effective_balance = excluded.effective_balance`
		for _, v := range validators {
			if _, err := tx.NamedExecContext(ctx, query, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("upsert_validators", err)
	}
	for _, v := range validators {
		s.validatorCache.Del(validatorCacheKey(v.ID))
	}
	return nil
}

func validatorCacheKey(id uint64) string {
	return "validator:" + strconv.FormatUint(id, 10)
}
