package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.opencensus.io/trace"
)

// InsertValidatorBalances writes one ValidatorBalance snapshot row per
// entry for epoch, used by the fetchValidatorsBalances step (§4.4 table,
// order 1). Conflicts on (validator_id, epoch) are overwritten so a
// re-entrant step is idempotent.
func (s *Store) InsertValidatorBalances(ctx context.Context, epoch uint64, snapshots []ValidatorBalanceSnapshot) error {
	ctx, span := trace.StartSpan(ctx, "Store.InsertValidatorBalances")
	defer span.End()

	if len(snapshots) == 0 {
		return nil
	}
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO validator_balances (validator_id, epoch, balance)
			VALUES (:validator_id, :epoch, :balance)
			ON CONFLICT (validator_id, epoch) DO UPDATE SET balance = excluded.balance`
		for _, snap := range snapshots {
			snap.Epoch = epoch
			if _, err := tx.NamedExecContext(ctx, query, snap); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("insert_validator_balances", err)
	}
	return nil
}
