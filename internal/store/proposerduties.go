package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.opencensus.io/trace"
)

// InsertProposerDuties writes the 32 ProposerDuty rows for epoch and sets
// Epoch.proposerDutiesFetched, implementing SPEC_FULL.md §4.4.3.
func (s *Store) InsertProposerDuties(ctx context.Context, epoch uint64, duties []ProposerDuty) error {
	ctx, span := trace.StartSpan(ctx, "Store.InsertProposerDuties")
	defer span.End()

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO proposer_duties (epoch, slot, validator_index)
			VALUES (:epoch, :slot, :validator_index)
			ON CONFLICT (slot) DO UPDATE SET validator_index = excluded.validator_index`
		for _, d := range duties {
			d.Epoch = epoch
			if _, err := tx.NamedExecContext(ctx, query, d); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE epochs SET proposer_duties_fetched = true WHERE epoch = $1`, epoch); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return wrap("insert_proposer_duties", err)
	}
	return nil
}
