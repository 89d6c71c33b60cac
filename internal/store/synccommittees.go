package store

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opencensus.io/trace"
)

// SyncCommitteeCovering returns the SyncCommittee row whose
// [fromEpoch, toEpoch] range contains epoch, if any, per SPEC_FULL.md
// §4.4.4's reuse check.
func (s *Store) SyncCommitteeCovering(ctx context.Context, epoch uint64) (SyncCommittee, bool, error) {
	ctx, span := trace.StartSpan(ctx, "Store.SyncCommitteeCovering")
	defer span.End()

	var row struct {
		FromEpoch    uint64        `db:"from_epoch"`
		ToEpoch      uint64        `db:"to_epoch"`
		ValidatorIDs pq.Int64Array `db:"validator_ids"`
	}
	query := `SELECT from_epoch, to_epoch, validator_ids FROM sync_committees
		WHERE from_epoch <= $1 AND to_epoch >= $1 LIMIT 1`
	err := s.db.GetContext(ctx, &row, query, epoch)
	if err == sql.ErrNoRows {
		return SyncCommittee{}, false, nil
	}
	if err != nil {
		return SyncCommittee{}, false, wrap("sync_committee_covering", err)
	}
	return SyncCommittee{FromEpoch: row.FromEpoch, ToEpoch: row.ToEpoch, ValidatorIDs: row.ValidatorIDs}, true, nil
}

// InsertSyncCommittee inserts a new SyncCommittee row and sets
// Epoch.syncCommitteesFetched, per SPEC_FULL.md §4.4.4's fetch branch.
func (s *Store) InsertSyncCommittee(ctx context.Context, epoch uint64, sc SyncCommittee) error {
	ctx, span := trace.StartSpan(ctx, "Store.InsertSyncCommittee")
	defer span.End()

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO sync_committees (from_epoch, to_epoch, validator_ids)
			VALUES ($1, $2, $3) ON CONFLICT (from_epoch) DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, sc.FromEpoch, sc.ToEpoch, pq.Int64Array(sc.ValidatorIDs)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE epochs SET sync_committees_fetched = true WHERE epoch = $1`, epoch); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return wrap("insert_sync_committee", err)
	}
	return nil
}

// SetSyncCommitteesFetched sets the flag directly, without writing a new
// SyncCommittee row, for the reuse branch of §4.4.4.
func (s *Store) SetSyncCommitteesFetched(ctx context.Context, epoch uint64) error {
	return s.SetFlag(ctx, epoch, "sync_committees_fetched")
}
