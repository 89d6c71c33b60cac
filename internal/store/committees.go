package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opencensus.io/trace"
)

// InsertSlots creates one Slot row per slot in [epochStart, epochEnd]
// not already present and not below floor, per §4.4.2 step 1. Existing
// rows are left untouched.
func (s *Store) InsertSlots(ctx context.Context, tx *sqlx.Tx, epoch, epochStart, epochEnd, floor uint64) error {
	if epochStart < floor {
		epochStart = floor
	}
	if epochStart > epochEnd {
		return nil
	}
	query := `INSERT INTO slots (slot, epoch, committees_count) VALUES `
	args := make([]interface{}, 0, (epochEnd-epochStart+1)*3)
	first := true
	for slot := epochStart; slot <= epochEnd; slot++ {
		if !first {
			query += ", "
		}
		first = false
		query += "(?, ?, 0)"
		args = append(args, slot, epoch)
	}
	query += " ON CONFLICT (slot) DO NOTHING"
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return err
	}
	return nil
}

// InsertCommittees writes one Committee row per entry and refreshes each
// touched slot's committees_count, per §4.4.2 steps 2-3. Must run inside
// the same transaction as InsertSlots.
func (s *Store) InsertCommittees(ctx context.Context, tx *sqlx.Tx, committees []Committee) error {
	if len(committees) == 0 {
		return nil
	}
	insert := `INSERT INTO committees (epoch, slot, committee_index, validator_ids)
		VALUES (:epoch, :slot, :committee_index, :validator_ids)
		ON CONFLICT (slot, committee_index) DO UPDATE SET validator_ids = excluded.validator_ids`

	counts := map[uint64]uint64{}
	for _, c := range committees {
		row := struct {
			Epoch          uint64        `db:"epoch"`
			Slot           uint64        `db:"slot"`
			CommitteeIndex uint64        `db:"committee_index"`
			ValidatorIDs   pq.Int64Array `db:"validator_ids"`
		}{
			Epoch:          c.Epoch,
			Slot:           c.Slot,
			CommitteeIndex: c.CommitteeIndex,
			ValidatorIDs:   pq.Int64Array(c.ValidatorIDs),
		}
		if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
			return err
		}
		counts[c.Slot]++
	}
	for slot, count := range counts {
		if _, err := tx.ExecContext(ctx, `UPDATE slots SET committees_count = $1 WHERE slot = $2`, count, slot); err != nil {
			return err
		}
	}
	return nil
}

// CountSlotsForEpoch returns how many Slot rows exist for epoch, used by
// the waitSlotsFetched step to verify that every slot of the epoch at or
// above the indexing floor is present before flipping slotsFetched.
func (s *Store) CountSlotsForEpoch(ctx context.Context, epoch uint64) (uint64, error) {
	ctx, span := trace.StartSpan(ctx, "Store.CountSlotsForEpoch")
	defer span.End()

	var count uint64
	if err := s.db.GetContext(ctx, &count, `SELECT count(*) FROM slots WHERE epoch = $1`, epoch); err != nil {
		return 0, wrap("count_slots_for_epoch", err)
	}
	return count, nil
}

// InsertSlotsAndCommittees runs InsertSlots followed by InsertCommittees
// in one transaction and sets Epoch.committeesFetched, implementing
// SPEC_FULL.md §4.4.2 end to end.
func (s *Store) InsertSlotsAndCommittees(ctx context.Context, epoch uint64, committees []Committee, floor uint64) error {
	ctx, span := trace.StartSpan(ctx, "Store.InsertSlotsAndCommittees")
	defer span.End()

	epochStart := epoch * 32
	epochEnd := epochStart + 31

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.InsertSlots(ctx, tx, epoch, epochStart, epochEnd, floor); err != nil {
			return err
		}
		if err := s.InsertCommittees(ctx, tx, committees); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE epochs SET committees_fetched = true WHERE epoch = $1`, epoch); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return wrap("insert_slots_and_committees", err)
	}
	return nil
}
