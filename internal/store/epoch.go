package store

import (
	"context"
	"database/sql"

	"go.opencensus.io/trace"
)

// epochFlagsClause is the boolean conjunction of all seven progress
// flags, reused by every "is this epoch fully processed" query.
const epochFlagsClause = `validators_balances_fetched AND validators_activation_fetched AND ` +
	`rewards_fetched AND committees_fetched AND proposer_duties_fetched AND ` +
	`sync_committees_fetched AND slots_fetched`

// MaxEpoch returns the highest epoch row present, and false if the table
// is empty. Used by the Creator's §4.3 step 1.
func (s *Store) MaxEpoch(ctx context.Context) (epoch uint64, ok bool, err error) {
	ctx, span := trace.StartSpan(ctx, "Store.MaxEpoch")
	defer span.End()

	var max sql.NullInt64
	if err := s.db.GetContext(ctx, &max, `SELECT max(epoch) FROM epochs`); err != nil {
		return 0, false, wrap("max_epoch", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return uint64(max.Int64), true, nil
}

// CountUnprocessed returns the number of epoch rows whose seven-flag
// conjunction is false.
func (s *Store) CountUnprocessed(ctx context.Context) (uint64, error) {
	ctx, span := trace.StartSpan(ctx, "Store.CountUnprocessed")
	defer span.End()

	var count uint64
	query := `SELECT count(*) FROM epochs WHERE NOT (` + epochFlagsClause + `)`
	if err := s.db.GetContext(ctx, &count, query); err != nil {
		return 0, wrap("count_unprocessed", err)
	}
	return count, nil
}

// InsertEpochs inserts rows for every epoch in [start, start+count), all
// flags false, in a single multi-row insert. Used by the Creator's §4.3
// step 4. Existing rows are left untouched (ON CONFLICT DO NOTHING),
// making repeated calls with overlapping ranges safe.
func (s *Store) InsertEpochs(ctx context.Context, start uint64, count uint64) error {
	ctx, span := trace.StartSpan(ctx, "Store.InsertEpochs")
	defer span.End()

	if count == 0 {
		return nil
	}
	query := `INSERT INTO epochs (epoch) VALUES `
	args := make([]interface{}, count)
	for i := uint64(0); i < count; i++ {
		if i > 0 {
			query += ", "
		}
		query += "(?)"
		args[i] = start + i
	}
	query += " ON CONFLICT (epoch) DO NOTHING"
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return wrap("insert_epochs", err)
	}
	return nil
}

// MinUnprocessed returns the lowest epoch row whose seven-flag
// conjunction is false, and false if none exists. Used by the
// Orchestrator's gettingMinEpoch state.
func (s *Store) MinUnprocessed(ctx context.Context) (Epoch, bool, error) {
	ctx, span := trace.StartSpan(ctx, "Store.MinUnprocessed")
	defer span.End()

	var e Epoch
	query := `SELECT epoch, validators_balances_fetched, validators_activation_fetched, ` +
		`rewards_fetched, committees_fetched, proposer_duties_fetched, ` +
		`sync_committees_fetched, slots_fetched FROM epochs ` +
		`WHERE NOT (` + epochFlagsClause + `) ORDER BY epoch ASC LIMIT 1`
	err := s.db.GetContext(ctx, &e, query)
	if err == sql.ErrNoRows {
		return Epoch{}, false, nil
	}
	if err != nil {
		return Epoch{}, false, wrap("min_unprocessed", err)
	}
	return e, true, nil
}

// GetEpoch returns the current flag snapshot of a single epoch row.
func (s *Store) GetEpoch(ctx context.Context, epoch uint64) (Epoch, error) {
	ctx, span := trace.StartSpan(ctx, "Store.GetEpoch")
	defer span.End()

	var e Epoch
	query := `SELECT epoch, validators_balances_fetched, validators_activation_fetched, ` +
		`rewards_fetched, committees_fetched, proposer_duties_fetched, ` +
		`sync_committees_fetched, slots_fetched FROM epochs WHERE epoch = $1`
	if err := s.db.GetContext(ctx, &e, query, epoch); err != nil {
		if err == sql.ErrNoRows {
			return Epoch{}, ErrNotFound
		}
		return Epoch{}, wrap("get_epoch", err)
	}
	return e, nil
}

// SetFlag flips a single named progress flag to true for epoch. column
// must be one of the seven flag column names; it is never taken from
// user input so string-building the query here is safe.
func (s *Store) SetFlag(ctx context.Context, epoch uint64, column string) error {
	ctx, span := trace.StartSpan(ctx, "Store.SetFlag")
	defer span.End()

	query := `UPDATE epochs SET ` + column + ` = true WHERE epoch = $1`
	if _, err := s.db.ExecContext(ctx, query, epoch); err != nil {
		return wrap("set_flag", err)
	}
	return nil
}
