package store

import (
	"context"
	"database/sql"
	"time"

	"go.opencensus.io/trace"
)

// UpsertGlobalStats writes the daily validator-count-by-status and
// average-balance aggregate of spec.md §3, replacing any existing row for
// the same day. Computed once per day by an operator-scheduled job, not
// by the Processor itself — spec.md §3 describes GlobalStats as a daily
// rollup independent of any single epoch's processing.
func (s *Store) UpsertGlobalStats(ctx context.Context, g GlobalStats) error {
	ctx, span := trace.StartSpan(ctx, "Store.UpsertGlobalStats")
	defer span.End()

	query := `INSERT INTO global_stats (
			day_utc, validators_pending, validators_active, validators_exited,
			validators_slashed, average_balance, average_effective_balance
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (day_utc) DO UPDATE SET
			validators_pending = excluded.validators_pending,
			validators_active = excluded.validators_active,
			validators_exited = excluded.validators_exited,
			validators_slashed = excluded.validators_slashed,
			average_balance = excluded.average_balance,
			average_effective_balance = excluded.average_effective_balance`
	_, err := s.db.ExecContext(ctx, query,
		g.DayUTC, g.ValidatorsPending, g.ValidatorsActive, g.ValidatorsExited,
		g.ValidatorsSlashed, g.AverageBalance, g.AverageEffectiveBalance)
	if err != nil {
		return wrap("upsert_global_stats", err)
	}
	return nil
}

// GlobalStatsForDay returns the aggregate row for dayUTC, if one exists.
func (s *Store) GlobalStatsForDay(ctx context.Context, dayUTC string) (GlobalStats, bool, error) {
	ctx, span := trace.StartSpan(ctx, "Store.GlobalStatsForDay")
	defer span.End()

	var g GlobalStats
	query := `SELECT day_utc, validators_pending, validators_active, validators_exited,
			validators_slashed, average_balance, average_effective_balance
		FROM global_stats WHERE day_utc = $1::date`
	err := s.db.GetContext(ctx, &g, query, dayUTC)
	if err == sql.ErrNoRows {
		return GlobalStats{}, false, nil
	}
	if err != nil {
		return GlobalStats{}, false, wrap("global_stats_for_day", err)
	}
	return g, true, nil
}

// ComputeGlobalStats derives a GlobalStats row from the current contents
// of the validators table for dayUTC, per spec.md §3's validator-count
// and average-balance rollup.
func (s *Store) ComputeGlobalStats(ctx context.Context, dayUTC string) (GlobalStats, error) {
	ctx, span := trace.StartSpan(ctx, "Store.ComputeGlobalStats")
	defer span.End()

	day, err := time.Parse("2006-01-02", dayUTC)
	if err != nil {
		return GlobalStats{}, wrap("compute_global_stats", err)
	}

	var row struct {
		Pending      uint64 `db:"pending"`
		Active       uint64 `db:"active"`
		Exited       uint64 `db:"exited"`
		Slashed      uint64 `db:"slashed"`
		AvgBalance   string `db:"avg_balance"`
		AvgEffective string `db:"avg_effective"`
	}
	query := `SELECT
			count(*) FILTER (WHERE status IN ($1, $2)) AS pending,
			count(*) FILTER (WHERE status IN ($3, $4)) AS active,
			count(*) FILTER (WHERE status = $5) AS slashed,
			count(*) FILTER (WHERE status IN ($6, $7, $8, $9)) AS exited,
			coalesce(avg(balance::numeric), 0)::text AS avg_balance,
			coalesce(avg(effective_balance::numeric), 0)::text AS avg_effective
		FROM validators`
	if err := s.db.GetContext(ctx, &row, query,
		StatusPendingInitialized, StatusPendingQueued,
		StatusActiveOngoing, StatusActiveExiting,
		StatusActiveSlashed,
		StatusExitedUnslashed, StatusExitedSlashed,
		StatusWithdrawalPossible, StatusWithdrawalDone); err != nil {
		return GlobalStats{}, wrap("compute_global_stats", err)
	}
	return GlobalStats{
		DayUTC:                  day,
		ValidatorsPending:       row.Pending,
		ValidatorsActive:        row.Active,
		ValidatorsExited:        row.Exited,
		ValidatorsSlashed:       row.Slashed,
		AverageBalance:          row.AvgBalance,
		AverageEffectiveBalance: row.AvgEffective,
	}, nil
}
