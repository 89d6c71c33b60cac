package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opencensus.io/trace"
)

// RewardRecord is one validator's input to ApplyRewards: its actual
// per-component amounts for the epoch and the already-clamped missed
// amounts (max(0, ideal-actual) per component, per SPEC_FULL.md §4.4's
// resolution of Open Question 3).
type RewardRecord struct {
	ValidatorID uint64
	Actual      RewardComponents
	Missed      RewardComponents
}

// formatRewardRecord builds the nine-field record string of spec.md §3:
// epoch:head:target:source:inactivity:missedHead:missedTarget:missedSource:missedInactivity
func formatRewardRecord(epoch uint64, r RewardRecord) string {
	return fmt.Sprintf("%d:%d:%d:%d:%d:%d:%d:%d:%d",
		epoch, r.Actual.Head, r.Actual.Target, r.Actual.Source, r.Actual.Inactivity,
		r.Missed.Head, r.Missed.Target, r.Missed.Source, r.Missed.Inactivity)
}

// hasEpochRecord reports whether epochRewards already contains a record
// for epoch, checked by exact "<epoch>:" prefix match on each
// comma-separated entry (not a raw substring match, so epoch 1 does not
// false-match a record for epoch 12). This is the dedup check behind
// SPEC_FULL.md's resolution of Open Question 4.
func hasEpochRecord(epochRewards string, epoch uint64) bool {
	if epochRewards == "" {
		return false
	}
	prefix := strconv.FormatUint(epoch, 10) + ":"
	for _, rec := range strings.Split(epochRewards, ",") {
		if strings.HasPrefix(rec, prefix) {
			return true
		}
	}
	return false
}

// ApplyRewards is the atomic rewards-and-aggregation transaction of
// spec.md §4.4.1 step 4: for every record, append its formatted string to
// HourlyValidatorData.epochRewards (creating the row if absent, skipping
// the append if this epoch is already represented), add its CL
// reward/missed totals to HourlyValidatorStats, and finally flip
// Epoch.rewardsFetched. All of it commits or rolls back together.
func (s *Store) ApplyRewards(ctx context.Context, epoch uint64, datetime time.Time, records []RewardRecord) error {
	ctx, span := trace.StartSpan(ctx, "Store.ApplyRewards")
	defer span.End()

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, r := range records {
			if err := applyOneReward(ctx, tx, epoch, datetime, r); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE epochs SET rewards_fetched = true WHERE epoch = $1`, epoch); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return wrap("apply_rewards", err)
	}
	return nil
}

func applyOneReward(ctx context.Context, tx *sqlx.Tx, epoch uint64, datetime time.Time, r RewardRecord) error {
	var existingRewards sql.NullString
	err := tx.GetContext(ctx, &existingRewards,
		`SELECT epoch_rewards FROM hourly_validator_data WHERE validator_id = $1 AND datetime = $2 FOR UPDATE`,
		r.ValidatorID, datetime)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	current := existingRewards.String
	if hasEpochRecord(current, epoch) {
		// Already applied by a previous, possibly crashed, run: skip both
		// the append and the stats addition so a retry cannot double-count.
		return nil
	}

	record := formatRewardRecord(epoch, r)
	next := record
	if current != "" {
		next = current + "," + record
	}

	upsertData := `INSERT INTO hourly_validator_data (validator_id, datetime, epoch_rewards)
		VALUES ($1, $2, $3)
		ON CONFLICT (validator_id, datetime) DO UPDATE SET epoch_rewards = excluded.epoch_rewards`
	if _, err := tx.ExecContext(ctx, upsertData, r.ValidatorID, datetime, next); err != nil {
		return err
	}

	clRewards := big.NewInt(r.Actual.Sum())
	clMissed := big.NewInt(r.Missed.Sum())

	upsertStats := `INSERT INTO hourly_validator_stats (validator_id, datetime, cl_rewards, cl_missed_rewards)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (validator_id, datetime) DO UPDATE SET
			cl_rewards = (hourly_validator_stats.cl_rewards::numeric + excluded.cl_rewards::numeric)::text,
			cl_missed_rewards = (hourly_validator_stats.cl_missed_rewards::numeric + excluded.cl_missed_rewards::numeric)::text`
	if _, err := tx.ExecContext(ctx, upsertStats, r.ValidatorID, datetime, clRewards.String(), clMissed.String()); err != nil {
		return err
	}
	return nil
}
