package processor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nodesentinel/beacon-indexer/internal/store"
)

// rewardsBatchSize is the chunk size of spec.md §4.4.1 step 2.
const rewardsBatchSize = 1_000_000

// rewardsFetchConcurrency bounds how many batches are fetched at once,
// the same worker-count knob the pack's beacon-rewards service exposes as
// BackfillConcurrency.
const rewardsFetchConcurrency = 4

// fetchRewards implements the atomic rewards-and-aggregation job of
// spec.md §4.4.1, end to end (steps 1-4), ending with a single
// store.ApplyRewards transaction that also flips Epoch.rewardsFetched.
// Per-batch fetches (step 2) run concurrently over a bounded worker pool,
// following the other-examples beacon-rewards service's
// errgroup.WithContext + SetLimit shape.
func (p *Processor) fetchRewards(ctx context.Context, epoch uint64) error {
	ids, err := p.store.AttestingValidatorIDs(ctx)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var records []store.RewardRecord

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rewardsFetchConcurrency)

	for _, batch := range chunk(ids, rewardsBatchSize) {
		batch := batch
		g.Go(func() error {
			validators, err := p.store.GetValidators(gctx, batch)
			if err != nil {
				return err
			}
			effectiveBalanceOf := make(map[uint64]uint64, len(validators))
			for _, v := range validators {
				eb, err := strconv.ParseUint(v.EffectiveBalance, 10, 64)
				if err != nil {
					return errors.Wrapf(err, "parsing effective balance for validator %d", v.ID)
				}
				effectiveBalanceOf[v.ID] = eb
			}

			rewards, err := p.beacon.GetAttestationRewards(gctx, epoch, batch)
			if err != nil {
				return err
			}

			batchRecords := make([]store.RewardRecord, 0, len(rewards.TotalRewards))
			batchIdeal := make(map[uint64]store.RewardComponents, len(rewards.IdealRewards))
			for _, ideal := range rewards.IdealRewards {
				batchIdeal[ideal.EffectiveBalance] = store.RewardComponents{
					Head:       ideal.Head,
					Target:     ideal.Target,
					Source:     ideal.Source,
					Inactivity: ideal.Inactivity,
				}
			}
			for _, total := range rewards.TotalRewards {
				actual := store.RewardComponents{
					Head:       total.Head,
					Target:     total.Target,
					Source:     total.Source,
					Inactivity: total.Inactivity,
				}
				eb := effectiveBalanceOf[total.ValidatorIndex]
				ideal := batchIdeal[eb]
				missed := store.RewardComponents{
					Head:       clampMissed(ideal.Head, actual.Head),
					Target:     clampMissed(ideal.Target, actual.Target),
					Source:     clampMissed(ideal.Source, actual.Source),
					Inactivity: clampMissed(ideal.Inactivity, actual.Inactivity),
				}
				batchRecords = append(batchRecords, store.RewardRecord{
					ValidatorID: total.ValidatorIndex,
					Actual:      actual,
					Missed:      missed,
				})
			}

			mu.Lock()
			defer mu.Unlock()
			records = append(records, batchRecords...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	datetime := roundDownToHour(p.oracle.TimestampFromEpoch(epoch))
	return p.store.ApplyRewards(ctx, epoch, datetime, records)
}

// clampMissed implements Open Question 3's resolution: missed = max(0,
// ideal-actual), applied consistently to every component including
// inactivity.
func clampMissed(ideal, actual int64) int64 {
	if d := ideal - actual; d > 0 {
		return d
	}
	return 0
}

func roundDownToHour(ms int64) time.Time {
	return time.UnixMilli(ms).UTC().Truncate(time.Hour)
}

func chunk(ids []uint64, size int) [][]uint64 {
	if len(ids) == 0 {
		return nil
	}
	var batches [][]uint64
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}
	return batches
}
