package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodesentinel/beacon-indexer/internal/beaconclient"
	"github.com/nodesentinel/beacon-indexer/internal/chaintime"
	"github.com/nodesentinel/beacon-indexer/internal/store"
)

// fakeStore and fakeBeacon implement the Store/BeaconClient interfaces
// in-memory, enough to drive spec.md §8's scenarios without a database.

type fakeStore struct {
	epochs      map[uint64]store.Epoch
	validators  map[uint64]store.Validator
	balances    []store.ValidatorBalanceSnapshot
	rewards     map[uint64]store.HourlyValidatorData
	stats       map[uint64]store.HourlyValidatorStats
	syncCommittees []store.SyncCommittee
	committees  []store.Committee
	slotsByEpoch map[uint64]int
	duties      []store.ProposerDuty
}

func newFakeStore(epoch uint64) *fakeStore {
	return &fakeStore{
		epochs:       map[uint64]store.Epoch{epoch: {Epoch: epoch}},
		validators:   map[uint64]store.Validator{},
		rewards:      map[uint64]store.HourlyValidatorData{},
		stats:        map[uint64]store.HourlyValidatorStats{},
		slotsByEpoch: map[uint64]int{},
	}
}

func (f *fakeStore) GetEpoch(ctx context.Context, epoch uint64) (store.Epoch, error) {
	return f.epochs[epoch], nil
}

func (f *fakeStore) InsertValidatorBalances(ctx context.Context, epoch uint64, snapshots []store.ValidatorBalanceSnapshot) error {
	f.balances = append(f.balances, snapshots...)
	return nil
}

func (f *fakeStore) SetFlag(ctx context.Context, epoch uint64, column string) error {
	e := f.epochs[epoch]
	switch column {
	case "validators_balances_fetched":
		e.ValidatorsBalancesFetched = true
	case "validators_activation_fetched":
		e.ValidatorsActivationFetched = true
	case "rewards_fetched":
		e.RewardsFetched = true
	case "committees_fetched":
		e.CommitteesFetched = true
	case "proposer_duties_fetched":
		e.ProposerDutiesFetched = true
	case "sync_committees_fetched":
		e.SyncCommitteesFetched = true
	case "slots_fetched":
		e.SlotsFetched = true
	}
	f.epochs[epoch] = e
	return nil
}

func (f *fakeStore) UpsertValidators(ctx context.Context, validators []store.Validator) error {
	for _, v := range validators {
		f.validators[v.ID] = v
	}
	return nil
}

func (f *fakeStore) AttestingValidatorIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	for id, v := range f.validators {
		if store.IsAttesting(v.Status) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) GetValidators(ctx context.Context, ids []uint64) ([]store.Validator, error) {
	var out []store.Validator
	for _, id := range ids {
		out = append(out, f.validators[id])
	}
	return out, nil
}

func (f *fakeStore) ApplyRewards(ctx context.Context, epoch uint64, datetime time.Time, records []store.RewardRecord) error {
	for _, r := range records {
		key := r.ValidatorID
		data := f.rewards[key]
		formatted := formatRewardRecordForTest(epoch, r)
		if hasEpochRecordForTest(data.EpochRewards, epoch) {
			continue
		}
		if data.EpochRewards == "" {
			data.EpochRewards = formatted
		} else {
			data.EpochRewards += "," + formatted
		}
		f.rewards[key] = data

		s := f.stats[key]
		s.CLRewards = addIntString(s.CLRewards, r.Actual.Sum())
		s.CLMissedRewards = addIntString(s.CLMissedRewards, r.Missed.Sum())
		f.stats[key] = s
	}
	e := f.epochs[epoch]
	e.RewardsFetched = true
	f.epochs[epoch] = e
	return nil
}

func (f *fakeStore) InsertSlotsAndCommittees(ctx context.Context, epoch uint64, committees []store.Committee, floor uint64) error {
	f.committees = append(f.committees, committees...)
	f.slotsByEpoch[epoch] = 32
	e := f.epochs[epoch]
	e.CommitteesFetched = true
	f.epochs[epoch] = e
	return nil
}

func (f *fakeStore) InsertProposerDuties(ctx context.Context, epoch uint64, duties []store.ProposerDuty) error {
	f.duties = append(f.duties, duties...)
	e := f.epochs[epoch]
	e.ProposerDutiesFetched = true
	f.epochs[epoch] = e
	return nil
}

func (f *fakeStore) SyncCommitteeCovering(ctx context.Context, epoch uint64) (store.SyncCommittee, bool, error) {
	for _, sc := range f.syncCommittees {
		if sc.FromEpoch <= epoch && epoch <= sc.ToEpoch {
			return sc, true, nil
		}
	}
	return store.SyncCommittee{}, false, nil
}

func (f *fakeStore) InsertSyncCommittee(ctx context.Context, epoch uint64, sc store.SyncCommittee) error {
	f.syncCommittees = append(f.syncCommittees, sc)
	e := f.epochs[epoch]
	e.SyncCommitteesFetched = true
	f.epochs[epoch] = e
	return nil
}

func (f *fakeStore) SetSyncCommitteesFetched(ctx context.Context, epoch uint64) error {
	e := f.epochs[epoch]
	e.SyncCommitteesFetched = true
	f.epochs[epoch] = e
	return nil
}

func (f *fakeStore) CountSlotsForEpoch(ctx context.Context, epoch uint64) (uint64, error) {
	return uint64(f.slotsByEpoch[epoch]), nil
}

type fakeBeacon struct{}

func (f *fakeBeacon) GetValidators(ctx context.Context, stateID string, ids []uint64, statuses []string) ([]beaconclient.ValidatorView, error) {
	return nil, nil
}
func (f *fakeBeacon) GetValidatorBalances(ctx context.Context, stateID string) ([]beaconclient.ValidatorBalance, error) {
	return nil, nil
}
func (f *fakeBeacon) GetAttestationRewards(ctx context.Context, epoch uint64, ids []uint64) (*beaconclient.AttestationRewards, error) {
	return &beaconclient.AttestationRewards{}, nil
}
func (f *fakeBeacon) GetCommittees(ctx context.Context, epoch uint64) ([]beaconclient.CommitteeEntry, error) {
	return nil, nil
}
func (f *fakeBeacon) GetValidatorProposerDuties(ctx context.Context, epoch uint64) ([]beaconclient.ProposerDutyEntry, error) {
	return nil, nil
}
func (f *fakeBeacon) GetSyncCommittees(ctx context.Context, periodStartEpoch uint64) (*beaconclient.SyncCommitteeView, error) {
	return &beaconclient.SyncCommitteeView{}, nil
}

func testOracle() *chaintime.Oracle {
	return chaintime.NewOracle(chaintime.Config{
		GenesisTimestamp:             1606824000,
		SlotDurationMs:               12000,
		SlotsPerEpoch:                32,
		EpochsPerSyncCommitteePeriod: 256,
		LookbackSlot:                 1_000_000,
	})
}

// Scenario 4: single-epoch rewards aggregation, clamped variant.
func TestFetchRewardsScenario4(t *testing.T) {
	const epoch = uint64(31250)
	fs := newFakeStore(epoch)
	fs.validators[1] = store.Validator{ID: 1, Status: store.StatusActiveOngoing, EffectiveBalance: "32000000000"}
	fs.validators[2] = store.Validator{ID: 2, Status: store.StatusActiveOngoing, EffectiveBalance: "32000000000"}

	beacon := &fakeBeaconWithRewards{
		ideal: []beaconclient.IdealReward{
			{EffectiveBalance: 32000000000, RewardComponents: beaconclient.RewardComponents{Head: 10, Target: 25, Source: 30, Inactivity: 0}},
		},
		total: []beaconclient.TotalReward{
			{ValidatorIndex: 1, RewardComponents: beaconclient.RewardComponents{Head: 10, Target: 20, Source: 30, Inactivity: 0}},
			{ValidatorIndex: 2, RewardComponents: beaconclient.RewardComponents{Head: 5, Target: 5, Source: 5, Inactivity: 5}},
		},
	}

	p := New(fs, beacon, testOracle())
	require.NoError(t, p.fetchRewards(context.Background(), epoch))

	require.Equal(t, "31250:10:20:30:0:0:5:0:0", fs.rewards[1].EpochRewards)
	require.Equal(t, "60", fs.stats[1].CLRewards)
	require.Equal(t, "5", fs.stats[1].CLMissedRewards)

	require.Equal(t, "31250:5:5:5:5:5:20:25:0", fs.rewards[2].EpochRewards)
	require.Equal(t, "20", fs.stats[2].CLRewards)
	require.Equal(t, "50", fs.stats[2].CLMissedRewards)
}

// Invariant 5 / scenario-adjacent: re-running fetchRewards for the same
// epoch must not duplicate the appended record.
func TestFetchRewardsIsIdempotent(t *testing.T) {
	const epoch = uint64(31250)
	fs := newFakeStore(epoch)
	fs.validators[1] = store.Validator{ID: 1, Status: store.StatusActiveOngoing, EffectiveBalance: "32000000000"}

	beacon := &fakeBeaconWithRewards{
		ideal: []beaconclient.IdealReward{
			{EffectiveBalance: 32000000000, RewardComponents: beaconclient.RewardComponents{Head: 10, Target: 25, Source: 30, Inactivity: 0}},
		},
		total: []beaconclient.TotalReward{
			{ValidatorIndex: 1, RewardComponents: beaconclient.RewardComponents{Head: 10, Target: 20, Source: 30, Inactivity: 0}},
		},
	}
	p := New(fs, beacon, testOracle())
	require.NoError(t, p.fetchRewards(context.Background(), epoch))
	require.NoError(t, p.fetchRewards(context.Background(), epoch))

	require.Equal(t, "31250:10:20:30:0:0:5:0:0", fs.rewards[1].EpochRewards)
	require.Equal(t, "60", fs.stats[1].CLRewards)
}

// Scenario 5: sync-committee reuse across consecutive epochs.
func TestFetchSyncCommitteesReuse(t *testing.T) {
	fs := newFakeStore(31250)
	fs.epochs[31251] = store.Epoch{Epoch: 31251}
	beacon := &fakeBeaconWithRewards{
		syncView: &beaconclient.SyncCommitteeView{Validators: []uint64{1, 2, 3}},
	}
	p := New(fs, beacon, testOracle())

	require.NoError(t, p.fetchSyncCommittees(context.Background(), 31250))
	require.Len(t, fs.syncCommittees, 1)
	require.Equal(t, uint64(1), beacon.syncCalls)

	require.NoError(t, p.fetchSyncCommittees(context.Background(), 31251))
	require.Len(t, fs.syncCommittees, 1) // no new row
	require.Equal(t, uint64(1), beacon.syncCalls) // no new HTTP call
	require.True(t, fs.epochs[31251].SyncCommitteesFetched)
}

// Scenario 6: crash-between-steps resume. Epoch enters with
// rewardsFetched already true; Run must skip fetchRewards and continue.
func TestRunResumesAfterCrash(t *testing.T) {
	const epoch = uint64(31250)
	fs := newFakeStore(epoch)
	e := fs.epochs[epoch]
	e.ValidatorsBalancesFetched = true
	e.ValidatorsActivationFetched = true
	e.RewardsFetched = true
	fs.epochs[epoch] = e

	beacon := &fakeBeaconWithRewards{
		committees: []beaconclient.CommitteeEntry{{Slot: epoch * 32, Index: 0, Validators: []uint64{1}}},
		duties:     []beaconclient.ProposerDutyEntry{{Slot: epoch * 32, ValidatorIndex: 1}},
		syncView:   &beaconclient.SyncCommitteeView{Validators: []uint64{1}},
	}
	p := New(fs, beacon, testOracle())
	result := p.Run(context.Background(), epoch)

	require.False(t, result.Failed)
	require.True(t, fs.epochs[epoch].CommitteesFetched)
	require.True(t, fs.epochs[epoch].ProposerDutiesFetched)
	require.True(t, fs.epochs[epoch].SyncCommitteesFetched)
	require.True(t, fs.epochs[epoch].SlotsFetched)
	require.Equal(t, uint64(0), beacon.rewardsCalls, "fetchRewards must be skipped when already done")
}

// fakeBeaconWithRewards extends fakeBeacon with per-test canned responses.
type fakeBeaconWithRewards struct {
	fakeBeacon
	ideal      []beaconclient.IdealReward
	total      []beaconclient.TotalReward
	syncView   *beaconclient.SyncCommitteeView
	committees []beaconclient.CommitteeEntry
	duties     []beaconclient.ProposerDutyEntry
	syncCalls    uint64
	rewardsCalls uint64
}

func (f *fakeBeaconWithRewards) GetAttestationRewards(ctx context.Context, epoch uint64, ids []uint64) (*beaconclient.AttestationRewards, error) {
	f.rewardsCalls++
	return &beaconclient.AttestationRewards{IdealRewards: f.ideal, TotalRewards: f.total}, nil
}

func (f *fakeBeaconWithRewards) GetSyncCommittees(ctx context.Context, periodStartEpoch uint64) (*beaconclient.SyncCommitteeView, error) {
	f.syncCalls++
	return f.syncView, nil
}

func (f *fakeBeaconWithRewards) GetCommittees(ctx context.Context, epoch uint64) ([]beaconclient.CommitteeEntry, error) {
	return f.committees, nil
}

func (f *fakeBeaconWithRewards) GetValidatorProposerDuties(ctx context.Context, epoch uint64) ([]beaconclient.ProposerDutyEntry, error) {
	return f.duties, nil
}

// The helpers below reproduce just enough of store.ApplyRewards'
// formatting/dedup/accumulation behavior for fakeStore to exercise
// without depending on store's unexported internals.

func formatRewardRecordForTest(epoch uint64, r store.RewardRecord) string {
	return fmt.Sprintf("%d:%d:%d:%d:%d:%d:%d:%d:%d",
		epoch, r.Actual.Head, r.Actual.Target, r.Actual.Source, r.Actual.Inactivity,
		r.Missed.Head, r.Missed.Target, r.Missed.Source, r.Missed.Inactivity)
}

func hasEpochRecordForTest(data string, epoch uint64) bool {
	if data == "" {
		return false
	}
	prefix := strconv.FormatUint(epoch, 10) + ":"
	for _, rec := range strings.Split(data, ",") {
		if strings.HasPrefix(rec, prefix) {
			return true
		}
	}
	return false
}

func addIntString(a string, b int64) string {
	if a == "" {
		return strconv.FormatInt(b, 10)
	}
	n, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return a
	}
	return strconv.FormatInt(n+b, 10)
}
