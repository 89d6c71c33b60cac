// Package chaintime implements the pure slot/epoch/timestamp arithmetic
// shared by every other component of the indexer. It performs no I/O and
// holds no mutable state; every operation is a total function of its
// config and arguments.
package chaintime

import "github.com/pkg/errors"

// ErrInvalidTime is returned for negative slots/epochs or timestamps
// earlier than genesis. Reaching the loop boundary with this error is a
// programmer error and should be treated as fatal at startup.
var ErrInvalidTime = errors.New("chaintime: negative input or timestamp before genesis")

// Config parameterizes every operation in this package. It is immutable
// once constructed.
type Config struct {
	// GenesisTimestamp is the chain's genesis time, in whole seconds
	// since the Unix epoch.
	GenesisTimestamp int64
	// SlotDurationMs is the wall-clock duration of one slot, in
	// milliseconds.
	SlotDurationMs int64
	// SlotsPerEpoch is the number of slots in one epoch (32 for both
	// Ethereum and Gnosis).
	SlotsPerEpoch uint64
	// EpochsPerSyncCommitteePeriod is the number of epochs covered by
	// one sync committee (256 for both target chains).
	EpochsPerSyncCommitteePeriod uint64
	// LookbackSlot is the configured floor below which no epoch is
	// created (CONSENSUS_LOOKBACK_SLOT).
	LookbackSlot uint64
}

// Oracle exposes the slot/epoch/timestamp arithmetic of §4.1 bound to a
// single Config.
type Oracle struct {
	cfg Config
}

// NewOracle constructs an Oracle from cfg.
func NewOracle(cfg Config) *Oracle {
	return &Oracle{cfg: cfg}
}

func (o *Oracle) genesisMs() int64 {
	return o.cfg.GenesisTimestamp * 1000
}

// SlotFromTimestamp returns the slot active at the given millisecond
// Unix timestamp.
func (o *Oracle) SlotFromTimestamp(ms int64) (uint64, error) {
	if ms < o.genesisMs() {
		return 0, ErrInvalidTime
	}
	return uint64((ms - o.genesisMs()) / o.cfg.SlotDurationMs), nil
}

// TimestampFromSlot returns the millisecond Unix timestamp at which slot
// begins.
func (o *Oracle) TimestampFromSlot(slot uint64) int64 {
	return o.genesisMs() + int64(slot)*o.cfg.SlotDurationMs
}

// EpochFromSlot returns the epoch containing slot.
func (o *Oracle) EpochFromSlot(slot uint64) uint64 {
	return slot / o.cfg.SlotsPerEpoch
}

// EpochFromTimestamp returns the epoch active at the given millisecond
// Unix timestamp.
func (o *Oracle) EpochFromTimestamp(ms int64) (uint64, error) {
	slot, err := o.SlotFromTimestamp(ms)
	if err != nil {
		return 0, err
	}
	return o.EpochFromSlot(slot), nil
}

// TimestampFromEpoch returns the millisecond Unix timestamp at which
// epoch begins.
func (o *Oracle) TimestampFromEpoch(epoch uint64) int64 {
	return o.genesisMs() + int64(epoch*o.cfg.SlotsPerEpoch)*o.cfg.SlotDurationMs
}

// EpochSlots returns the inclusive [start, end] slot range of epoch.
func (o *Oracle) EpochSlots(epoch uint64) (start, end uint64) {
	start = epoch * o.cfg.SlotsPerEpoch
	end = start + o.cfg.SlotsPerEpoch - 1
	return start, end
}

// SyncCommitteePeriodStart returns the first epoch of the sync-committee
// period containing epoch. Idempotent: any two epochs in the same
// EpochsPerSyncCommitteePeriod window return the same value.
func (o *Oracle) SyncCommitteePeriodStart(epoch uint64) uint64 {
	return epoch / o.cfg.EpochsPerSyncCommitteePeriod * o.cfg.EpochsPerSyncCommitteePeriod
}

// SlotStartIndexing returns the configured floor below which no epoch is
// created.
func (o *Oracle) SlotStartIndexing() uint64 {
	return o.cfg.LookbackSlot
}

// SlotDuration returns the configured slot duration, for callers that
// need to schedule work on a slot cadence (the Creator and Orchestrator
// loops).
func (o *Oracle) SlotDuration() int64 {
	return o.cfg.SlotDurationMs
}
