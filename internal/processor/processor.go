// Package processor implements the Epoch Processor of spec.md §4.4: a
// hierarchical state machine that drives one epoch row through every
// fetch/aggregate step to completion. Following DESIGN NOTES §9's
// direction ("explicit tagged states + child supervisor" rather than an
// actor library), each state is a named step function; the machine itself
// is the ordered loop in Run.
package processor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodesentinel/beacon-indexer/internal/beaconclient"
	"github.com/nodesentinel/beacon-indexer/internal/chaintime"
	"github.com/nodesentinel/beacon-indexer/internal/store"
)

var log = logrus.WithField("prefix", "processor")

// MaxStepRetries bounds the attempts made at each step (the first run
// included) before the processor gives up on the epoch and enters the
// failed terminal state (spec.md §4.4).
const MaxStepRetries = 3

// Store is the subset of the Persistence Layer the Processor needs.
type Store interface {
	GetEpoch(ctx context.Context, epoch uint64) (store.Epoch, error)
	InsertValidatorBalances(ctx context.Context, epoch uint64, snapshots []store.ValidatorBalanceSnapshot) error
	SetFlag(ctx context.Context, epoch uint64, column string) error
	UpsertValidators(ctx context.Context, validators []store.Validator) error
	AttestingValidatorIDs(ctx context.Context) ([]uint64, error)
	GetValidators(ctx context.Context, ids []uint64) ([]store.Validator, error)
	ApplyRewards(ctx context.Context, epoch uint64, datetime time.Time, records []store.RewardRecord) error
	InsertSlotsAndCommittees(ctx context.Context, epoch uint64, committees []store.Committee, floor uint64) error
	InsertProposerDuties(ctx context.Context, epoch uint64, duties []store.ProposerDuty) error
	SyncCommitteeCovering(ctx context.Context, epoch uint64) (store.SyncCommittee, bool, error)
	InsertSyncCommittee(ctx context.Context, epoch uint64, sc store.SyncCommittee) error
	SetSyncCommitteesFetched(ctx context.Context, epoch uint64) error
	CountSlotsForEpoch(ctx context.Context, epoch uint64) (uint64, error)
}

// BeaconClient is the subset of the Beacon Client the Processor needs.
type BeaconClient interface {
	GetValidators(ctx context.Context, stateID string, ids []uint64, statuses []string) ([]beaconclient.ValidatorView, error)
	GetValidatorBalances(ctx context.Context, stateID string) ([]beaconclient.ValidatorBalance, error)
	GetAttestationRewards(ctx context.Context, epoch uint64, ids []uint64) (*beaconclient.AttestationRewards, error)
	GetCommittees(ctx context.Context, epoch uint64) ([]beaconclient.CommitteeEntry, error)
	GetValidatorProposerDuties(ctx context.Context, epoch uint64) ([]beaconclient.ProposerDutyEntry, error)
	GetSyncCommittees(ctx context.Context, periodStartEpoch uint64) (*beaconclient.SyncCommitteeView, error)
}

// Processor drives a single epoch row to completion.
type Processor struct {
	store  Store
	beacon BeaconClient
	oracle *chaintime.Oracle
}

// New constructs a Processor bound to store, beacon and oracle.
func New(store Store, beacon BeaconClient, oracle *chaintime.Oracle) *Processor {
	return &Processor{store: store, beacon: beacon, oracle: oracle}
}

// Result is what Run reports back to the Orchestrator: the
// EPOCH_COMPLETED signal of spec.md §4.4, carrying whether the epoch
// reached the `done` state or the `failed` terminal.
type Result struct {
	Epoch  uint64
	Failed bool
	Step   string // name of the step that failed, empty if Failed is false
}

// step is one row of the state table in spec.md §4.4 / SPEC_FULL.md's
// seven-step extension: a name, a guard that reports whether the step is
// already done, and the action to run otherwise.
type step struct {
	name  string
	guard func(store.Epoch) bool
	run   func(ctx context.Context, epoch uint64) error
}

func (p *Processor) steps() []step {
	return []step{
		{"fetchValidatorsBalances", func(e store.Epoch) bool { return e.ValidatorsBalancesFetched }, p.fetchValidatorsBalances},
		{"fetchValidatorsActivation", func(e store.Epoch) bool { return e.ValidatorsActivationFetched }, p.fetchValidatorsActivation},
		{"fetchRewards", func(e store.Epoch) bool { return e.RewardsFetched }, p.fetchRewards},
		{"fetchCommittees", func(e store.Epoch) bool { return e.CommitteesFetched }, p.fetchCommittees},
		{"fetchProposerDuties", func(e store.Epoch) bool { return e.ProposerDutiesFetched }, p.fetchProposerDuties},
		{"fetchSyncCommittees", func(e store.Epoch) bool { return e.SyncCommitteesFetched }, p.fetchSyncCommittees},
		{"waitSlotsFetched", func(e store.Epoch) bool { return e.SlotsFetched }, p.waitSlotsFetched},
	}
}

// Run drives epoch through every not-yet-true step, in order, running
// each step at most MaxStepRetries times (with a one-slot delay between
// attempts) before transitioning to the failed terminal — which still
// reports completion so the Orchestrator advances, per spec.md §4.4.
func (p *Processor) Run(ctx context.Context, epoch uint64) Result {
	slotDelay := time.Duration(p.oracle.SlotDuration()) * time.Millisecond

	for _, st := range p.steps() {
		current, err := p.store.GetEpoch(ctx, epoch)
		if err != nil {
			log.WithError(err).WithField("epoch", epoch).Error("could not read epoch row")
			return Result{Epoch: epoch, Failed: true, Step: st.name}
		}
		if st.guard(current) {
			continue // AlreadyDone: not an error, step is skipped (spec.md §7).
		}

		var stepErr error
		for attempt := 0; attempt < MaxStepRetries; attempt++ {
			stepErr = st.run(ctx, epoch)
			if stepErr == nil {
				break
			}
			log.WithError(stepErr).WithFields(logrus.Fields{"epoch": epoch, "step": st.name, "attempt": attempt + 1}).
				Warn("processor step failed, retrying")
			if attempt < MaxStepRetries-1 {
				select {
				case <-time.After(slotDelay):
				case <-ctx.Done():
					return Result{Epoch: epoch, Failed: true, Step: st.name}
				}
			}
		}
		if stepErr != nil {
			return Result{Epoch: epoch, Failed: true, Step: st.name}
		}
	}

	return Result{Epoch: epoch}
}
