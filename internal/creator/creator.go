// Package creator implements the Epoch Creator Loop of spec.md §4.3: a
// long-lived control loop that keeps a bounded window of unprocessed
// epoch rows in the store. Modeled on the teacher's
// beacon-chain/utils/slot_ticker.go (genesis-aligned ticking) composed
// with the Service lifecycle convention of archiver/service.go.
package creator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodesentinel/beacon-indexer/internal/chaintime"
)

var log = logrus.WithField("prefix", "creator")

// MaxUnprocessedEpochs is the bounded backlog size of spec.md §4.3.
const MaxUnprocessedEpochs = 5

// Store is the subset of the Persistence Layer the Creator needs.
type Store interface {
	MaxEpoch(ctx context.Context) (epoch uint64, ok bool, err error)
	CountUnprocessed(ctx context.Context) (uint64, error)
	InsertEpochs(ctx context.Context, start uint64, count uint64) error
}

// Service runs the Epoch Creator Loop.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	store  Store
	oracle *chaintime.Oracle
}

// NewService constructs a Creator bound to store and oracle.
func NewService(ctx context.Context, store Store, oracle *chaintime.Oracle) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		store:  store,
		oracle: oracle,
	}
}

// Start the creator loop.
func (s *Service) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (s *Service) Stop() error {
	s.cancel()
	<-s.done
	return nil
}

// Status reports the service's health. Returning nil means the loop is
// running normally.
func (s *Service) Status() error {
	return nil
}

func (s *Service) run() {
	defer close(s.done)
	slotDuration := time.Duration(s.oracle.SlotDuration()) * time.Millisecond
	for {
		if err := s.pass(s.ctx); err != nil {
			// Creator errors never surface (spec.md §7): logged and
			// swallowed so the loop is self-healing.
			log.WithError(err).Warn("creator pass failed")
		}
		select {
		case <-time.After(slotDuration):
		case <-s.ctx.Done():
			return
		}
	}
}

// pass runs one iteration of the algorithm in spec.md §4.3.
func (s *Service) pass(ctx context.Context) error {
	lastEpoch, hasLast, err := s.store.MaxEpoch(ctx)
	if err != nil {
		return err
	}
	unprocessed, err := s.store.CountUnprocessed(ctx)
	if err != nil {
		return err
	}

	var need uint64
	if unprocessed < MaxUnprocessedEpochs {
		need = MaxUnprocessedEpochs - unprocessed
	}
	if need == 0 {
		return nil
	}

	var startEpoch uint64
	if hasLast {
		startEpoch = lastEpoch + 1
	} else {
		startEpoch = s.oracle.EpochFromSlot(s.oracle.SlotStartIndexing())
	}

	if err := s.store.InsertEpochs(ctx, startEpoch, need); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"start": startEpoch, "count": need}).Debug("inserted epoch rows")
	return nil
}
