// Package orchestrator implements the Epoch Orchestrator of spec.md
// §4.5: a single-actor coordinator that selects the next epoch to
// process and spawns at most one child Processor at a time. Modeled on
// the teacher's archiver/service.go subscriber select-loop, generalized
// from a pub/sub feed to an explicit completion channel from the
// spawned processor goroutine.
package orchestrator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nodesentinel/beacon-indexer/internal/chaintime"
	"github.com/nodesentinel/beacon-indexer/internal/processor"
	"github.com/nodesentinel/beacon-indexer/internal/store"
)

var log = logrus.WithField("prefix", "orchestrator")

var (
	currentEpochGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_current_epoch",
		Help: "Epoch currently being processed, or the last one processed if idle.",
	})
	completionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_completions_total",
		Help: "Total number of epochs for which EPOCH_COMPLETED was emitted.",
	})
)

func init() {
	prometheus.MustRegister(currentEpochGauge, completionsTotal)
}

// state is the Orchestrator's own tagged state, per DESIGN NOTES §9's
// direction to model hierarchical state machines as explicit typed
// values rather than with an actor library.
type state int

const (
	stateGettingMinEpoch state = iota
	stateCheckingIfCanSpawn
	stateProcessing
	stateNoMinEpoch
)

// Store is the subset of the Persistence Layer the Orchestrator needs.
type Store interface {
	MinUnprocessed(ctx context.Context) (store.Epoch, bool, error)
}

// Processor is the minimal shape of the Epoch Processor the Orchestrator
// spawns as its single child. It is run synchronously inside a goroutine
// the Orchestrator owns for the lifetime of the `processing` state.
type Processor interface {
	Run(ctx context.Context, epoch uint64) processor.Result
}

// Service runs the Epoch Orchestrator loop.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	store     Store
	processor Processor
	oracle    *chaintime.Oracle
}

// NewService constructs an Orchestrator bound to store, processor and
// oracle.
func NewService(ctx context.Context, store Store, processor Processor, oracle *chaintime.Oracle) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		store:     store,
		processor: processor,
		oracle:    oracle,
	}
}

// Start the orchestrator loop.
func (s *Service) Start() {
	go s.run()
}

// Stop signals the loop to exit, waiting for any in-flight processor run
// to finish its current step before returning (spec.md §5's cancellation
// contract: finish the in-flight transaction, then exit).
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
	st := stateGettingMinEpoch
	var current store.Epoch

	for {
		if s.ctx.Err() != nil {
			return
		}
		switch st {
		case stateGettingMinEpoch:
			epoch, ok, err := s.store.MinUnprocessed(s.ctx)
			if err != nil {
				log.WithError(err).Warn("could not query minimum unprocessed epoch")
				st = stateNoMinEpoch
				continue
			}
			if !ok {
				st = stateNoMinEpoch
				continue
			}
			current = epoch
			st = stateCheckingIfCanSpawn

		case stateCheckingIfCanSpawn:
			// Exactly one child Processor is ever spawned here: the
			// Orchestrator is single-threaded and does not advance past
			// stateProcessing until the spawned run reports completion.
			st = stateProcessing

		case stateProcessing:
			currentEpochGauge.Set(float64(current.Epoch))
			result := s.runChild(current.Epoch)
			completionsTotal.Inc()
			if result.Failed {
				log.WithFields(logrus.Fields{"epoch": result.Epoch, "step": result.Step}).
					Warn("epoch processing failed, will retry from its first incomplete flag")
			} else {
				log.WithField("epoch", result.Epoch).Info("epoch completed")
			}
			st = stateGettingMinEpoch

		case stateNoMinEpoch:
			sleep := time.Duration(s.oracle.SlotDuration()/3) * time.Millisecond
			select {
			case <-time.After(sleep):
			case <-s.ctx.Done():
				return
			}
			st = stateGettingMinEpoch
		}
	}
}

// runChild spawns the Processor in a goroutine and waits for its
// EPOCH_COMPLETED signal, the one point where the Orchestrator has a
// live child.
func (s *Service) runChild(epoch uint64) processor.Result {
	done := make(chan processor.Result, 1)
	go func() {
		done <- s.processor.Run(s.ctx, epoch)
	}()
	select {
	case r := <-done:
		return r
	case <-s.ctx.Done():
		// Let the in-flight transaction finish; the result still arrives
		// on done, but Stop() only waits on s.done, not this value, so we
		// drain it without blocking shutdown further.
		return <-done
	}
}
