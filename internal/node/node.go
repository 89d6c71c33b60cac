// Package node wires the indexer's components together into a single
// process, modeled on the teacher's beacon-chain/node package: a struct
// that owns a fixed set of Service implementations (Start() / Stop()
// error / Status() error) and starts/stops them as a unit.
package node

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nodesentinel/beacon-indexer/internal/beaconclient"
	"github.com/nodesentinel/beacon-indexer/internal/chaintime"
	"github.com/nodesentinel/beacon-indexer/internal/config"
	"github.com/nodesentinel/beacon-indexer/internal/creator"
	"github.com/nodesentinel/beacon-indexer/internal/orchestrator"
	"github.com/nodesentinel/beacon-indexer/internal/processor"
	"github.com/nodesentinel/beacon-indexer/internal/store"
)

var log = logrus.WithField("prefix", "node")

// Service is the lifecycle contract every component of the indexer
// satisfies, mirroring the teacher's beacon-chain service convention
// (e.g. archiver.Service).
type Service interface {
	Start()
	Stop() error
	Status() error
}

// BeaconIndexer composes the Time Oracle, Beacon Client, Persistence
// Layer, Epoch Creator Loop and Epoch Orchestrator+Processor into one
// running process.
type BeaconIndexer struct {
	cfg    *config.Config
	store  *store.Store
	oracle *chaintime.Oracle

	services []Service
}

// New constructs a BeaconIndexer from cfg. It opens the store connection
// and wires every component but does not start any loops; call Start for
// that.
func New(cfg *config.Config) (*BeaconIndexer, error) {
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	oracle := chaintime.NewOracle(chaintime.Config{
		GenesisTimestamp:             cfg.Chain.GenesisTimestamp,
		SlotDurationMs:               cfg.Chain.SlotDurationSeconds * 1000,
		SlotsPerEpoch:                cfg.Chain.SlotsPerEpoch,
		EpochsPerSyncCommitteePeriod: cfg.Chain.EpochsPerSyncCommitteePeriod,
		LookbackSlot:                 cfg.LookbackSlot,
	})

	beacon := beaconclient.NewClient(cfg, oracle)

	creatorSvc := creator.NewService(context.Background(), st, oracle)
	proc := processor.New(st, beacon, oracle)
	orchestratorSvc := orchestrator.NewService(context.Background(), st, proc, oracle)

	return &BeaconIndexer{
		cfg:      cfg,
		store:    st,
		oracle:   oracle,
		services: []Service{creatorSvc, orchestratorSvc},
	}, nil
}

// Start launches every component's control loop.
func (n *BeaconIndexer) Start() {
	for _, svc := range n.services {
		svc.Start()
	}
}

// Stop signals every component to shut down and closes the store
// connection pool last, so in-flight transactions can still complete
// against it.
func (n *BeaconIndexer) Stop() error {
	for _, svc := range n.services {
		if err := svc.Stop(); err != nil {
			log.WithError(err).Warn("service did not stop cleanly")
		}
	}
	return n.store.Close()
}

// Status reports the first unhealthy component, or nil if all are
// healthy.
func (n *BeaconIndexer) Status() error {
	for _, svc := range n.services {
		if err := svc.Status(); err != nil {
			return err
		}
	}
	return nil
}
