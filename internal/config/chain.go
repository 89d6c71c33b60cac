// Package config defines the static per-chain parameters and the
// environment-driven runtime configuration for the indexer, modeled on
// the teacher's shared/params network configs.
package config

import "github.com/pkg/errors"

// Chain identifies which beacon chain the indexer targets.
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainGnosis   Chain = "gnosis"
)

// ChainConfig holds the static constants of §6 that are identical across
// both target chains except where noted.
type ChainConfig struct {
	Chain                        Chain
	GenesisTimestamp             int64 // seconds since Unix epoch
	ChainID                      uint64
	SlotDurationSeconds          int64
	SlotsPerEpoch                uint64
	EpochsPerSyncCommitteePeriod uint64
	ApiRequestPerSecond          int
	MaxAttestationDelay          int
	DelaySlotsToHead             int
}

var ethereumConfig = ChainConfig{
	Chain:                        ChainEthereum,
	GenesisTimestamp:             1606824000,
	ChainID:                      1,
	SlotDurationSeconds:          12,
	SlotsPerEpoch:                32,
	EpochsPerSyncCommitteePeriod: 256,
	ApiRequestPerSecond:          10,
	MaxAttestationDelay:          2,
	DelaySlotsToHead:             2,
}

var gnosisConfig = ChainConfig{
	Chain:                        ChainGnosis,
	GenesisTimestamp:             1638993340,
	ChainID:                      100,
	SlotDurationSeconds:          12,
	SlotsPerEpoch:                32,
	EpochsPerSyncCommitteePeriod: 256,
	ApiRequestPerSecond:          10,
	MaxAttestationDelay:          2,
	DelaySlotsToHead:             2,
}

// ErrUnknownChain is returned by ChainConfigFor for any value other than
// "ethereum" or "gnosis".
var ErrUnknownChain = errors.New("config: unknown chain")

// ChainConfigFor returns the static configuration for chain.
func ChainConfigFor(chain Chain) (ChainConfig, error) {
	switch chain {
	case ChainEthereum:
		return ethereumConfig, nil
	case ChainGnosis:
		return gnosisConfig, nil
	default:
		return ChainConfig{}, errors.Wrapf(ErrUnknownChain, "chain %q", chain)
	}
}
