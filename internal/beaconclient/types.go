package beaconclient

// ValidatorView mirrors one entry of GET .../states/{stateId}/validators.
type ValidatorView struct {
	Index     uint64 `json:"index,string"`
	Status    string `json:"status"`
	Validator struct {
		WithdrawalCredentials string `json:"withdrawal_credentials"`
		EffectiveBalance      string `json:"effective_balance"`
	} `json:"validator"`
	Balance string `json:"balance"`
}

// ValidatorBalance mirrors one entry of GET .../validator_balances.
type ValidatorBalance struct {
	Index   uint64 `json:"index,string"`
	Balance string `json:"balance"`
}

// RewardComponents holds the four attestation-reward components the
// beacon node reports, each as a signed decimal string.
type RewardComponents struct {
	Head        int64 `json:"head,string"`
	Target      int64 `json:"target,string"`
	Source      int64 `json:"source,string"`
	Inactivity  int64 `json:"inactivity,string"`
}

// IdealReward is one entry of attestation-rewards' ideal_rewards list,
// keyed by effective balance.
type IdealReward struct {
	EffectiveBalance uint64 `json:"effective_balance,string"`
	RewardComponents
}

// TotalReward is one entry of attestation-rewards' total_rewards list,
// the actual amounts earned by one validator.
type TotalReward struct {
	ValidatorIndex uint64 `json:"validator_index,string"`
	RewardComponents
}

// AttestationRewards is the decoded response body of
// POST /eth/v1/beacon/rewards/attestations/{epoch}.
type AttestationRewards struct {
	IdealRewards []IdealReward `json:"ideal_rewards"`
	TotalRewards []TotalReward `json:"total_rewards"`
}

// CommitteeEntry is one entry of GET .../states/{stateId}/committees.
type CommitteeEntry struct {
	Slot           uint64   `json:"slot,string"`
	Index          uint64   `json:"index,string"`
	Validators     []uint64 `json:"-"`
	ValidatorsRaw  []string `json:"validators"`
}

// ProposerDutyEntry is one entry of GET /eth/v1/validator/duties/proposer/{epoch}.
type ProposerDutyEntry struct {
	Slot           uint64 `json:"slot,string"`
	ValidatorIndex uint64 `json:"validator_index,string"`
}

// SyncCommitteeView is the decoded response of
// GET .../states/{stateId}/sync_committees.
type SyncCommitteeView struct {
	Validators []uint64 `json:"-"`
	ValidatorsRaw []string `json:"validators"`
}
