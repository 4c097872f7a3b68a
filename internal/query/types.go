package query

import "github.com/google/uuid"

// uint64 quantities are JSON strings so clients keep the full range.

// GovernanceResponse is the governance record as projected.
type GovernanceResponse struct {
	Address             uuid.UUID `json:"address"`
	Authority           uuid.UUID `json:"authority"`
	CollateralRatio     uint64    `json:"collateral_ratio,string"`
	RatioScale          uint64    `json:"ratio_scale,string"`
	Paused              bool      `json:"paused"`
	LiquidationBonusBps uint64    `json:"liquidation_bonus_bps"`
	MintFeeBps          uint64    `json:"mint_fee_bps"`
	Version             uint64    `json:"version"`
	UpdatedAt           int64     `json:"updated_at"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// PositionResponse is a projected position plus values derived at query
// time from the current price. Derived fields are absent when no price is
// known.
type PositionResponse struct {
	Owner               uuid.UUID `json:"owner"`
	Address             uuid.UUID `json:"address"`
	CollateralDeposited uint64    `json:"collateral_deposited,string"`
	StablecoinMinted    uint64    `json:"stablecoin_minted,string"`
	LastMintTs          int64     `json:"last_mint_ts"`
	LastLiquidationTs   int64     `json:"last_liquidation_ts"`
	Status              string    `json:"status"`
	Version             uint64    `json:"version"`
	AsOfSequence        int64     `json:"as_of_sequence"`

	Price                  *uint64 `json:"price,omitempty,string"`
	Health                 string  `json:"health,omitempty"`
	CollateralizationRatio *uint64 `json:"collateralization_ratio,omitempty,string"`
	MaxMintable            *uint64 `json:"max_mintable,omitempty,string"`
}

// AccountBalance is one token account.
type AccountBalance struct {
	AccountPath string `json:"account_path"`
	Asset       string `json:"asset"`
	Balance     int64  `json:"balance"`
}

// BalancesResponse lists an owner's vault and wallet accounts.
type BalancesResponse struct {
	Owner        uuid.UUID        `json:"owner"`
	Accounts     []AccountBalance `json:"accounts"`
	AsOfSequence int64            `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// LiquidationEntry is one partial liquidation.
type LiquidationEntry struct {
	Sequence         int64     `json:"sequence"`
	Owner            uuid.UUID `json:"owner"`
	Liquidator       uuid.UUID `json:"liquidator"`
	DebtRepaid       uint64    `json:"debt_repaid,string"`
	CollateralSeized uint64    `json:"collateral_seized,string"`
	Price            uint64    `json:"price,string"`
	DebtAfter        uint64    `json:"debt_after,string"`
	CollateralAfter  uint64    `json:"collateral_after,string"`
	Timestamp        int64     `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy         bool              `json:"is_healthy"`
	LatestSequence    int64             `json:"latest_sequence"`
	ProjectedSequence int64             `json:"projected_sequence"`
	HashChainBreaks   []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets  []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	NegativeAccounts  []string          `json:"negative_accounts,omitempty"`
	VaultMismatches   []uuid.UUID       `json:"vault_mismatches,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
