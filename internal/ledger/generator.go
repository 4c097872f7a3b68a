package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// journalNamespace roots batch and journal IDs so a replayed instruction
// produces byte-identical journals.
var journalNamespace = uuid.MustParse("0b7d3c55-8a21-5f4e-b6c9-3e1a7d2f9c40")

// leg is one transfer inside a batch under construction.
type leg struct {
	debit       AccountKey
	credit      AccountKey
	assetID     AssetID
	amount      int64
	journalType JournalType
}

// JournalGenerator creates balanced journal batches for the token
// transfers each instruction authorizes.
type JournalGenerator struct {
	balanceTracker *BalanceTracker // for funding pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// BatchID derives the batch identifier for an instruction.
func BatchID(eventRef string) uuid.UUID {
	return uuid.NewSHA1(journalNamespace, []byte("batch:"+eventRef))
}

func (jg *JournalGenerator) build(eventRef string, sequence, timestamp int64, legs []leg) *Batch {
	batchID := BatchID(eventRef)
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}

	for i, l := range legs {
		// Zero-amount legs (a fee of 0, a seizure rounded to 0) are omitted.
		if l.amount == 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.NewSHA1(batchID, []byte(strconv.Itoa(i))),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      sequence,
			DebitAccount:  l.debit,
			CreditAccount: l.credit,
			AssetID:       l.assetID,
			Amount:        l.amount,
			JournalType:   l.journalType,
			Timestamp:     timestamp,
		})
	}
	return batch
}

// Empty returns a batch with no journals for record-only instructions.
func (jg *JournalGenerator) Empty(eventRef string, sequence, timestamp int64) *Batch {
	return jg.build(eventRef, sequence, timestamp, nil)
}

// GenerateDeposit moves collateral: external:deposits → user:vault
func (jg *JournalGenerator) GenerateDeposit(owner uuid.UUID, amount int64, eventRef string, sequence, timestamp int64) *Batch {
	return jg.build(eventRef, sequence, timestamp, []leg{{
		debit:       VaultKey(owner),
		credit:      NewExternalAccountKey(SubTypeExternalDeposits, AssetCollateral),
		assetID:     AssetCollateral,
		amount:      amount,
		journalType: JournalTypeDeposit,
	}})
}

// GenerateWithdrawal moves collateral: user:vault → external:withdrawals
func (jg *JournalGenerator) GenerateWithdrawal(owner uuid.UUID, amount int64, eventRef string, sequence, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(VaultKey(owner), amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}
	return jg.build(eventRef, sequence, timestamp, []leg{{
		debit:       NewExternalAccountKey(SubTypeExternalWithdrawals, AssetCollateral),
		credit:      VaultKey(owner),
		assetID:     AssetCollateral,
		amount:      amount,
		journalType: JournalTypeWithdrawal,
	}}), nil
}

// GenerateMint issues stablecoin: system:issuance → user:wallet, plus the
// optional fee leg system:issuance → system:treasury.
func (jg *JournalGenerator) GenerateMint(owner uuid.UUID, userAmount, feeAmount int64, eventRef string, sequence, timestamp int64) *Batch {
	issuance := NewSystemAccountKey(SubTypeSystemIssuance, AssetStablecoin)
	return jg.build(eventRef, sequence, timestamp, []leg{
		{
			debit:       WalletKey(owner, AssetStablecoin),
			credit:      issuance,
			assetID:     AssetStablecoin,
			amount:      userAmount,
			journalType: JournalTypeMint,
		},
		{
			debit:       NewSystemAccountKey(SubTypeSystemTreasury, AssetStablecoin),
			credit:      issuance,
			assetID:     AssetStablecoin,
			amount:      feeAmount,
			journalType: JournalTypeMintFee,
		},
	})
}

// GenerateBurn retires stablecoin: user:wallet → system:issuance
func (jg *JournalGenerator) GenerateBurn(owner uuid.UUID, amount int64, eventRef string, sequence, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(WalletKey(owner, AssetStablecoin), amount); err != nil {
		return nil, fmt.Errorf("burn pre-check failed: %w", err)
	}
	return jg.build(eventRef, sequence, timestamp, []leg{{
		debit:       NewSystemAccountKey(SubTypeSystemIssuance, AssetStablecoin),
		credit:      WalletKey(owner, AssetStablecoin),
		assetID:     AssetStablecoin,
		amount:      amount,
		journalType: JournalTypeBurn,
	}}), nil
}

// GenerateLiquidation pays seized collateral: owner vault → liquidator wallet
func (jg *JournalGenerator) GenerateLiquidation(owner, liquidator uuid.UUID, seized int64, eventRef string, sequence, timestamp int64) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficient(VaultKey(owner), seized); err != nil {
		return nil, fmt.Errorf("liquidation pre-check failed: %w", err)
	}
	return jg.build(eventRef, sequence, timestamp, []leg{{
		debit:       WalletKey(liquidator, AssetCollateral),
		credit:      VaultKey(owner),
		assetID:     AssetCollateral,
		amount:      seized,
		journalType: JournalTypeLiquidationSeize,
	}}), nil
}
